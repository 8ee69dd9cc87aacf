package scheduler

import (
	"math/rand"
	"testing"
	"time"

	"github.com/mvillar24/csopesy-emulator/internal/config"
	"github.com/mvillar24/csopesy-emulator/internal/interp"
	"github.com/mvillar24/csopesy-emulator/internal/memory"
	"github.com/mvillar24/csopesy-emulator/internal/process"
)

// manualClock advances only when Sleep is called; most tests drive the
// scheduler through explicit Tick() calls rather than the executor goroutine.
// ticked, when non-nil, receives a (non-blocking) signal on every Sleep,
// letting a test synchronize with the end of one executorLoop iteration.
type manualClock struct {
	t      time.Time
	ticked chan struct{}
}

func (c *manualClock) Now() time.Time { return c.t }
func (c *manualClock) Sleep(d time.Duration) {
	c.t = c.t.Add(d)
	if c.ticked != nil {
		select {
		case c.ticked <- struct{}{}:
		default:
		}
	}
}

func newAutoProc(id int, name string, total int) *process.Process {
	prog := interp.GenerateAuto(total, interp.AutoFixed, rand.New(rand.NewSource(int64(id)+1)))
	return process.New(id, name, prog, total, "")
}

// panicProgram simulates a logic bug in a program's Step implementation,
// used to confirm Tick's recover guard actually holds.
type panicProgram struct{}

func (panicProgram) Step(p *process.Process) process.StepResult { panic("boom") }
func (panicProgram) Source() []string                           { return nil }

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.AllocationType = config.AllocationFlat
	cfg.MaxOverallMem = 1024
	cfg.MinMemPerProc = 16
	cfg.MaxMemPerProc = 64
	cfg.BackingStorePath = ""
	return cfg
}

func TestFCFSSanity(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 2
	cfg.Scheduler = config.SchedulerFCFS
	cfg.DelayPerExec = 0

	clk := &manualClock{}
	mem := memory.New(cfg, clk)
	s := New(cfg, mem, clk)

	p1 := newAutoProc(s.NextProcessID(), "P1", 3)
	p2 := newAutoProc(s.NextProcessID(), "P2", 3)
	if err := s.Admit(p1, 16); err != nil {
		t.Fatalf("admit p1: %v", err)
	}
	if err := s.Admit(p2, 16); err != nil {
		t.Fatalf("admit p2: %v", err)
	}

	for i := 0; i < 4; i++ {
		s.Tick()
	}

	if p1.State != process.Finished || p2.State != process.Finished {
		t.Fatalf("expected both finished by tick 4, got p1=%s p2=%s", p1.State, p2.State)
	}
	if p1.FinishTime == "" || p2.FinishTime == "" {
		t.Fatal("expected both finish timestamps set")
	}
}

func TestRRPreemption(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 1
	cfg.Scheduler = config.SchedulerRR
	cfg.Quantum = 2
	cfg.DelayPerExec = 0

	clk := &manualClock{}
	mem := memory.New(cfg, clk)
	s := New(cfg, mem, clk)

	p1 := newAutoProc(s.NextProcessID(), "P1", 5)
	p2 := newAutoProc(s.NextProcessID(), "P2", 5)
	s.Admit(p1, 16)
	s.Admit(p2, 16)

	s.Tick()
	s.Tick()
	if p1.State != process.Ready || p1.Executed != 2 {
		t.Fatalf("expected P1 preempted to Ready after its 2-cycle quantum, got %s with %d executed", p1.State, p1.Executed)
	}
	for i := 2; i < 10; i++ {
		s.Tick()
	}

	if p1.State != process.Finished {
		t.Fatalf("expected P1 finished by cycle 10, got %s", p1.State)
	}
	if p2.State != process.Finished {
		t.Fatalf("expected P2 finished by cycle 10, got %s", p2.State)
	}
}

func TestDelayPerExecSpreadsExecution(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 1
	cfg.Scheduler = config.SchedulerFCFS
	cfg.DelayPerExec = 2

	clk := &manualClock{}
	mem := memory.New(cfg, clk)
	s := New(cfg, mem, clk)

	p1 := newAutoProc(s.NextProcessID(), "P1", 3)
	s.Admit(p1, 16)

	executedAt := map[int]int{}
	for cycle := 1; cycle <= 7; cycle++ {
		before := p1.Executed
		s.Tick()
		if p1.Executed > before {
			executedAt[cycle] = p1.Executed
		}
	}

	if len(executedAt) != 3 {
		t.Fatalf("expected exactly 3 cycles with an execution, got %v", executedAt)
	}
	if _, ok := executedAt[1]; !ok {
		t.Fatalf("expected an execution on cycle 1, got %v", executedAt)
	}
	if _, ok := executedAt[4]; !ok {
		t.Fatalf("expected an execution on cycle 4, got %v", executedAt)
	}
	if _, ok := executedAt[7]; !ok {
		t.Fatalf("expected an execution on cycle 7, got %v", executedAt)
	}
	if p1.State != process.Finished {
		t.Fatalf("expected process finished by cycle 7, got %s", p1.State)
	}
}

func TestZeroLengthProcessFinishesOnDispatch(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 1

	clk := &manualClock{}
	mem := memory.New(cfg, clk)
	s := New(cfg, mem, clk)

	p := newAutoProc(s.NextProcessID(), "Empty", 0)
	s.Admit(p, 16)
	s.Tick()

	if p.State != process.Finished {
		t.Fatalf("expected a zero-length process to finish immediately, got %s", p.State)
	}
	if p.Executed != 0 {
		t.Fatalf("expected zero executed instructions, got %d", p.Executed)
	}
}

func TestReapFinishedIsIdempotentAndFreesMemory(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 1

	clk := &manualClock{}
	mem := memory.New(cfg, clk)
	s := New(cfg, mem, clk)

	p := newAutoProc(s.NextProcessID(), "P1", 1)
	s.Admit(p, 16)
	s.Tick()
	if p.State != process.Finished {
		t.Fatalf("expected P1 finished, got %s", p.State)
	}

	s.ReapFinished()
	if mem.IsAllocated(p.ID) {
		t.Fatal("expected memory freed after reaping")
	}
	// Idempotence: calling again must not panic or double-free.
	s.ReapFinished()
}

func TestTickRecoversFromPanicInProgramStep(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 1

	clk := &manualClock{}
	mem := memory.New(cfg, clk)
	s := New(cfg, mem, clk)

	p := process.New(s.NextProcessID(), "Boom", panicProgram{}, 1, "")
	s.Admit(p, 16)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("expected Tick's recover guard to swallow the panic, but it escaped: %v", r)
		}
	}()
	s.Tick()
}

func TestExecutorLoopReapsFinishedProcesses(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 1

	clk := &manualClock{ticked: make(chan struct{}, 1)}
	mem := memory.New(cfg, clk)
	s := New(cfg, mem, clk)

	p := newAutoProc(s.NextProcessID(), "P1", 1)
	s.Admit(p, 16)

	s.Start()
	<-clk.ticked
	s.Stop()

	if p.State != process.Finished {
		t.Fatalf("expected P1 finished after one executor iteration, got %s", p.State)
	}
	if mem.IsAllocated(p.ID) {
		t.Fatal("expected the executor loop to reap and free memory without an explicit ReapFinished call")
	}
}

func TestFindProcessAcrossSets(t *testing.T) {
	cfg := baseConfig()
	cfg.NumCPU = 1

	clk := &manualClock{}
	mem := memory.New(cfg, clk)
	s := New(cfg, mem, clk)

	p1 := newAutoProc(s.NextProcessID(), "InReady", 5)
	s.Admit(p1, 16)

	if s.FindProcess("InReady") != p1 {
		t.Fatal("expected to find a queued process by name")
	}
	if s.FindProcess("Nonexistent") != nil {
		t.Fatal("expected nil for an unknown process name")
	}

	s.Tick()
	if p1.State != process.Running || s.FindProcess("InReady") != p1 {
		t.Fatalf("expected to find a running process by name, state %s", p1.State)
	}
	for i := 0; i < 4; i++ {
		s.Tick()
	}
	if p1.State != process.Finished || s.FindProcess("InReady") != p1 {
		t.Fatalf("expected to find a finished process by name, state %s", p1.State)
	}
}
