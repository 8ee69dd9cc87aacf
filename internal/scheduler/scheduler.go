// Package scheduler implements admission, dispatch, preemption, and
// completion over a shared ready queue, plus the periodic process
// generator. Ported from the original Scheduler/CPUCore pair. The ready
// queue, running set and finished set share *process.Process pointers, each
// set behind its own lock; together with the memory manager's lock this
// keeps the granularity of the original's four mutexes.
package scheduler

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvillar24/csopesy-emulator/internal/clock"
	"github.com/mvillar24/csopesy-emulator/internal/config"
	"github.com/mvillar24/csopesy-emulator/internal/corecpu"
	"github.com/mvillar24/csopesy-emulator/internal/interp"
	"github.com/mvillar24/csopesy-emulator/internal/logging"
	"github.com/mvillar24/csopesy-emulator/internal/logsink"
	"github.com/mvillar24/csopesy-emulator/internal/memory"
	"github.com/mvillar24/csopesy-emulator/internal/process"
)

var log = logging.For("scheduler")

// Scheduler owns the CPU bank, the three process sets, and the memory
// manager reference it admits against and reaps from.
type Scheduler struct {
	cfg config.Config
	mem *memory.Manager
	clk clock.Clock

	cores []*corecpu.Core

	readyMu sync.Mutex
	ready   []*process.Process

	runningMu sync.Mutex
	running   map[int]*process.Process

	finishedMu sync.Mutex
	finished   []*process.Process
	reaped     map[int]struct{}

	isRunning    atomic.Bool
	autoGenerate atomic.Bool

	nextID       atomic.Int64
	totalCreated atomic.Int64
	currentCycle atomic.Int64

	startedAt time.Time
}

// New builds a Scheduler with cfg.NumCPU idle cores.
func New(cfg config.Config, mem *memory.Manager, clk clock.Clock) *Scheduler {
	cores := make([]*corecpu.Core, cfg.NumCPU)
	for i := range cores {
		cores[i] = corecpu.New(i)
	}
	return &Scheduler{
		cfg:     cfg,
		mem:     mem,
		clk:     clk,
		cores:   cores,
		running: make(map[int]*process.Process),
		reaped:  make(map[int]struct{}),
	}
}

// NextProcessID returns the next sequential process id, shared by manual
// admission and the generator so that "Process_<N>" names never collide.
func (s *Scheduler) NextProcessID() int {
	return int(s.nextID.Add(1) - 1)
}

// Admit allocates memory for p and, on success, pushes it onto the ready
// queue and initializes its log file. Memory is allocated before queue
// insertion, per the lifecycle rule in the data model.
func (s *Scheduler) Admit(p *process.Process, memKB int) error {
	if !s.mem.Allocate(p.ID, p.Name, memKB) {
		return fmt.Errorf("scheduler: not enough memory to admit process %q", p.Name)
	}
	p.LogPath = logsink.Init(p.Name)
	s.totalCreated.Add(1)
	s.pushReady(p)
	return nil
}

func (s *Scheduler) pushReady(p *process.Process) {
	s.readyMu.Lock()
	s.ready = append(s.ready, p)
	s.readyMu.Unlock()
}

func (s *Scheduler) popReady() *process.Process {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	p := s.ready[0]
	s.ready = s.ready[1:]
	return p
}

// Start launches the executor loop in a background goroutine. It is a
// no-op if already running.
func (s *Scheduler) Start() {
	if s.isRunning.CompareAndSwap(false, true) {
		s.startedAt = s.clk.Now()
		go s.executorLoop()
	}
}

// Stop signals the executor loop to exit at its next tick boundary. It
// does not drain the ready or running sets.
func (s *Scheduler) Stop() {
	s.isRunning.Store(false)
}

func (s *Scheduler) executorLoop() {
	for s.isRunning.Load() {
		s.Tick()
		s.ReapFinished()
		s.clk.Sleep(100 * time.Millisecond)
	}
}

// StartGeneration launches the periodic process-generation loop.
func (s *Scheduler) StartGeneration() {
	if s.autoGenerate.CompareAndSwap(false, true) {
		go s.generatorLoop()
	}
}

// StopGeneration disables further automatic admissions.
func (s *Scheduler) StopGeneration() {
	s.autoGenerate.Store(false)
}

func (s *Scheduler) generatorLoop() {
	for s.autoGenerate.Load() {
		s.clk.Sleep(time.Duration(s.cfg.BatchFreq) * time.Second)
		if !s.autoGenerate.Load() {
			return
		}
		s.generateOne()
	}
}

func (s *Scheduler) generateOne() {
	span := s.cfg.MaxIns - s.cfg.MinIns
	total := s.cfg.MinIns
	if span > 0 {
		total += rand.Intn(span + 1)
	}

	id := s.NextProcessID()
	name := fmt.Sprintf("Process_%d", id)
	rng := rand.New(rand.NewSource(rand.Int63()))
	prog := interp.GenerateAuto(total, interp.AutoFixed, rng)
	p := process.New(id, name, prog, total, clock.CTime(s.clk.Now()))

	memSpan := s.cfg.MaxMemPerProc - s.cfg.MinMemPerProc
	memKB := s.cfg.MinMemPerProc
	if memSpan > 0 {
		memKB += rand.Intn(memSpan + 1)
	}

	if err := s.Admit(p, memKB); err != nil {
		log.WithField("process", name).Warn("dropped generated process: allocation failed")
	}
}

// Tick runs one executor iteration: dispatch, execution, completion, and
// preemption bookkeeping. Exported so tests can step the scheduler
// deterministically instead of racing a real goroutine. A panic anywhere
// in the tick body is recovered and logged so a single bad process can
// never take down the executor; one tick always runs to completion.
func (s *Scheduler) Tick() {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("recovered from panic during scheduler tick")
		}
	}()

	s.currentCycle.Add(1)
	s.dispatch()

	for _, core := range s.cores {
		if core.Idle() {
			continue
		}

		if core.IsBusyWaiting() {
			core.ExecuteCycle(s.cfg.DelayPerExec)
			continue
		}

		p := core.Process()
		result := core.ExecuteCycle(s.cfg.DelayPerExec)
		if result.Executed {
			s.logInstruction(core, p, result)
		}

		switch {
		case core.ProcessFinished():
			s.completeCore(core)
		case s.cfg.Scheduler == config.SchedulerRR && core.ExecutedCycles() >= s.cfg.Quantum:
			s.preemptCore(core)
		}
	}
}

func (s *Scheduler) dispatch() {
	for _, core := range s.cores {
		if !core.Idle() {
			continue
		}
		p := s.popReady()
		if p == nil {
			continue
		}
		if p.StartTime == "" {
			p.StartTime = clock.CTime(s.clk.Now())
		}
		core.Assign(p)

		s.runningMu.Lock()
		s.running[p.ID] = p
		s.runningMu.Unlock()

		if p.IsFinished() {
			// Zero-length program: finished on dispatch, no instruction run.
			s.completeCore(core)
		}
	}
}

func (s *Scheduler) completeCore(core *corecpu.Core) {
	p := core.Process()
	if p == nil {
		return
	}
	p.State = process.Finished
	p.FinishTime = clock.CTime(s.clk.Now())

	s.runningMu.Lock()
	delete(s.running, p.ID)
	s.runningMu.Unlock()

	s.finishedMu.Lock()
	s.finished = append(s.finished, p)
	s.finishedMu.Unlock()

	core.Release()
}

func (s *Scheduler) preemptCore(core *corecpu.Core) {
	p := core.Process()
	if p == nil {
		return
	}
	p.State = process.Ready

	s.runningMu.Lock()
	delete(s.running, p.ID)
	s.runningMu.Unlock()

	s.pushReady(p)
	core.Release()
}

func (s *Scheduler) logInstruction(core *corecpu.Core, p *process.Process, r process.StepResult) {
	ts := clock.FormatTimestamp(s.clk.Now())
	line := fmt.Sprintf("(%s) Core:%d \"%s\"", ts, core.ID(), r.Instruction)
	if r.AccumulatorSuffix != "" {
		line += " | X = " + r.AccumulatorSuffix
	}
	logsink.Append(p.LogPath, line)
	for _, extra := range r.ExtraLines {
		logsink.Append(p.LogPath, extra)
	}
}

// ReapFinished deallocates memory for every finished process exactly once,
// for the lifetime of this Scheduler. It never holds a scheduler lock
// while calling into the memory manager, and vice versa.
func (s *Scheduler) ReapFinished() {
	s.finishedMu.Lock()
	pending := make([]int, 0, len(s.finished))
	for _, p := range s.finished {
		if _, done := s.reaped[p.ID]; !done {
			pending = append(pending, p.ID)
		}
	}
	s.finishedMu.Unlock()

	for _, id := range pending {
		s.mem.Deallocate(id)
		s.finishedMu.Lock()
		s.reaped[id] = struct{}{}
		s.finishedMu.Unlock()
	}
}

// CPUUtilization returns the fraction of cores currently bound, in [0,1].
func (s *Scheduler) CPUUtilization() float64 {
	if len(s.cores) == 0 {
		return 0
	}
	busy := 0
	for _, c := range s.cores {
		if !c.Idle() {
			busy++
		}
	}
	return float64(busy) / float64(len(s.cores))
}

// ActiveCores returns the count of non-idle cores.
func (s *Scheduler) ActiveCores() int {
	n := 0
	for _, c := range s.cores {
		if !c.Idle() {
			n++
		}
	}
	return n
}

// ReadyQueueLen returns the number of processes awaiting dispatch.
func (s *Scheduler) ReadyQueueLen() int {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	return len(s.ready)
}

// RunningProcesses returns a snapshot of the currently bound processes.
func (s *Scheduler) RunningProcesses() []*process.Process {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	out := make([]*process.Process, 0, len(s.running))
	for _, p := range s.running {
		out = append(out, p)
	}
	return out
}

// FinishedProcesses returns a snapshot of completed processes, in
// completion order.
func (s *Scheduler) FinishedProcesses() []*process.Process {
	s.finishedMu.Lock()
	defer s.finishedMu.Unlock()
	out := make([]*process.Process, len(s.finished))
	copy(out, s.finished)
	return out
}

// FindProcess looks up a process by name across the ready queue, the
// running set, and the finished set, in that order.
func (s *Scheduler) FindProcess(name string) *process.Process {
	s.readyMu.Lock()
	for _, p := range s.ready {
		if p.Name == name {
			s.readyMu.Unlock()
			return p
		}
	}
	s.readyMu.Unlock()

	s.runningMu.Lock()
	for _, p := range s.running {
		if p.Name == name {
			s.runningMu.Unlock()
			return p
		}
	}
	s.runningMu.Unlock()

	s.finishedMu.Lock()
	defer s.finishedMu.Unlock()
	for _, p := range s.finished {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// TotalProcessesCreated is the running count of processes admitted since
// construction, manual and generated alike.
func (s *Scheduler) TotalProcessesCreated() int {
	return int(s.totalCreated.Load())
}

// CurrentCycle is the number of ticks the executor has run.
func (s *Scheduler) CurrentCycle() int {
	return int(s.currentCycle.Load())
}

// Report renders the report-util snapshot text.
func (s *Scheduler) Report() string {
	elapsed := time.Duration(0)
	if !s.startedAt.IsZero() {
		elapsed = s.clk.Now().Sub(s.startedAt)
	}
	return fmt.Sprintf(
		"CPU utilization: %.2f%%\nCores used: %d/%d\nRunning time: %s\nCurrent cycle: %d\n\n"+
			"Total created: %d\nRunning: %d\nReady: %d\nFinished: %d\n",
		s.CPUUtilization()*100, s.ActiveCores(), len(s.cores), elapsed.Round(time.Second),
		s.CurrentCycle(), s.TotalProcessesCreated(), len(s.RunningProcesses()),
		s.ReadyQueueLen(), len(s.FinishedProcesses()),
	)
}
