package corecpu

import (
	"math/rand"
	"testing"

	"github.com/mvillar24/csopesy-emulator/internal/interp"
	"github.com/mvillar24/csopesy-emulator/internal/process"
)

func newProc(total int) *process.Process {
	prog := interp.GenerateAuto(total, interp.AutoFixed, rand.New(rand.NewSource(7)))
	return process.New(1, "p1", prog, total, "")
}

func TestAssignSetsRunningAndCore(t *testing.T) {
	c := New(3)
	p := newProc(2)
	c.Assign(p)
	if c.Idle() {
		t.Fatal("expected core to be busy after Assign")
	}
	if p.State != process.Running {
		t.Fatalf("expected process Running, got %s", p.State)
	}
	if p.AssignedCore != 3 {
		t.Fatalf("expected AssignedCore 3, got %d", p.AssignedCore)
	}
}

func TestExecuteCycleArmsDelay(t *testing.T) {
	c := New(0)
	p := newProc(3)
	c.Assign(p)

	r := c.ExecuteCycle(2)
	if !r.Executed {
		t.Fatal("expected first cycle to execute an instruction")
	}
	if !c.IsBusyWaiting() {
		t.Fatal("expected core to be busy-waiting after delayPerExec > 0")
	}
	if c.DelayRemaining() != 2 {
		t.Fatalf("expected delayRemaining 2, got %d", c.DelayRemaining())
	}

	r = c.ExecuteCycle(2)
	if r.Executed {
		t.Fatal("expected a busy-wait tick, not an execution")
	}
	if c.DelayRemaining() != 1 {
		t.Fatalf("expected delayRemaining to drop to 1, got %d", c.DelayRemaining())
	}
}

func TestReleaseClearsAssignedCore(t *testing.T) {
	c := New(1)
	p := newProc(1)
	c.Assign(p)
	c.Release()
	if p.AssignedCore != -1 {
		t.Fatalf("expected AssignedCore reset to -1, got %d", p.AssignedCore)
	}
	if !c.Idle() {
		t.Fatal("expected core idle after Release")
	}
}

func TestProcessFinishedAfterLastInstruction(t *testing.T) {
	c := New(0)
	p := newProc(1)
	c.Assign(p)
	c.ExecuteCycle(0)
	if !c.ProcessFinished() {
		t.Fatal("expected ProcessFinished true after running the only instruction")
	}
}
