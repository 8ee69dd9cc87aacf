// Package corecpu models a single CPU core: an idle/busy flag, the process
// currently bound to it, and the busy-wait delay that stands in for
// instruction fetch/decode latency. Ported from the original scheduler's
// CPUCore class.
package corecpu

import "github.com/mvillar24/csopesy-emulator/internal/process"

// Core is one of the simulator's num-cpu execution units. A Core is not
// safe for concurrent use by more than one goroutine; the scheduler's
// single executor loop steps every core.
type Core struct {
	id             int
	proc           *process.Process
	idle           bool
	executedCycles int
	delayRemaining int
}

// New returns an idle core with the given id.
func New(id int) *Core {
	return &Core{id: id, idle: true}
}

func (c *Core) ID() int                    { return c.id }
func (c *Core) Idle() bool                 { return c.idle }
func (c *Core) Process() *process.Process  { return c.proc }
func (c *Core) ExecutedCycles() int        { return c.executedCycles }
func (c *Core) DelayRemaining() int        { return c.delayRemaining }

// Assign binds p to this core, marking it Running.
func (c *Core) Assign(p *process.Process) {
	c.proc = p
	c.idle = false
	c.executedCycles = 0
	c.delayRemaining = 0
	if p != nil {
		p.AssignedCore = c.id
		p.State = process.Running
	}
}

// Release detaches the current process (if any) and returns the core to
// idle. It does not change the process's state; the caller decides
// whether the process is finished, preempted, or something else.
func (c *Core) Release() {
	if c.proc != nil {
		c.proc.AssignedCore = -1
	}
	c.proc = nil
	c.idle = true
	c.executedCycles = 0
	c.delayRemaining = 0
}

// ExecuteCycle advances the core by one tick: while delayRemaining is
// positive the core busy-waits (the bound process stays assigned but no
// instruction executes); otherwise it steps the interpreter once and, if
// the process has more work left, arms delayRemaining for delayPerExec
// further idle ticks.
func (c *Core) ExecuteCycle(delayPerExec int) process.StepResult {
	if c.proc == nil || c.idle {
		return process.StepResult{}
	}
	if c.delayRemaining > 0 {
		c.delayRemaining--
		return process.StepResult{}
	}
	result := c.proc.Step()
	c.executedCycles++
	if !c.proc.IsFinished() && delayPerExec > 0 {
		c.delayRemaining = delayPerExec
	}
	return result
}

// ProcessFinished reports whether the bound process has run to completion.
func (c *Core) ProcessFinished() bool {
	return c.proc != nil && c.proc.IsFinished()
}

// IsBusyWaiting reports whether the core is currently burning delay
// cycles rather than executing an instruction.
func (c *Core) IsBusyWaiting() bool {
	return c.delayRemaining > 0
}
