// Package process defines the per-process control block shared by the
// scheduler, the CPU cores and the memory manager.
package process

import "fmt"

// State is one of the four states a process can occupy.
type State string

const (
	Ready    State = "Ready"
	Running  State = "Running"
	Waiting  State = "Waiting"
	Finished State = "Finished"
)

// StepResult reports what a single interpreter step did, so the owning
// core knows whether to emit a log line.
type StepResult struct {
	// Executed is true when an instruction was actually consumed this
	// step (as opposed to a sleep-counter decrement).
	Executed bool
	// Instruction is the source text of the instruction that ran, used
	// for the scheduler's log line.
	Instruction string
	// AccumulatorSuffix, when non-empty, is appended to the log line
	// ("| X = <value>") for ADD/VAR instructions in auto-generated mode.
	AccumulatorSuffix string
	// ExtraLines holds additional lines PRINT/WRITE/READ append to the
	// process log beyond the one line every executed instruction gets.
	ExtraLines []string
	// Finished is true once the process has no remaining instructions.
	Finished bool
}

// Program is implemented by the two program flavors (auto-generated and
// custom) and advances a Process by exactly one interpreter step.
type Program interface {
	// Step executes at most one instruction against p, per the sleep and
	// consumption rules in the spec, and returns what happened.
	Step(p *Process) StepResult
	// Source returns the current instruction stream, for display/logging.
	Source() []string
}

// Process is the control block tracked by the scheduler, cores and memory
// manager. Only the executor goroutine mutates the fields below while the
// process is bound to a core; other goroutines only read them.
type Process struct {
	ID    int
	Name  string
	State State

	Program Program

	Executed  int
	Remaining int
	Total     int

	// Vars is the process's 16-bit register file. Auto-generated programs
	// use the single implicit accumulator key "X"; custom programs use
	// arbitrary DECLAREd names. Both share one map because the spec
	// describes them as the same underlying register file, distinguished
	// only by usage pattern.
	Vars map[string]uint16

	// Memory is the address-keyed WRITE/READ target, separate from Vars.
	Memory map[string]uint16

	SleepCounter int

	ArrivalTime string
	StartTime   string
	FinishTime  string

	AssignedCore int // -1 when unassigned

	LogPath string
}

// New builds a Ready process with an empty register file.
func New(id int, name string, program Program, total int, arrivalTime string) *Process {
	return &Process{
		ID:           id,
		Name:         name,
		State:        Ready,
		Program:      program,
		Remaining:    total,
		Total:        total,
		Vars:         make(map[string]uint16),
		Memory:       make(map[string]uint16),
		AssignedCore: -1,
		ArrivalTime:  arrivalTime,
	}
}

// Step delegates one interpreter cycle to the underlying program, which
// also handles the sleep counter. Callers (CPU cores) are responsible for
// the delay-per-exec bookkeeping around it.
func (p *Process) Step() StepResult {
	result := p.Program.Step(p)
	if p.Remaining <= 0 {
		p.State = Finished
	}
	return result
}

// IsFinished reports whether the process has no remaining instructions.
func (p *Process) IsFinished() bool {
	return p.Remaining <= 0
}

// Progress returns the completion percentage, 100 for a zero-length
// program (it never had any work to do).
func (p *Process) Progress() float64 {
	if p.Total == 0 {
		return 100.0
	}
	return float64(p.Executed) / float64(p.Total) * 100.0
}

// CompactLine renders the one-line summary used by screen-ls snapshots.
func (p *Process) CompactLine() string {
	core := "N/A"
	if p.AssignedCore >= 0 {
		core = fmt.Sprintf("%d", p.AssignedCore)
	}
	return fmt.Sprintf("%s | Core: %s | %d/%d | %s", p.Name, core, p.Executed, p.Total, p.State)
}

// Clamp16 saturates a signed 32-bit arithmetic result into the process's
// 16-bit unsigned register range, [0, 65535].
func Clamp16(v int64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
