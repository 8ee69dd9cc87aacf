// Package debugdump pretty-prints scheduler and memory manager snapshots
// for interactive debugging, the way dubcc's assembler and object dumper
// use k0kubun/pp to render structured values instead of hand-rolled
// formatting.
package debugdump

import (
	"io"

	"github.com/k0kubun/pp/v3"

	"github.com/mvillar24/csopesy-emulator/internal/memory"
	"github.com/mvillar24/csopesy-emulator/internal/process"
)

// SchedulerView is the subset of scheduler state worth dumping; kept here
// (rather than importing the scheduler package) to avoid a needless
// dependency on the executor's internals.
type SchedulerView struct {
	Cycle          int
	TotalCreated   int
	ReadyQueueLen  int
	Running        []*process.Process
	Finished       []*process.Process
	CPUUtilization float64
}

// Scheduler writes a pretty-printed SchedulerView to w.
func Scheduler(w io.Writer, v SchedulerView) {
	pp.Fprintln(w, v)
}

// Memory writes a pretty-printed memory snapshot to w.
func Memory(w io.Writer, snap memory.Snapshot) {
	pp.Fprintln(w, snap)
}

// Process writes a pretty-printed single process to w, used by
// process-smi.
func Process(w io.Writer, p *process.Process) {
	pp.Fprintln(w, p)
}
