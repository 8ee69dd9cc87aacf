// Package memory implements the simulator's memory manager: paged
// allocation backed by a frame pool and a text backing store, or flat
// allocation backed by a splittable/mergeable block list. Ported from the
// original MemoryManager, generalized to take an allocation strategy for
// the flat allocator (paging only ever scans frames in index order).
package memory

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/mvillar24/csopesy-emulator/internal/clock"
	"github.com/mvillar24/csopesy-emulator/internal/config"
	"github.com/mvillar24/csopesy-emulator/internal/logging"
)

var log = logging.For("memory")

// Frame is one slot in the paging frame pool.
type Frame struct {
	Number      int
	Free        bool
	ProcessID   int
	ProcessName string
	SizeKB      int
	Timestamp   string
}

// Block is one segment of the flat allocator's block list.
type Block struct {
	StartAddress int
	SizeKB       int
	Free         bool
	ProcessID    int
	ProcessName  string
	Timestamp    string
}

// ProcessRecord tracks what a process was given, for deallocation and for
// the internal-fragmentation statistic.
type ProcessRecord struct {
	ProcessID       int
	ProcessName     string
	MemoryRequired  int
	MemoryAllocated int
	FrameNumbers    []int
	StartAddress    int
	NumPages        int
	AllocationTime  string
}

// Manager is the simulator's single memory manager instance. All public
// methods are safe for concurrent use; callers must respect the scheduler
// package's lock-ordering rule and never hold the scheduler's locks while
// calling into this one (or vice versa).
type Manager struct {
	mu sync.Mutex

	clock clock.Clock

	allocationType     config.AllocationType
	allocationStrategy config.AllocationStrategy

	maxMemoryKB      int
	memPerFrameKB    int
	minMemPerProc    int
	maxMemPerProc    int
	backingStorePath string

	frames []Frame
	blocks []Block

	processes map[int]ProcessRecord

	totalAllocatedKB        int
	totalProcessesAllocated int
	allocationFailures      int

	pagesPagedIn  int
	pagesPagedOut int
}

// New constructs a Manager from cfg and truncates/reinitializes the
// backing store file.
func New(cfg config.Config, clk clock.Clock) *Manager {
	m := &Manager{
		clock:              clk,
		allocationType:     cfg.AllocationType,
		allocationStrategy: cfg.AllocationStrategy,
		maxMemoryKB:        cfg.MaxOverallMem,
		memPerFrameKB:      cfg.MemPerFrame,
		minMemPerProc:      cfg.MinMemPerProc,
		maxMemPerProc:      cfg.MaxMemPerProc,
		backingStorePath:   cfg.BackingStorePath,
		processes:          make(map[int]ProcessRecord),
	}
	if m.allocationType == config.AllocationPaging {
		numFrames := m.maxMemoryKB / m.memPerFrameKB
		m.frames = make([]Frame, numFrames)
		for i := range m.frames {
			m.frames[i] = Frame{Number: i, Free: true, ProcessID: -1}
		}
	} else {
		m.blocks = []Block{{StartAddress: 0, SizeKB: m.maxMemoryKB, Free: true, ProcessID: -1}}
	}
	m.initBackingStore()
	return m
}

func (m *Manager) initBackingStore() {
	if m.backingStorePath == "" {
		return
	}
	f, err := os.Create(m.backingStorePath)
	if err != nil {
		log.WithField("error", err).Warn("could not initialize backing store file")
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "CSOPESY Backing Store\nFrameSizeKB %d\nMaxMemoryKB %d\n\n", m.memPerFrameKB, m.maxMemoryKB)
}

// Allocate reserves memory for a process, clamping the requested size into
// [minMemPerProc, maxMemPerProc]. It reports whether allocation succeeded.
func (m *Manager) Allocate(processID int, processName string, requestedKB int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.processes[processID]; exists {
		return false
	}

	size := requestedKB
	if size < m.minMemPerProc {
		size = m.minMemPerProc
	}
	if size > m.maxMemPerProc {
		size = m.maxMemPerProc
	}

	rec := ProcessRecord{
		ProcessID:      processID,
		ProcessName:    processName,
		MemoryRequired: size,
		AllocationTime: clock.CTime(m.clock.Now()),
	}

	var ok bool
	if m.allocationType == config.AllocationPaging {
		ok = m.allocatePaged(&rec, size)
	} else {
		ok = m.allocateFlat(&rec, size)
	}
	if !ok {
		m.allocationFailures++
		return false
	}

	m.totalAllocatedKB += rec.MemoryAllocated
	m.totalProcessesAllocated++
	m.processes[processID] = rec
	return true
}

// allocatePaged scans frames strictly in index order; the spec gives
// paging no strategy choice, unlike the flat allocator.
func (m *Manager) allocatePaged(rec *ProcessRecord, size int) bool {
	pagesNeeded := (size + m.memPerFrameKB - 1) / m.memPerFrameKB

	free := make([]int, 0, pagesNeeded)
	for i := range m.frames {
		if m.frames[i].Free {
			free = append(free, i)
			if len(free) >= pagesNeeded {
				break
			}
		}
	}
	if len(free) < pagesNeeded {
		return false
	}

	ts := clock.CTime(m.clock.Now())
	for i, frameNum := range free {
		sz := m.memPerFrameKB
		if i == pagesNeeded-1 {
			sz = size - i*m.memPerFrameKB
		}
		m.frames[frameNum].Free = false
		m.frames[frameNum].ProcessID = rec.ProcessID
		m.frames[frameNum].ProcessName = rec.ProcessName
		m.frames[frameNum].SizeKB = sz
		m.frames[frameNum].Timestamp = ts
		rec.FrameNumbers = append(rec.FrameNumbers, frameNum)
	}
	rec.MemoryAllocated = pagesNeeded * m.memPerFrameKB
	rec.NumPages = pagesNeeded
	return true
}

func (m *Manager) allocateFlat(rec *ProcessRecord, size int) bool {
	idx := -1
	switch m.allocationStrategy {
	case config.BestFit:
		idx = m.findBestFitBlock(size)
	case config.WorstFit:
		idx = m.findWorstFitBlock(size)
	default:
		idx = m.findFirstFitBlock(size)
	}
	if idx == -1 {
		return false
	}

	origSize := m.blocks[idx].SizeKB
	startAddress := m.blocks[idx].StartAddress

	rec.StartAddress = startAddress
	rec.MemoryAllocated = size

	m.blocks[idx].SizeKB = size
	m.blocks[idx].Free = false
	m.blocks[idx].ProcessID = rec.ProcessID
	m.blocks[idx].ProcessName = rec.ProcessName
	m.blocks[idx].Timestamp = clock.CTime(m.clock.Now())

	if origSize > size {
		rest := Block{StartAddress: startAddress + size, SizeKB: origSize - size, Free: true, ProcessID: -1}
		m.blocks = append(m.blocks[:idx+1], append([]Block{rest}, m.blocks[idx+1:]...)...)
	}
	return true
}

func (m *Manager) findFirstFitBlock(size int) int {
	for i, b := range m.blocks {
		if b.Free && b.SizeKB >= size {
			return i
		}
	}
	return -1
}

func (m *Manager) findBestFitBlock(size int) int {
	best, bestSize := -1, -1
	for i, b := range m.blocks {
		if b.Free && b.SizeKB >= size && (bestSize == -1 || b.SizeKB < bestSize) {
			best, bestSize = i, b.SizeKB
		}
	}
	return best
}

func (m *Manager) findWorstFitBlock(size int) int {
	worst, worstSize := -1, 0
	for i, b := range m.blocks {
		if b.Free && b.SizeKB >= size && b.SizeKB > worstSize {
			worst, worstSize = i, b.SizeKB
		}
	}
	return worst
}

// Deallocate frees processID's memory. For paging, every frame is first
// appended to the backing store (the process's pages are "paged out" on
// termination) before being marked free.
func (m *Manager) Deallocate(processID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.processes[processID]
	if !ok {
		return false
	}

	if m.allocationType == config.AllocationPaging {
		for _, frameNum := range rec.FrameNumbers {
			m.writeFrameToBackingStore(frameNum)
			m.frames[frameNum] = Frame{Number: frameNum, Free: true, ProcessID: -1}
		}
	} else {
		for i := range m.blocks {
			if m.blocks[i].ProcessID == processID {
				m.blocks[i].Free = true
				m.blocks[i].ProcessID = -1
				m.blocks[i].ProcessName = ""
				break
			}
		}
		m.mergeFreeBlocks()
	}

	m.totalAllocatedKB -= rec.MemoryAllocated
	m.totalProcessesAllocated--
	delete(m.processes, processID)
	return true
}

func (m *Manager) writeFrameToBackingStore(frameNum int) {
	if frameNum < 0 || frameNum >= len(m.frames) {
		return
	}
	frame := m.frames[frameNum]
	if frame.Free || m.backingStorePath == "" {
		return
	}
	f, err := os.OpenFile(m.backingStorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.WithField("error", err).Warn("could not open backing store file for appending")
		return
	}
	defer f.Close()
	ts := clock.CTime(m.clock.Now())
	fmt.Fprintf(f, "FRAME %d PID %d NAME %s SIZEKB %d TIME %s\n",
		frame.Number, frame.ProcessID, frame.ProcessName, frame.SizeKB, ts)
	m.pagesPagedOut++
}

func (m *Manager) mergeFreeBlocks() {
	for i := 0; i < len(m.blocks)-1; {
		if m.blocks[i].Free && m.blocks[i+1].Free {
			m.blocks[i].SizeKB += m.blocks[i+1].SizeKB
			m.blocks = append(m.blocks[:i+1], m.blocks[i+2:]...)
		} else {
			i++
		}
	}
}

// IsAllocated reports whether processID currently holds memory.
func (m *Manager) IsAllocated(processID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processes[processID]
	return ok
}

// ProcessMemory returns the allocation record for processID.
func (m *Manager) ProcessMemory(processID int) (ProcessRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.processes[processID]
	return rec, ok
}

// Utilization returns the percentage of total memory currently allocated.
func (m *Manager) Utilization() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxMemoryKB == 0 {
		return 0
	}
	return float64(m.totalAllocatedKB) * 100.0 / float64(m.maxMemoryKB)
}

// ExternalFragmentation returns the flat allocator's free KB that is not
// part of the largest single free block; zero for paging.
func (m *Manager) ExternalFragmentation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocationType != config.AllocationFlat {
		return 0
	}
	totalFree, largest := 0, 0
	for _, b := range m.blocks {
		if b.Free {
			totalFree += b.SizeKB
			if b.SizeKB > largest {
				largest = b.SizeKB
			}
		}
	}
	if totalFree == 0 || largest > totalFree {
		return 0
	}
	return totalFree - largest
}

// InternalFragmentation returns the paging allocator's wasted KB (frame
// space allocated beyond what each process actually required); zero for
// flat allocation.
func (m *Manager) InternalFragmentation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocationType != config.AllocationPaging {
		return 0
	}
	total := 0
	for _, rec := range m.processes {
		if rec.MemoryAllocated > rec.MemoryRequired {
			total += rec.MemoryAllocated - rec.MemoryRequired
		}
	}
	return total
}

// Snapshot is the read-only view used by vmstat/process-smi.
type Snapshot struct {
	AllocationType     config.AllocationType
	AllocationStrategy config.AllocationStrategy
	TotalKB            int
	UsedKB             int
	FreeKB             int
	UtilizationPct     float64
	ActiveProcesses    int
	AllocationFailures int
	TotalFrames        int
	UsedFrames         int
	FreeFrames         int
	PagesPagedIn       int
	PagesPagedOut      int
}

// Snapshot returns a consistent point-in-time view of the manager's state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	used, free := 0, 0
	for _, f := range m.frames {
		if f.Free {
			free++
		} else {
			used++
		}
	}

	util := 0.0
	if m.maxMemoryKB != 0 {
		util = float64(m.totalAllocatedKB) * 100.0 / float64(m.maxMemoryKB)
	}

	return Snapshot{
		AllocationType:     m.allocationType,
		AllocationStrategy: m.allocationStrategy,
		TotalKB:            m.maxMemoryKB,
		UsedKB:             m.totalAllocatedKB,
		FreeKB:             m.maxMemoryKB - m.totalAllocatedKB,
		UtilizationPct:     util,
		ActiveProcesses:    m.totalProcessesAllocated,
		AllocationFailures: m.allocationFailures,
		TotalFrames:        len(m.frames),
		UsedFrames:         used,
		FreeFrames:         free,
		PagesPagedIn:       m.pagesPagedIn,
		PagesPagedOut:      m.pagesPagedOut,
	}
}

// FrameMapSnapshot returns up to limit frames in index order, for
// process-smi-style display.
func (m *Manager) FrameMapSnapshot(limit int) []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.frames)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Frame, n)
	copy(out, m.frames[:n])
	return out
}

// BlockMapSnapshot returns the flat allocator's block list in address
// order (it already is, by construction).
func (m *Manager) BlockMapSnapshot() []Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Block, len(m.blocks))
	copy(out, m.blocks)
	sort.Slice(out, func(i, j int) bool { return out[i].StartAddress < out[j].StartAddress })
	return out
}
