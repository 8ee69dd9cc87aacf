package config

import (
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestParseHyphenAndUnderscore(t *testing.T) {
	src := `
# comment line
num-cpu 8
scheduler rr
quantum_cycles 2
batch-process-freq 5
min_ins 10
max-ins 20
delay_per_exec 3
max-overall-mem 2048
mem_per_frame 32
min-mem-per-proc 32
max_mem_per_proc 256
`
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Config{
		NumCPU: 8, Scheduler: "rr", Quantum: 2, BatchFreq: 5,
		MinIns: 10, MaxIns: 20, DelayPerExec: 3,
		MaxOverallMem: 2048, MemPerFrame: 32, MinMemPerProc: 32, MaxMemPerProc: 256,
		AllocationType: AllocationPaging, AllocationStrategy: FirstFit,
		BackingStorePath: "csopesy-backing-store.txt",
	}
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestValidateRejectsBadScheduler(t *testing.T) {
	cfg := Default()
	cfg.Scheduler = "sjf"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid scheduler")
	}
}

func TestValidateRequiresQuantumForRR(t *testing.T) {
	cfg := Default()
	cfg.Scheduler = SchedulerRR
	cfg.Quantum = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for rr with quantum < 1")
	}
}

func TestValidateMemoryBounds(t *testing.T) {
	cfg := Default()
	cfg.MemPerFrame = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero mem-per-frame")
	}

	cfg = Default()
	cfg.MinMemPerProc = 200
	cfg.MaxMemPerProc = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for min > max per-process memory")
	}
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("num-cpu\n"))
	if err == nil {
		t.Fatal("expected error for line missing a value")
	}
}
