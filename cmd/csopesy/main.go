package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mvillar24/csopesy-emulator/internal/clock"
	"github.com/mvillar24/csopesy-emulator/internal/config"
	"github.com/mvillar24/csopesy-emulator/internal/debugdump"
	"github.com/mvillar24/csopesy-emulator/internal/interp"
	"github.com/mvillar24/csopesy-emulator/internal/logging"
	"github.com/mvillar24/csopesy-emulator/internal/logsink"
	"github.com/mvillar24/csopesy-emulator/internal/memory"
	"github.com/mvillar24/csopesy-emulator/internal/process"
	"github.com/mvillar24/csopesy-emulator/internal/scheduler"
)

var log = logging.For("shell")

type shell struct {
	cfg         config.Config
	mem         *memory.Manager
	sched       *scheduler.Scheduler
	initialized bool
}

func main() {
	logging.SetLevel("info")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\ncsopesy: shutting down")
		os.Exit(0)
	}()

	s := &shell{}
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("CSOPESY emulator. Type 'help' for commands.")
	for {
		fmt.Print("csopesy> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !s.dispatch(line) {
			return
		}
	}
}

func splitCommand(line string) (string, string) {
	idx := strings.IndexAny(line, " \t")
	if idx == -1 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}

func (s *shell) dispatch(line string) bool {
	cmd, rest := splitCommand(line)
	args := strings.Fields(rest)

	switch cmd {
	case "initialize":
		s.initialize(args)
	case "screen":
		s.screen(rest)
	case "screen-ls":
		s.screenLS()
	case "scheduler-start":
		if s.requireInitialized() {
			s.sched.StartGeneration()
			s.sched.Start()
			fmt.Println("scheduler and generator started")
		}
	case "scheduler-stop":
		if s.requireInitialized() {
			s.sched.StopGeneration()
			fmt.Println("generator stopped")
		}
	case "report-util":
		s.reportUtil()
	case "vmstat":
		s.vmstat()
	case "process-smi":
		s.processSMI(args)
	case "clear":
		clearScreen()
	case "help":
		printHelp()
	case "exit":
		return false
	default:
		fmt.Printf("unknown command: %s\n", cmd)
	}
	return true
}

func (s *shell) requireInitialized() bool {
	if !s.initialized {
		fmt.Println("run 'initialize' first")
		return false
	}
	return true
}

func (s *shell) initialize(args []string) {
	path := "config.txt"
	if len(args) > 0 {
		path = args[0]
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Println("initialize failed:", err)
		return
	}
	clk := clock.Real{}
	s.cfg = cfg
	s.mem = memory.New(cfg, clk)
	s.sched = scheduler.New(cfg, s.mem, clk)
	s.initialized = true
	fmt.Println("initialized.")
}

func (s *shell) screen(rest string) {
	if !s.requireInitialized() {
		return
	}
	fields := strings.Fields(rest)
	if len(fields) < 1 {
		fmt.Println(`usage: screen -s|-c|-r ...`)
		return
	}
	switch fields[0] {
	case "-s":
		s.screenCreateAuto(fields[1:])
	case "-c":
		s.screenCreateCustom(rest)
	case "-r":
		s.screenRead(fields[1:])
	default:
		fmt.Println("unknown screen flag:", fields[0])
	}
}

func isPowerOfTwoInRange(n int) bool {
	return n >= 64 && n <= 65536 && n&(n-1) == 0
}

func (s *shell) screenCreateAuto(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: screen -s <name> <mem>")
		return
	}
	name := args[0]
	memKB, err := strconv.Atoi(args[1])
	if err != nil || !isPowerOfTwoInRange(memKB) {
		fmt.Println("memory must be a power of two in [64, 65536]")
		return
	}

	total := s.cfg.MinIns
	if span := s.cfg.MaxIns - s.cfg.MinIns; span > 0 {
		total += rand.Intn(span + 1)
	}
	id := s.sched.NextProcessID()
	prog := interp.GenerateAuto(total, interp.AutoFixed, rand.New(rand.NewSource(rand.Int63())))
	p := process.New(id, name, prog, total, clock.CTime(time.Now()))

	if err := s.sched.Admit(p, memKB); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("created process %s (%d instructions)\n", name, total)
}

func (s *shell) screenCreateCustom(rest string) {
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "-c"))
	qStart := strings.Index(rest, `"`)
	qEnd := strings.LastIndex(rest, `"`)
	if qStart == -1 || qEnd <= qStart {
		fmt.Println(`usage: screen -c <name> <mem> "i1; i2; ..."`)
		return
	}

	header := strings.Fields(rest[:qStart])
	if len(header) < 2 {
		fmt.Println(`usage: screen -c <name> <mem> "i1; i2; ..."`)
		return
	}
	name := header[0]
	memKB, err := strconv.Atoi(header[1])
	if err != nil {
		fmt.Println("invalid memory size")
		return
	}

	var instructions []string
	for _, raw := range strings.Split(rest[qStart+1:qEnd], ";") {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			instructions = append(instructions, raw)
		}
	}
	if len(instructions) < 1 || len(instructions) > 50 {
		fmt.Println("instruction count must be between 1 and 50")
		return
	}

	prog := interp.Compile(instructions)
	id := s.sched.NextProcessID()
	p := process.New(id, name, prog, len(prog.Source()), clock.CTime(time.Now()))

	if err := s.sched.Admit(p, memKB); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("created custom process %s (%d instructions)\n", name, len(prog.Source()))
}

func (s *shell) screenRead(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: screen -r <name>")
		return
	}
	p := s.sched.FindProcess(args[0])
	if p == nil {
		fmt.Println("no such process:", args[0])
		return
	}
	fmt.Println(p.CompactLine())
	fmt.Printf("progress: %.1f%%\n", p.Progress())
}

func (s *shell) screenLS() {
	if !s.requireInitialized() {
		return
	}
	fmt.Println("Running processes:")
	for _, p := range s.sched.RunningProcesses() {
		fmt.Println(" ", p.CompactLine())
	}
	fmt.Printf("Ready queue: %d waiting\n", s.sched.ReadyQueueLen())
	fmt.Println("Finished processes:")
	for _, p := range s.sched.FinishedProcesses() {
		fmt.Println(" ", p.CompactLine())
	}
}

func (s *shell) reportUtil() {
	if !s.requireInitialized() {
		return
	}
	if err := logsink.WriteReport("csopesy-log.txt", s.sched.Report()); err != nil {
		log.WithField("error", err).Warn("report-util failed")
		fmt.Println("report-util failed:", err)
		return
	}
	fmt.Println("wrote csopesy-log.txt")
}

func (s *shell) vmstat() {
	if !s.requireInitialized() {
		return
	}
	debugdump.Memory(os.Stdout, s.mem.Snapshot())
}

func (s *shell) processSMI(args []string) {
	if !s.requireInitialized() {
		return
	}
	if len(args) > 0 {
		p := s.sched.FindProcess(args[0])
		if p == nil {
			fmt.Println("no such process:", args[0])
			return
		}
		debugdump.Process(os.Stdout, p)
		fmt.Printf("progress: %.1f%%\n", p.Progress())
		return
	}
	debugdump.Scheduler(os.Stdout, debugdump.SchedulerView{
		Cycle:          s.sched.CurrentCycle(),
		TotalCreated:   s.sched.TotalProcessesCreated(),
		ReadyQueueLen:  s.sched.ReadyQueueLen(),
		Running:        s.sched.RunningProcesses(),
		Finished:       s.sched.FinishedProcesses(),
		CPUUtilization: s.sched.CPUUtilization(),
	})
	debugdump.Memory(os.Stdout, s.mem.Snapshot())
}

func clearScreen() {
	cmd := exec.Command("clear")
	cmd.Stdout = os.Stdout
	_ = cmd.Run()
}

func printHelp() {
	fmt.Println(`Commands:
  initialize [config-path]
  screen -s <name> <mem>
  screen -c <name> <mem> "i1; i2; ..."
  screen -r <name>
  screen-ls
  scheduler-start
  scheduler-stop
  report-util
  vmstat
  process-smi [name]
  clear
  help
  exit`)
}
