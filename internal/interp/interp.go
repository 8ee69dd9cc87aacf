// Package interp implements the two program flavors the CPU cores step:
// auto-generated programs and custom whitelisted-opcode programs. Both
// share the same operand resolution and opcode execution helpers; only the
// instruction stream and the source of random operands differ.
package interp

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/mvillar24/csopesy-emulator/internal/logging"
	"github.com/mvillar24/csopesy-emulator/internal/process"
)

var log = logging.For("interp")

// Whitelisted custom opcodes, per the spec's instruction interpreter.
var customWhitelist = map[string]bool{
	"DECLARE":  true,
	"ADD":      true,
	"SUBTRACT": true,
	"SLEEP":    true,
	"WRITE":    true,
	"READ":     true,
	"PRINT":    true,
}

// resolveOperand parses token as a literal integer, or looks it up (and
// auto-vivifies to zero) as a variable name.
func resolveOperand(p *process.Process, token string) uint16 {
	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return process.Clamp16(n)
	}
	if v, ok := p.Vars[token]; ok {
		return v
	}
	p.Vars[token] = 0
	return 0
}

func execDeclare(p *process.Process, name string, literal int64) {
	p.Vars[name] = process.Clamp16(literal)
}

func execAdd(p *process.Process, dest, a, b string) uint16 {
	sum := int64(resolveOperand(p, a)) + int64(resolveOperand(p, b))
	v := process.Clamp16(sum)
	p.Vars[dest] = v
	return v
}

func execSubtract(p *process.Process, dest, a, b string) uint16 {
	diff := int64(resolveOperand(p, a)) - int64(resolveOperand(p, b))
	v := process.Clamp16(diff)
	p.Vars[dest] = v
	return v
}

func execWrite(p *process.Process, addr, varName string) uint16 {
	v := resolveOperand(p, varName)
	p.Memory[addr] = v
	return v
}

func execRead(p *process.Process, varName, addr string) uint16 {
	v := p.Memory[addr]
	p.Vars[varName] = v
	return v
}

// execPrint substitutes the first matching variable name in text with its
// value and strips '"' and '+' characters from the result (a quirk carried
// over verbatim from the original implementation). The caller logs the
// rendered text on the regular per-instruction line and appends the
// standard Hello-world line separately, since only it has the timestamp
// and core id the log format needs.
func execPrint(p *process.Process, text string) string {
	rendered := text
	for name, value := range p.Vars {
		if idx := strings.Index(rendered, name); idx >= 0 {
			rendered = rendered[:idx] + strconv.Itoa(int(value)) + rendered[idx+len(name):]
			break
		}
	}
	return strings.NewReplacer(`"`, "", "+", "").Replace(rendered)
}

// HelloWorldLine is the standard PRINT companion line the spec requires.
func HelloWorldLine(name string) string {
	return fmt.Sprintf("Hello world from %s!", name)
}

// --- Auto-generated programs -----------------------------------------

// AutoMode selects between the fixed alternating pattern and the
// random-mix bag of bare opcode tokens.
type AutoMode int

const (
	AutoFixed AutoMode = iota
	AutoRandomMix
)

// AutoProgram is the auto-generated program flavor described in spec
// §4.1. Fixed-mode instructions are fully formed at generation time;
// random-mix instructions are bare opcode tokens whose operands are
// generated fresh on each execution.
type AutoProgram struct {
	mode         AutoMode
	rng          *rand.Rand
	instructions []string
}

// GenerateAuto builds an auto-generated program of exactly `total`
// instructions (subject to growth from FOR expansion at runtime).
func GenerateAuto(total int, mode AutoMode, rng *rand.Rand) *AutoProgram {
	instructions := make([]string, total)
	switch mode {
	case AutoRandomMix:
		bag := []string{"PRINT", "ADD", "SUBTRACT", "DECLARE", "SLEEP", "FOR"}
		for i := range instructions {
			instructions[i] = bag[rng.Intn(len(bag))]
		}
	default:
		for i := range instructions {
			switch {
			case i == 0:
				instructions[i] = "DECLARE X 0"
			case i%2 == 1:
				instructions[i] = "PRINT X"
			default:
				instructions[i] = fmt.Sprintf("ADD X X %d", 1+rng.Intn(10))
			}
		}
	}
	return &AutoProgram{mode: mode, rng: rng, instructions: instructions}
}

// Source returns the current (possibly FOR-expanded) instruction stream.
func (a *AutoProgram) Source() []string {
	return append([]string(nil), a.instructions...)
}

// Step executes one instruction, or decrements the sleep counter.
func (a *AutoProgram) Step(p *process.Process) process.StepResult {
	if p.SleepCounter > 0 {
		p.SleepCounter--
		return process.StepResult{}
	}
	if p.Executed >= len(a.instructions) {
		return process.StepResult{Finished: true}
	}

	idx := p.Executed
	fields := strings.Fields(a.instructions[idx])
	op := fields[0]

	var line, suffix string
	var extra []string
	switch op {
	case "PRINT":
		text := "X"
		if len(fields) > 1 {
			text = strings.Join(fields[1:], " ")
		}
		rendered := execPrint(p, text)
		line = fmt.Sprintf("PRINT %s", rendered)
		extra = append(extra, HelloWorldLine(p.Name))

	case "ADD":
		dest, o1, o2 := "X", "X", strconv.Itoa(1+a.rng.Intn(10))
		if len(fields) >= 4 {
			dest, o1, o2 = fields[1], fields[2], fields[3]
		}
		v := execAdd(p, dest, o1, o2)
		line = fmt.Sprintf("ADD %s %s %s", dest, o1, o2)
		suffix = strconv.Itoa(int(v))

	case "SUBTRACT":
		dest, o1, o2 := "X", "X", strconv.Itoa(1+a.rng.Intn(10))
		if len(fields) >= 4 {
			dest, o1, o2 = fields[1], fields[2], fields[3]
		}
		execSubtract(p, dest, o1, o2)
		line = fmt.Sprintf("SUBTRACT %s %s %s", dest, o1, o2)

	case "DECLARE":
		name, val := "X", int64(0)
		if len(fields) >= 3 {
			name = fields[1]
			if n, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
				val = n
			}
		}
		execDeclare(p, name, val)
		line = fmt.Sprintf("DECLARE %s %d", name, process.Clamp16(val))

	case "SLEEP":
		p.SleepCounter = 1 + a.rng.Intn(3)
		line = "SLEEP"

	case "FOR":
		n := p.Remaining - 1
		if n > 3 {
			n = 3
		}
		if n < 0 {
			n = 0
		}
		inserted := make([]string, n)
		for i := range inserted {
			inserted[i] = "PRINT X"
		}
		tail := append([]string(nil), a.instructions[idx+1:]...)
		a.instructions = append(a.instructions[:idx+1], append(inserted, tail...)...)
		p.Total += n
		p.Remaining += n
		line = "FOR"

	default:
		log.WithField("op", op).Warn("auto-generated program produced an unrecognized token")
		line = op
	}

	p.Executed++
	p.Remaining--
	return process.StepResult{
		Executed:          true,
		Instruction:       line,
		AccumulatorSuffix: suffix,
		ExtraLines:        extra,
		Finished:          p.Remaining <= 0,
	}
}

// --- Custom programs ----------------------------------------------------

// CustomProgram is the whitelisted-opcode program flavor. Unknown opcodes
// are dropped at compile time, per spec.
type CustomProgram struct {
	instructions []string
}

// Compile builds a CustomProgram, silently dropping (with a warning log)
// any instruction whose opcode is not in the whitelist.
func Compile(raw []string) *CustomProgram {
	out := make([]string, 0, len(raw))
	for _, ins := range raw {
		fields := strings.Fields(ins)
		if len(fields) == 0 {
			continue
		}
		if !customWhitelist[fields[0]] {
			log.WithField("instruction", ins).Warn("dropping unknown opcode at load time")
			continue
		}
		out = append(out, ins)
	}
	return &CustomProgram{instructions: out}
}

// Source returns the compiled instruction stream.
func (c *CustomProgram) Source() []string {
	return append([]string(nil), c.instructions...)
}

// Step executes one instruction, or decrements the sleep counter.
func (c *CustomProgram) Step(p *process.Process) process.StepResult {
	if p.SleepCounter > 0 {
		p.SleepCounter--
		return process.StepResult{}
	}
	if p.Executed >= len(c.instructions) {
		return process.StepResult{Finished: true}
	}

	idx := p.Executed
	fields := strings.Fields(c.instructions[idx])
	op := fields[0]
	args := fields[1:]

	var line string
	var extra []string
	switch op {
	case "DECLARE":
		name, val := arg(args, 0, "X"), int64(0)
		if len(args) >= 2 {
			if n, err := strconv.ParseInt(args[1], 10, 64); err == nil {
				val = n
			}
		}
		execDeclare(p, name, val)
		line = fmt.Sprintf("DECLARE %s %d", name, process.Clamp16(val))

	case "ADD":
		dest, a, b := arg(args, 0, "X"), arg(args, 1, "0"), arg(args, 2, "0")
		execAdd(p, dest, a, b)
		line = fmt.Sprintf("ADD %s %s %s", dest, a, b)

	case "SUBTRACT":
		dest, a, b := arg(args, 0, "X"), arg(args, 1, "0"), arg(args, 2, "0")
		execSubtract(p, dest, a, b)
		line = fmt.Sprintf("SUBTRACT %s %s %s", dest, a, b)

	case "SLEEP":
		dur := 1
		if len(args) >= 1 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				dur = n
			}
		}
		if dur < 1 {
			dur = 1
		}
		p.SleepCounter = dur
		line = fmt.Sprintf("SLEEP %d", dur)

	case "WRITE":
		addr, v := arg(args, 0, ""), arg(args, 1, "0")
		written := execWrite(p, addr, v)
		line = fmt.Sprintf("WRITE %s %s", addr, v)
		extra = append(extra, fmt.Sprintf("memory[%s] = %d", addr, written))

	case "READ":
		v, addr := arg(args, 0, "X"), arg(args, 1, "")
		read := execRead(p, v, addr)
		line = fmt.Sprintf("READ %s %s", v, addr)
		extra = append(extra, fmt.Sprintf("%s = memory[%s] (%d)", v, addr, read))

	case "PRINT":
		text := strings.Join(args, " ")
		rendered := execPrint(p, text)
		line = fmt.Sprintf("PRINT %s", rendered)
		extra = append(extra, HelloWorldLine(p.Name))

	default:
		// Unreachable: Compile already dropped anything not whitelisted.
		line = op
	}

	p.Executed++
	p.Remaining--
	return process.StepResult{
		Executed:    true,
		Instruction: line,
		ExtraLines:  extra,
		Finished:    p.Remaining <= 0,
	}
}

func arg(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}
