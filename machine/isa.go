package machine

import (
	"fmt"

	"github.com/joshuapare/kestrel/cpu"
)

// InstrSize is the width of one encoded instruction. RIP advances by it.
const InstrSize = 8

// Op is an instruction opcode.
type Op uint8

const (
	OpNop Op = iota
	OpSet
	OpLoop
	OpPush
	OpPop
	OpPrint
	OpSpawnThread
	OpSpawnProcess
	OpJoin
	OpSleep
	OpExit
	OpHalt
)

var opNames = [...]string{
	OpNop:          "nop",
	OpSet:          "set",
	OpLoop:         "loop",
	OpPush:         "push",
	OpPop:          "pop",
	OpPrint:        "print",
	OpSpawnThread:  "spawn-thread",
	OpSpawnProcess: "spawn-process",
	OpJoin:         "join",
	OpSleep:        "sleep",
	OpExit:         "exit",
	OpHalt:         "halt",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Instr is one decoded instruction. Which fields matter depends on Op.
type Instr struct {
	Op     Op
	Reg    cpu.Register
	Imm    uint64
	Text   string
	Target string // program name for spawns
}

func (i Instr) String() string {
	switch i.Op {
	case OpSet:
		return fmt.Sprintf("set %s, %d", i.Reg, i.Imm)
	case OpLoop:
		return fmt.Sprintf("loop %s, @%d", i.Reg, i.Imm)
	case OpPush, OpPop, OpJoin:
		return fmt.Sprintf("%s %s", i.Op, i.Reg)
	case OpPrint:
		return fmt.Sprintf("print %q", i.Text)
	case OpSpawnThread, OpSpawnProcess:
		return fmt.Sprintf("%s %s -> %s", i.Op, i.Target, i.Reg)
	case OpSleep:
		return fmt.Sprintf("sleep %dms", i.Imm)
	default:
		return i.Op.String()
	}
}

// Nop does nothing for one instruction.
func Nop() Instr { return Instr{Op: OpNop} }

// Set loads imm into reg.
func Set(reg cpu.Register, imm uint64) Instr { return Instr{Op: OpSet, Reg: reg, Imm: imm} }

// Loop decrements reg and jumps to instruction index target while it is
// non-zero.
func Loop(reg cpu.Register, target int) Instr {
	return Instr{Op: OpLoop, Reg: reg, Imm: uint64(target)}
}

// Push stores reg on the thread's stack.
func Push(reg cpu.Register) Instr { return Instr{Op: OpPush, Reg: reg} }

// Pop loads reg from the thread's stack.
func Pop(reg cpu.Register) Instr { return Instr{Op: OpPop, Reg: reg} }

// Print writes text to the console.
func Print(text string) Instr { return Instr{Op: OpPrint, Text: text} }

// SpawnThread starts program as a thread of the calling process and leaves
// the thread id in reg, or zero on failure.
func SpawnThread(program string, reg cpu.Register) Instr {
	return Instr{Op: OpSpawnThread, Target: program, Reg: reg}
}

// SpawnProcess starts program as a new process and leaves the process id in
// reg, or zero on failure.
func SpawnProcess(program string, reg cpu.Register) Instr {
	return Instr{Op: OpSpawnProcess, Target: program, Reg: reg}
}

// Join waits for the thread whose id is in reg before the caller may exit.
func Join(reg cpu.Register) Instr { return Instr{Op: OpJoin, Reg: reg} }

// Sleep suspends the caller for ms milliseconds of uptime.
func Sleep(ms uint64) Instr { return Instr{Op: OpSleep, Imm: ms} }

// Exit ends the calling thread.
func Exit() Instr { return Instr{Op: OpExit} }

// Halt idles until the next interrupt.
func Halt() Instr { return Instr{Op: OpHalt} }

// Repeat returns body wrapped in a counted loop on reg.
func Repeat(reg cpu.Register, n uint64, start int, body ...Instr) []Instr {
	out := make([]Instr, 0, len(body)+2)
	out = append(out, Set(reg, n))
	out = append(out, body...)
	return append(out, Loop(reg, start+1))
}
