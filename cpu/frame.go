// Package cpu models the single core the kernel runs on: the trap frame, the
// flags register, segment selectors, the MMU registers and TLB, the timer and
// the interrupt controller.
package cpu

import (
	"fmt"
)

// Register names a general purpose register.
type Register uint8

// Registers in the order the trap entry pushes them.
const (
	R15 Register = iota
	R14
	R13
	R12
	R11
	R10
	R9
	R8
	RBP
	RDI
	RSI
	RDX
	RCX
	RBX
	RAX

	NumRegisters = int(RAX) + 1
)

var registerNames = [NumRegisters]string{
	"r15", "r14", "r13", "r12", "r11", "r10", "r9", "r8",
	"rbp", "rdi", "rsi", "rdx", "rcx", "rbx", "rax",
}

func (r Register) String() string {
	if int(r) < NumRegisters {
		return registerNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// Frame is the register state saved at trap entry and restored on return.
type Frame struct {
	Regs [NumRegisters]uint64

	Vector    uint64
	ErrorCode uint64

	RIP    uint64
	CS     uint64
	RFlags RFlags
	RSP    uint64
	SS     uint64
}

// NewFrame synthesizes the state a new thread starts from: execution at
// entry on the given stack with interrupts enabled.
func NewFrame(entry, stackTop uint64, user bool) *Frame {
	f := &Frame{
		RIP:    entry,
		RSP:    stackTop,
		RFlags: Reserved1 | InterruptsEnabled,
		CS:     KernelCS,
		SS:     KernelDS,
	}
	if user {
		f.CS, f.SS = UserCS, UserDS
	}
	return f
}

// Reg returns a general purpose register.
func (f *Frame) Reg(r Register) uint64 { return f.Regs[r] }

// SetReg sets a general purpose register.
func (f *Frame) SetReg(r Register, v uint64) { f.Regs[r] = v }

// UserMode reports whether the frame runs at the lowest privilege level.
func (f *Frame) UserMode() bool { return Privilege(f.CS) == 3 }

// Clone returns a copy of f.
func (f *Frame) Clone() *Frame {
	c := *f
	return &c
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{rip=%#x rsp=%#x cs=%#x ss=%#x rflags=%s}", f.RIP, f.RSP, f.CS, f.SS, f.RFlags)
}
