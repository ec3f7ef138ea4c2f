package cpu

import "strings"

// RFlags is the flags register.
type RFlags uint64

const (
	Carry             RFlags = 1 << 0
	Reserved1         RFlags = 1 << 1 // always set
	Parity            RFlags = 1 << 2
	AuxiliaryCarry    RFlags = 1 << 4
	Zero              RFlags = 1 << 6
	Sign              RFlags = 1 << 7
	Trap              RFlags = 1 << 8
	InterruptsEnabled RFlags = 1 << 9
	Direction         RFlags = 1 << 10
	Overflow          RFlags = 1 << 11
)

func (f RFlags) String() string {
	var parts []string
	for _, n := range []struct {
		f    RFlags
		name string
	}{
		{Carry, "CF"}, {Reserved1, "1"}, {Parity, "PF"}, {AuxiliaryCarry, "AF"},
		{Zero, "ZF"}, {Sign, "SF"}, {Trap, "TF"}, {InterruptsEnabled, "IF"},
		{Direction, "DF"}, {Overflow, "OF"},
	} {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Segment selectors installed by the descriptor table.
const (
	KernelCS uint64 = 0x08
	KernelDS uint64 = 0x10
	UserDS   uint64 = 0x1B
	UserCS   uint64 = 0x23
)

// Privilege returns the requested privilege level of a selector.
func Privilege(selector uint64) uint64 { return selector & 3 }
