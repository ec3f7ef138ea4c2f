// Package paging builds and walks 4-level page tables stored in simulated
// physical memory.
package paging

import (
	"fmt"
	"strings"

	"github.com/joshuapare/kestrel/internal/layout"
)

// Flags are the permission and caching bits of a page-table entry.
type Flags uint64

const (
	Present       Flags = 1 << 0
	Writable      Flags = 1 << 1
	User          Flags = 1 << 2
	WriteThrough  Flags = 1 << 3
	CacheDisabled Flags = 1 << 4
	Accessed      Flags = 1 << 5
	Dirty         Flags = 1 << 6
	HugePage      Flags = 1 << 7
	Global        Flags = 1 << 8
	NoExecute     Flags = 1 << 63

	flagMask = NoExecute | 0xFFF
)

// AddrMask selects the frame address bits of an entry.
const AddrMask = 0x000F_FFFF_FFFF_F000

var flagNames = []struct {
	f    Flags
	name string
}{
	{Present, "P"},
	{Writable, "W"},
	{User, "U"},
	{WriteThrough, "WT"},
	{CacheDisabled, "CD"},
	{Accessed, "A"},
	{Dirty, "D"},
	{HugePage, "PS"},
	{Global, "G"},
	{NoExecute, "NX"},
}

// Has reports whether every bit in want is set.
func (f Flags) Has(want Flags) bool { return f&want == want }

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Entry is a raw page-table entry.
type Entry uint64

// NewEntry encodes phys and flags.
func NewEntry(phys layout.PhysAddr, flags Flags) Entry {
	return Entry(uint64(phys)&AddrMask | uint64(flags&flagMask))
}

// Addr returns the frame the entry points at.
func (e Entry) Addr() layout.PhysAddr { return layout.PhysAddr(uint64(e) & AddrMask) }

// Flags returns the entry's flag bits.
func (e Entry) Flags() Flags { return Flags(e) & flagMask }

// Present reports whether the entry is present.
func (e Entry) Present() bool { return Flags(e)&Present != 0 }

func (e Entry) String() string {
	return fmt.Sprintf("%#x[%s]", uint64(e.Addr()), e.Flags())
}

// Indexer splits a virtual address into its four table indices.
type Indexer struct {
	L4, L3, L2, L1 uint64
	Offset         uint64
}

// NewIndexer decomposes virt.
func NewIndexer(virt layout.VirtAddr) Indexer {
	v := uint64(virt)
	return Indexer{
		L4:     (v >> 39) & 0x1FF,
		L3:     (v >> 30) & 0x1FF,
		L2:     (v >> 21) & 0x1FF,
		L1:     (v >> 12) & 0x1FF,
		Offset: v & layout.PageMask,
	}
}

// Path returns the indices root first.
func (i Indexer) Path() [layout.Levels]uint64 {
	return [layout.Levels]uint64{i.L4, i.L3, i.L2, i.L1}
}

// Canonical returns the canonical virtual address for root-table index l4
// and the lower indices.
func Canonical(l4, l3, l2, l1 uint64) layout.VirtAddr {
	v := l4<<39 | l3<<30 | l2<<21 | l1<<12
	if l4 >= layout.KernelHalfStart {
		v |= 0xFFFF_0000_0000_0000
	}
	return layout.VirtAddr(v)
}
