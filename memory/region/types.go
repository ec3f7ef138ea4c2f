package region

import (
	"fmt"
	"strings"

	"github.com/joshuapare/kestrel/internal/arena"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/memory/paging"
)

// Flags describe what an object may be used for.
type Flags uint8

const (
	Write  Flags = 1 << iota // writable
	Exec                     // executable
	User                     // reachable from user mode
	Device                   // fixed physical registers, never zeroed or freed
)

// PageFlags derives the leaf entry flags for pages of an object.
func (f Flags) PageFlags() paging.Flags {
	flags := paging.Present
	if f&Write != 0 {
		flags |= paging.Writable
	}
	if f&Exec == 0 {
		flags |= paging.NoExecute
	}
	if f&User != 0 {
		flags |= paging.User
	}
	if f&Device != 0 {
		flags |= paging.CacheDisabled | paging.WriteThrough
	}
	return flags
}

func (f Flags) String() string {
	var b strings.Builder
	for _, c := range []struct {
		f Flags
		r byte
	}{{Write, 'w'}, {Exec, 'x'}, {User, 'u'}, {Device, 'd'}} {
		if f&c.f != 0 {
			b.WriteByte(c.r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Backing selects where an object's frames come from.
type Backing struct {
	fixed bool
	phys  layout.PhysAddr
}

// AnyPages backs every page with a fresh frame.
var AnyPages = Backing{}

// FixedAddress backs the object with the physical range starting at phys.
func FixedAddress(phys layout.PhysAddr) Backing {
	return Backing{fixed: true, phys: layout.PhysAddr(layout.AlignDown(uint64(phys)))}
}

// Fixed reports whether the backing is a caller-chosen address.
func (b Backing) Fixed() bool { return b.fixed }

func (b Backing) String() string {
	if b.fixed {
		return fmt.Sprintf("fixed(%#x)", uint64(b.phys))
	}
	return "any"
}

// object is a node of the sorted object list.
type object struct {
	base   uint64 // offset in the window
	length uint64
	flags  Flags
	prev   arena.Handle
	next   arena.Handle
}

func (o *object) end() uint64 { return o.base + o.length }

// Object describes an allocated object.
type Object struct {
	Base   layout.VirtAddr
	Length uint64
	Flags  Flags
}

// Pages returns the object's size in pages.
func (o Object) Pages() uint64 { return o.Length >> layout.PageShift }

// Stats is a snapshot of the allocator's accounting.
type Stats struct {
	CapacityPages  uint64
	AllocatedPages uint64
	Objects        int
}

// FreePages returns the remaining page budget.
func (s Stats) FreePages() uint64 { return s.CapacityPages - s.AllocatedPages }
