// Package boot models what the firmware hands the kernel: the physical
// memory map.
package boot

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/joshuapare/kestrel/internal/layout"
)

var (
	// ErrEmptyMap indicates a memory map without descriptors.
	ErrEmptyMap = errors.New("boot: memory map has no descriptors")

	// ErrBadDescriptor indicates a descriptor with misaligned or inconsistent bounds.
	ErrBadDescriptor = errors.New("boot: bad descriptor")

	// ErrOverlap indicates two descriptors covering the same frames.
	ErrOverlap = errors.New("boot: overlapping descriptors")

	// ErrUnknownType indicates a memory type name that does not parse.
	ErrUnknownType = errors.New("boot: unknown memory type")
)

// MemoryType classifies a descriptor.
type MemoryType uint8

const (
	Available MemoryType = iota
	Reserved
	KernelCode  // kernel image
	KernelStack // boot stack
	KernelData  // boot info, memory map
	AcpiData
)

var memoryTypeNames = [...]string{
	Available:   "available",
	Reserved:    "reserved",
	KernelCode:  "kernel-code",
	KernelStack: "kernel-stack",
	KernelData:  "kernel-data",
	AcpiData:    "acpi-data",
}

func (t MemoryType) String() string {
	if int(t) < len(memoryTypeNames) {
		return memoryTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// MarshalText encodes the type by name.
func (t MemoryType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name.
func (t *MemoryType) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range memoryTypeNames {
		if n == name {
			*t = MemoryType(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownType, string(b))
}

// Descriptor is one contiguous physical range of a single type.
type Descriptor struct {
	PhysStart layout.PhysAddr `json:"phys_start"`
	PhysEnd   layout.PhysAddr `json:"phys_end"`
	NumPages  uint64          `json:"num_pages"`
	Type      MemoryType      `json:"type"`
}

// Size returns the descriptor length in bytes.
func (d Descriptor) Size() uint64 {
	return uint64(d.PhysEnd - d.PhysStart)
}

// Contains reports whether addr lies inside d.
func (d Descriptor) Contains(addr layout.PhysAddr) bool {
	return addr >= d.PhysStart && addr < d.PhysEnd
}

func (d Descriptor) String() string {
	return fmt.Sprintf("Descriptor{%#x-%#x pages=%d type=%s}",
		uint64(d.PhysStart), uint64(d.PhysEnd), d.NumPages, d.Type)
}

// MemoryMap is the firmware memory map.
type MemoryMap struct {
	Descriptors []Descriptor    `json:"descriptors"`
	FirstAddr   layout.PhysAddr `json:"first_addr"`
	LastAddr    layout.PhysAddr `json:"last_addr"`
}

// NewMemoryMap builds a map from descriptors, sorting them and filling
// NumPages, FirstAddr and LastAddr.
func NewMemoryMap(descs ...Descriptor) (MemoryMap, error) {
	out := make([]Descriptor, len(descs))
	copy(out, descs)
	sort.Slice(out, func(i, j int) bool { return out[i].PhysStart < out[j].PhysStart })

	m := MemoryMap{Descriptors: out}
	for i := range m.Descriptors {
		d := &m.Descriptors[i]
		if d.NumPages == 0 {
			d.NumPages = d.Size() >> layout.PageShift
		}
	}
	if len(out) > 0 {
		m.FirstAddr = out[0].PhysStart
		m.LastAddr = out[len(out)-1].PhysEnd
	}
	return m, m.Validate()
}

// Validate checks alignment, page counts and overlaps. Descriptors must be
// sorted by start address.
func (m MemoryMap) Validate() error {
	if len(m.Descriptors) == 0 {
		return ErrEmptyMap
	}
	var prevEnd layout.PhysAddr
	for i, d := range m.Descriptors {
		if !layout.IsAligned(uint64(d.PhysStart)) || !layout.IsAligned(uint64(d.PhysEnd)) {
			return fmt.Errorf("%w: %s not page aligned", ErrBadDescriptor, d)
		}
		if d.PhysEnd <= d.PhysStart {
			return fmt.Errorf("%w: %s is empty", ErrBadDescriptor, d)
		}
		if d.NumPages != d.Size()>>layout.PageShift {
			return fmt.Errorf("%w: %s page count mismatch", ErrBadDescriptor, d)
		}
		if i > 0 && d.PhysStart < prevEnd {
			return fmt.Errorf("%w: %s", ErrOverlap, d)
		}
		if d.PhysEnd > m.LastAddr {
			return fmt.Errorf("%w: %s ends past last address %#x", ErrBadDescriptor, d, uint64(m.LastAddr))
		}
		prevEnd = d.PhysEnd
	}
	return nil
}

// Available returns the available descriptors in address order.
func (m MemoryMap) Available() []Descriptor {
	var out []Descriptor
	for _, d := range m.Descriptors {
		if d.Type == Available {
			out = append(out, d)
		}
	}
	return out
}

// TotalAvailable returns the number of available bytes.
func (m MemoryMap) TotalAvailable() uint64 {
	var total uint64
	for _, d := range m.Descriptors {
		if d.Type == Available {
			total += d.Size()
		}
	}
	return total
}

// Lowest returns the smallest start address among descriptors of type t.
func (m MemoryMap) Lowest(t MemoryType) (layout.PhysAddr, bool) {
	found := false
	var lowest layout.PhysAddr
	for _, d := range m.Descriptors {
		if d.Type != t {
			continue
		}
		if !found || d.PhysStart < lowest {
			lowest = d.PhysStart
			found = true
		}
	}
	return lowest, found
}

// TypeOf returns the type of the descriptor containing addr.
func (m MemoryMap) TypeOf(addr layout.PhysAddr) (MemoryType, bool) {
	for _, d := range m.Descriptors {
		if d.Contains(addr) {
			return d.Type, true
		}
	}
	return 0, false
}
