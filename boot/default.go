package boot

import (
	"fmt"

	"github.com/joshuapare/kestrel/internal/layout"
)

const (
	mib = 1 << 20
	kib = 1 << 10

	// MinMemory is the smallest RAM size DefaultMap can lay out.
	MinMemory = 4 * mib
)

// DefaultMap lays out a PC-like memory map for size bytes of RAM:
//
//	0x00000000  reserved (real-mode area, VGA text buffer at 0xB8000)
//	0x00100000  kernel code (256 KiB)
//	0x00140000  kernel stack (64 KiB)
//	0x00150000  kernel data (64 KiB)
//	0x00160000  available
//	size-512K   ACPI tables (256 KiB)
//	size-256K   available
func DefaultMap(size uint64) (MemoryMap, error) {
	if size < MinMemory || !layout.IsAligned(size) {
		return MemoryMap{}, fmt.Errorf("%w: need at least %d aligned bytes, got %d", ErrBadDescriptor, MinMemory, size)
	}
	p := func(n uint64) layout.PhysAddr { return layout.PhysAddr(n) }

	return NewMemoryMap(
		Descriptor{PhysStart: p(0), PhysEnd: p(1 * mib), Type: Reserved},
		Descriptor{PhysStart: p(1 * mib), PhysEnd: p(1*mib + 256*kib), Type: KernelCode},
		Descriptor{PhysStart: p(1*mib + 256*kib), PhysEnd: p(1*mib + 320*kib), Type: KernelStack},
		Descriptor{PhysStart: p(1*mib + 320*kib), PhysEnd: p(1*mib + 384*kib), Type: KernelData},
		Descriptor{PhysStart: p(1*mib + 384*kib), PhysEnd: p(size - 512*kib), Type: Available},
		Descriptor{PhysStart: p(size - 512*kib), PhysEnd: p(size - 256*kib), Type: AcpiData},
		Descriptor{PhysStart: p(size - 256*kib), PhysEnd: p(size), Type: Available},
	)
}
