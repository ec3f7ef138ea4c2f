// Package layout holds the page geometry and the fixed virtual address layout
// shared by every memory subsystem.
//
// Virtual layout:
//
//	0xFFFF_FFFF_FFFF_FFFF  end of the address space
//	0xFFFF_FFFF_C000_0000  region window (virtual region allocator)
//	0xFFFF_FFFF_8000_0000  kernel code, mapped at base+phys
//	0xFFFF_FFFF_7000_0000  kernel data (boot info, memory map)
//	0xFFFF_FFFF_6000_0000  kernel stack
//	0xFFFF_C000_0000_0000  kernel heap window
//	0xFFFF_8000_0000_0000  direct map of all available physical memory
//	0x0000_8000_0000_0000  end of the per-process user window
//	0x0000_0000_0040_0000  user program load base
package layout

// PhysAddr is an address in physical memory.
type PhysAddr uint64

// VirtAddr is an address in a virtual address space.
type VirtAddr uint64

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size of a physical frame and of a page mapping.
	PageSize = 1 << PageShift

	// PageMask selects the offset inside a page.
	PageMask = PageSize - 1

	// EntriesPerTable is the number of entries in every page-table level.
	EntriesPerTable = 512

	// EntrySize is the size in bytes of a single page-table entry.
	EntrySize = 8

	// Levels is the depth of the translation tree.
	Levels = 4

	// KernelHalfStart is the first root-table index belonging to the
	// higher half. Entries from here on are shared by every address space.
	KernelHalfStart = EntriesPerTable / 2
)

const (
	// DirectMapBase is where all available physical memory is mapped.
	DirectMapBase VirtAddr = 0xFFFF_8000_0000_0000

	// HeapBase is the start of the kernel heap window.
	HeapBase VirtAddr = 0xFFFF_C000_0000_0000

	// KernelStackBase is where the boot kernel stack is mapped.
	KernelStackBase VirtAddr = 0xFFFF_FFFF_6000_0000

	// KernelDataBase is where boot data (memory map, boot info) is mapped.
	KernelDataBase VirtAddr = 0xFFFF_FFFF_7000_0000

	// KernelCodeBase is where the kernel image is mapped (base+phys).
	KernelCodeBase VirtAddr = 0xFFFF_FFFF_8000_0000

	// RegionBase is the start of the window reserved for the region allocator.
	RegionBase VirtAddr = 0xFFFF_FFFF_C000_0000

	// RegionWindowSize bounds the region window.
	RegionWindowSize = 0x1000_0000

	// UserBase is where user programs are loaded.
	UserBase VirtAddr = 0x0000_0000_0040_0000

	// UserEnd is the first address above the per-process user window.
	UserEnd VirtAddr = 0x0000_8000_0000_0000
)

// AlignUp returns n aligned up to the next page boundary.
//
// Example:
//
//	AlignUp(1)    = 4096
//	AlignUp(4096) = 4096
//	AlignUp(4097) = 8192
func AlignUp(n uint64) uint64 {
	return (n + PageMask) &^ PageMask
}

// AlignDown returns n rounded down to its page boundary.
func AlignDown(n uint64) uint64 {
	return n &^ PageMask
}

// PageCount returns the number of pages needed to hold n bytes.
func PageCount(n uint64) uint64 {
	return AlignUp(n) >> PageShift
}

// IsAligned reports whether n sits on a page boundary.
func IsAligned(n uint64) bool {
	return n&PageMask == 0
}

// IsKernel reports whether v lies in the higher half.
func (v VirtAddr) IsKernel() bool {
	return v >= 0xFFFF_8000_0000_0000
}

// IsUser reports whether v lies in the per-process user window.
func (v VirtAddr) IsUser() bool {
	return v < UserEnd
}

// Add returns v advanced by n bytes.
func (v VirtAddr) Add(n uint64) VirtAddr { return v + VirtAddr(n) }

// Add returns p advanced by n bytes.
func (p PhysAddr) Add(n uint64) PhysAddr { return p + PhysAddr(n) }

// Frame returns the frame number of p.
func (p PhysAddr) Frame() uint64 { return uint64(p) >> PageShift }
