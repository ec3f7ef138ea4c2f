package physmem

import (
	"fmt"

	"github.com/joshuapare/kestrel/internal/layout"
)

// View resolves kernel pointers into physical memory.
//
// Before the kernel's own tables are active, physical memory is identity
// mapped and pointers equal physical addresses. Afterwards every table
// pointer is a direct-map address (phys + layout.DirectMapBase). View
// accepts both forms so callers can rebase at any time.
type View struct {
	mem *Memory
}

// NewView returns a view over mem.
func NewView(mem *Memory) *View {
	return &View{mem: mem}
}

// Resolve converts a kernel pointer to the physical address it refers to.
func (v *View) Resolve(ptr layout.VirtAddr) (layout.PhysAddr, error) {
	var phys layout.PhysAddr
	if ptr >= layout.DirectMapBase {
		phys = layout.PhysAddr(ptr - layout.DirectMapBase)
	} else {
		phys = layout.PhysAddr(ptr)
	}
	if uint64(phys) >= v.mem.Size() {
		return 0, fmt.Errorf("%w: pointer %#x", ErrOutOfRange, uint64(ptr))
	}
	return phys, nil
}

// ReadU64 reads the word at ptr.
func (v *View) ReadU64(ptr layout.VirtAddr) (uint64, error) {
	phys, err := v.Resolve(ptr)
	if err != nil {
		return 0, err
	}
	return v.mem.ReadU64(phys)
}

// WriteU64 writes the word at ptr.
func (v *View) WriteU64(ptr layout.VirtAddr, val uint64) error {
	phys, err := v.Resolve(ptr)
	if err != nil {
		return err
	}
	return v.mem.WriteU64(phys, val)
}

// ZeroPage clears the page ptr points into.
func (v *View) ZeroPage(ptr layout.VirtAddr) error {
	phys, err := v.Resolve(ptr)
	if err != nil {
		return err
	}
	return v.mem.ZeroPage(phys)
}

// Memory returns the underlying RAM.
func (v *View) Memory() *Memory { return v.mem }
