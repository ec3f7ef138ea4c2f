package paging

import (
	"fmt"

	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/physmem"
)

// Translation is the result of a hardware-style walk.
type Translation struct {
	// Leaf is the final entry.
	Leaf Entry

	// Effective holds the permissions the whole path grants: Writable and
	// User only if every level has them, NoExecute if any level has it.
	Effective Flags
}

// Phys returns the physical address virt resolves to.
func (t Translation) Phys(virt layout.VirtAddr) layout.PhysAddr {
	return t.Leaf.Addr().Add(uint64(virt) & layout.PageMask)
}

// Walk translates virt through the tables rooted at root by reading physical
// memory directly, the way the MMU does. It takes no locks.
func Walk(mem *physmem.Memory, root layout.PhysAddr, virt layout.VirtAddr) (Entry, error) {
	t, err := Resolve(mem, root, virt)
	return t.Leaf, err
}

// Resolve walks like Walk and also accumulates the effective permissions.
func Resolve(mem *physmem.Memory, root layout.PhysAddr, virt layout.VirtAddr) (Translation, error) {
	eff := Writable | User
	table := root
	path := NewIndexer(virt).Path()
	for level, idx := range path {
		raw, err := mem.ReadU64(table.Add(idx * layout.EntrySize))
		if err != nil {
			return Translation{}, err
		}
		e := Entry(raw)
		if !e.Present() {
			return Translation{}, fmt.Errorf("%w: %#x (level %d)", ErrNotMapped, uint64(virt), layout.Levels-level)
		}
		eff &= e.Flags() | ^(Writable | User)
		eff |= e.Flags() & NoExecute
		if level == len(path)-1 {
			return Translation{Leaf: e, Effective: eff | Present}, nil
		}
		table = e.Addr()
	}
	panic("unreachable")
}
