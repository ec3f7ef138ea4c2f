package paging

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kestrel/internal/layout"
)

// CopyKernelHalf copies the higher-half root entries of the active tables
// into the root table at dst.
func (m *Manager) CopyKernelHalf(dst layout.PhysAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := uint64(layout.KernelHalfStart); i < layout.EntriesPerTable; i++ {
		e, err := m.read(m.root, i)
		if err != nil {
			return err
		}
		if err := m.write(dst, i, e); err != nil {
			return err
		}
	}
	return nil
}

// CopyRange mirrors every present mapping of the active tables in
// [start, end) into the tables rooted at dst. The mappings share frames.
// Only user mappings can be copied.
func (m *Manager) CopyRange(dst layout.PhysAddr, start, end layout.VirtAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	first := layout.VirtAddr(layout.AlignDown(uint64(start)))
	for v := first; v < end; v += layout.PageSize {
		_, e, err := m.leafLocked(m.root, v)
		if errors.Is(err, ErrNotMapped) {
			continue
		}
		if err != nil {
			return err
		}
		if e.Flags()&User == 0 {
			return fmt.Errorf("%w: %#x", ErrNotUserMapping, uint64(v))
		}
		if err := m.mapLocked(dst, v, e.Addr(), e.Flags()); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseUserTables frees the lower-half tables reachable from root and
// clears the corresponding root entries. Leaf frames are not freed; they
// belong to whoever mapped them.
func (m *Manager) ReleaseUserTables(root layout.PhysAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	freed := 0
	for i := uint64(0); i < layout.KernelHalfStart; i++ {
		e, err := m.read(root, i)
		if err != nil {
			return freed, err
		}
		if !e.Present() {
			continue
		}
		n, err := m.releaseTable(e.Addr(), 3)
		freed += n
		if err != nil {
			return freed, err
		}
		if err := m.write(root, i, 0); err != nil {
			return freed, err
		}
	}
	return freed, nil
}

// releaseTable frees table and, above level 1, its child tables.
func (m *Manager) releaseTable(table layout.PhysAddr, level int) (int, error) {
	freed := 0
	if level > 1 {
		for i := uint64(0); i < layout.EntriesPerTable; i++ {
			e, err := m.read(table, i)
			if err != nil {
				return freed, err
			}
			if !e.Present() || e.Flags()&HugePage != 0 {
				continue
			}
			n, err := m.releaseTable(e.Addr(), level-1)
			freed += n
			if err != nil {
				return freed, err
			}
		}
	}
	if err := m.frames.FreeFrame(table); err != nil {
		return freed, err
	}
	return freed + 1, nil
}
