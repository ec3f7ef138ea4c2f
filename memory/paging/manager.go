package paging

import (
	"fmt"

	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/logger"
	"github.com/joshuapare/kestrel/internal/physmem"
	"github.com/joshuapare/kestrel/internal/spin"
)

// Frames supplies and takes back the frames that hold page tables.
type Frames interface {
	RequestPage() (layout.PhysAddr, error)
	FreeFrame(addr layout.PhysAddr) error
}

// MMU receives the translation changes the manager makes.
type MMU interface {
	LoadRoot(root layout.PhysAddr)
	InvalidatePage(virt layout.VirtAddr)
}

// Options configures a Manager.
type Options struct {
	// MMU is told about root switches and unmaps. Optional.
	MMU MMU

	// Order enforces the lock hierarchy. Optional.
	Order *spin.Order
}

// Manager owns the active page-table root.
//
// Table frames are reached through a rebase offset: a table at physical
// address p is read at p+offset. With a zero offset tables are reached
// through the boot identity mapping; once the kernel's own tables are active
// the offset is the direct-map base.
type Manager struct {
	mu     *spin.Lock
	frames Frames
	view   *physmem.View
	mmu    MMU

	root      layout.PhysAddr
	offset    layout.VirtAddr
	kernelGen uint64
}

// New returns a manager for the tables rooted at root with a zero offset.
func New(root layout.PhysAddr, frames Frames, view *physmem.View, opts Options) *Manager {
	return &Manager{
		mu:     spin.New(opts.Order, spin.RankPageTables),
		frames: frames,
		view:   view,
		mmu:    opts.MMU,
		root:   root,
	}
}

// Root returns the physical address of the active root table.
func (m *Manager) Root() layout.PhysAddr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root
}

// Offset returns the current rebase offset.
func (m *Manager) Offset() layout.VirtAddr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// SetOffset changes the rebase offset.
func (m *Manager) SetOffset(offset layout.VirtAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = offset
}

// Switch makes root the active table and loads it into the MMU.
func (m *Manager) Switch(root layout.PhysAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = root
	if m.mmu != nil {
		m.mmu.LoadRoot(root)
	}
}

// KernelGeneration counts writes to higher-half root entries of the active
// root. Address spaces that copied the kernel half at an older generation are
// stale.
func (m *Manager) KernelGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kernelGen
}

// MapMemory maps virt to phys with flags in the active tables, creating
// intermediate tables as needed.
func (m *Manager) MapMemory(virt layout.VirtAddr, phys layout.PhysAddr, flags Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapLocked(m.root, virt, phys, flags)
}

// Unmap clears the leaf entry for virt and returns the frame it mapped.
func (m *Manager) Unmap(virt layout.VirtAddr) (layout.PhysAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, e, err := m.leafLocked(m.root, virt)
	if err != nil {
		return 0, err
	}
	if err := m.view.WriteU64(slot, 0); err != nil {
		return 0, err
	}
	if m.mmu != nil {
		m.mmu.InvalidatePage(virt)
	}
	return e.Addr(), nil
}

// GetPhysical translates virt.
func (m *Manager) GetPhysical(virt layout.VirtAddr) (layout.PhysAddr, error) {
	e, err := m.GetEntryData(virt)
	if err != nil {
		return 0, err
	}
	return e.Addr().Add(uint64(virt) & layout.PageMask), nil
}

// GetEntryData returns the leaf entry for virt.
func (m *Manager) GetEntryData(virt layout.VirtAddr) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, e, err := m.leafLocked(m.root, virt)
	return e, err
}

func (m *Manager) ptr(table layout.PhysAddr, idx uint64) layout.VirtAddr {
	return m.offset + layout.VirtAddr(uint64(table)+idx*layout.EntrySize)
}

func (m *Manager) read(table layout.PhysAddr, idx uint64) (Entry, error) {
	raw, err := m.view.ReadU64(m.ptr(table, idx))
	return Entry(raw), err
}

func (m *Manager) write(table layout.PhysAddr, idx uint64, e Entry) error {
	return m.view.WriteU64(m.ptr(table, idx), uint64(e))
}

func (m *Manager) mapLocked(root layout.PhysAddr, virt layout.VirtAddr, phys layout.PhysAddr, flags Flags) error {
	idx := NewIndexer(virt)
	user := flags&User != 0

	table := root
	for _, i := range []uint64{idx.L4, idx.L3, idx.L2} {
		next, err := m.nextTable(root, table, i, user)
		if err != nil {
			return fmt.Errorf("map %#x: %w", uint64(virt), err)
		}
		table = next
	}
	old, err := m.read(table, idx.L1)
	if err != nil {
		return err
	}
	if err := m.write(table, idx.L1, NewEntry(phys, flags)); err != nil {
		return err
	}
	// A replaced leaf of the active tables may still be cached.
	if old.Present() && root == m.root && m.mmu != nil {
		m.mmu.InvalidatePage(virt)
	}
	return nil
}

// nextTable returns the child of table at i, creating it when absent.
func (m *Manager) nextTable(root, table layout.PhysAddr, i uint64, user bool) (layout.PhysAddr, error) {
	e, err := m.read(table, i)
	if err != nil {
		return 0, err
	}
	if e.Present() {
		if user && e.Flags()&User == 0 {
			if err := m.write(table, i, NewEntry(e.Addr(), e.Flags()|User)); err != nil {
				return 0, err
			}
			m.kernelEntryChanged(root, table, i)
		}
		return e.Addr(), nil
	}

	frame, err := m.frames.RequestPage()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTableAlloc, err)
	}
	if err := m.view.ZeroPage(m.offset + layout.VirtAddr(frame)); err != nil {
		return 0, err
	}
	flags := Present | Writable
	if user {
		flags |= User
	}
	if err := m.write(table, i, NewEntry(frame, flags)); err != nil {
		return 0, err
	}
	m.kernelEntryChanged(root, table, i)
	return frame, nil
}

// kernelEntryChanged bumps the generation when entry i of the active root's
// higher half was written.
func (m *Manager) kernelEntryChanged(root, table layout.PhysAddr, i uint64) {
	if table == m.root && root == m.root && i >= layout.KernelHalfStart {
		m.kernelGen++
		logger.Debug("kernel root entry changed", "index", i, "generation", m.kernelGen)
	}
}

// leafLocked walks to the leaf for virt without creating tables and returns
// the leaf's location and value.
func (m *Manager) leafLocked(root layout.PhysAddr, virt layout.VirtAddr) (layout.VirtAddr, Entry, error) {
	idx := NewIndexer(virt)
	table := root
	for _, i := range []uint64{idx.L4, idx.L3, idx.L2} {
		e, err := m.read(table, i)
		if err != nil {
			return 0, 0, err
		}
		if !e.Present() {
			return 0, 0, fmt.Errorf("%w: %#x", ErrNotMapped, uint64(virt))
		}
		table = e.Addr()
	}
	e, err := m.read(table, idx.L1)
	if err != nil {
		return 0, 0, err
	}
	if !e.Present() {
		return 0, 0, fmt.Errorf("%w: %#x", ErrNotMapped, uint64(virt))
	}
	return m.ptr(table, idx.L1), e, nil
}
