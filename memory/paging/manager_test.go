package paging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/physmem"
	"github.com/joshuapare/kestrel/memory/pmm"
)

type recordingMMU struct {
	roots       []layout.PhysAddr
	invalidated []layout.VirtAddr
}

func (r *recordingMMU) LoadRoot(root layout.PhysAddr)      { r.roots = append(r.roots, root) }
func (r *recordingMMU) InvalidatePage(virt layout.VirtAddr) { r.invalidated = append(r.invalidated, virt) }

type fixture struct {
	mem    *physmem.Memory
	frames *pmm.Allocator
	mmu    *recordingMMU
	m      *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem, err := physmem.New(16 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	mmap, err := boot.DefaultMap(16 << 20)
	require.NoError(t, err)
	frames, err := pmm.New(mmap, mem, nil)
	require.NoError(t, err)

	root := newRoot(t, frames, mem)
	mmu := &recordingMMU{}
	return &fixture{
		mem:    mem,
		frames: frames,
		mmu:    mmu,
		m:      New(root, frames, physmem.NewView(mem), Options{MMU: mmu}),
	}
}

func newRoot(t *testing.T, frames *pmm.Allocator, mem *physmem.Memory) layout.PhysAddr {
	t.Helper()
	root, err := frames.RequestPage()
	require.NoError(t, err)
	require.NoError(t, mem.ZeroPage(root))
	return root
}

func TestMapMemory_RoundTrip(t *testing.T) {
	f := newFixture(t)
	virt := layout.RegionBase + 0x3000
	phys := layout.PhysAddr(0x400000)

	require.NoError(t, f.m.MapMemory(virt, phys, Present|Writable))

	got, err := f.m.GetPhysical(virt)
	require.NoError(t, err)
	assert.Equal(t, phys, got)

	got, err = f.m.GetPhysical(virt + 0x123)
	require.NoError(t, err)
	assert.Equal(t, phys+0x123, got)

	old, err := f.m.Unmap(virt)
	require.NoError(t, err)
	assert.Equal(t, phys, old)
	assert.Equal(t, []layout.VirtAddr{virt}, f.mmu.invalidated)

	_, err = f.m.GetPhysical(virt)
	require.ErrorIs(t, err, ErrNotMapped)

	require.NoError(t, f.m.MapMemory(virt, phys+0x5000, Present|NoExecute))
	e, err := f.m.GetEntryData(virt)
	require.NoError(t, err)
	assert.Equal(t, phys+0x5000, e.Addr())
	assert.Equal(t, Present|NoExecute, e.Flags())
}

func TestMapMemory_RemapInvalidates(t *testing.T) {
	f := newFixture(t)
	virt := layout.RegionBase + 0x7000

	require.NoError(t, f.m.MapMemory(virt, 0x400000, Present|Writable))
	assert.Empty(t, f.mmu.invalidated, "fresh leaf has nothing cached")

	require.NoError(t, f.m.MapMemory(virt, 0x401000, Present))
	assert.Equal(t, []layout.VirtAddr{virt}, f.mmu.invalidated)

	got, err := f.m.GetPhysical(virt)
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x401000), got)

	// Copies into an inactive root leave the active translations alone.
	require.NoError(t, f.m.MapMemory(layout.UserBase, 0x500000, Present|User))
	dst := newRoot(t, f.frames, f.mem)
	require.NoError(t, f.m.CopyRange(dst, layout.UserBase, layout.UserBase+layout.PageSize))
	require.NoError(t, f.m.CopyRange(dst, layout.UserBase, layout.UserBase+layout.PageSize))
	assert.Equal(t, []layout.VirtAddr{virt}, f.mmu.invalidated)
}

func TestMapMemory_CreatesThreeTables(t *testing.T) {
	f := newFixture(t)
	before := f.frames.Stats().Used

	require.NoError(t, f.m.MapMemory(layout.UserBase, 0x400000, Present))
	assert.Equal(t, before+3*layout.PageSize, f.frames.Stats().Used)

	// Neighbouring page reuses the same tables.
	require.NoError(t, f.m.MapMemory(layout.UserBase+layout.PageSize, 0x401000, Present))
	assert.Equal(t, before+3*layout.PageSize, f.frames.Stats().Used)
}

func TestMapMemory_PromotesPathToUser(t *testing.T) {
	f := newFixture(t)
	root := f.m.Root()

	require.NoError(t, f.m.MapMemory(layout.UserBase, 0x400000, Present))
	raw, err := f.mem.ReadU64(root)
	require.NoError(t, err)
	assert.Zero(t, Entry(raw).Flags()&User)

	require.NoError(t, f.m.MapMemory(layout.UserBase+layout.PageSize, 0x401000, Present|User))

	table := root
	path := NewIndexer(layout.UserBase).Path()
	for _, idx := range path[:3] {
		raw, err := f.mem.ReadU64(table.Add(idx * layout.EntrySize))
		require.NoError(t, err)
		e := Entry(raw)
		assert.True(t, e.Flags().Has(Present|Writable|User), "entry %s", e)
		table = e.Addr()
	}

	e, err := Walk(f.mem, root, layout.UserBase+layout.PageSize)
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x401000), e.Addr())
}

func TestUnmap_DoesNotCreateTables(t *testing.T) {
	f := newFixture(t)
	before := f.frames.Stats()

	_, err := f.m.Unmap(layout.RegionBase)
	require.ErrorIs(t, err, ErrNotMapped)
	assert.Equal(t, before, f.frames.Stats())
	assert.Empty(t, f.mmu.invalidated)
}

func TestOffset_DirectMap(t *testing.T) {
	f := newFixture(t)
	virt := layout.KernelCodeBase

	require.NoError(t, f.m.MapMemory(virt, 0x100000, Present))
	f.m.SetOffset(layout.DirectMapBase)
	assert.Equal(t, layout.DirectMapBase, f.m.Offset())

	got, err := f.m.GetPhysical(virt)
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x100000), got)

	require.NoError(t, f.m.MapMemory(virt+layout.PageSize, 0x101000, Present))
	got, err = f.m.GetPhysical(virt + layout.PageSize)
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x101000), got)
}

func TestKernelGeneration(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.m.KernelGeneration())

	require.NoError(t, f.m.MapMemory(layout.UserBase, 0x400000, Present))
	assert.Zero(t, f.m.KernelGeneration(), "lower half does not count")

	require.NoError(t, f.m.MapMemory(layout.RegionBase, 0x400000, Present))
	assert.Equal(t, uint64(1), f.m.KernelGeneration())

	require.NoError(t, f.m.MapMemory(layout.KernelCodeBase, 0x100000, Present))
	assert.Equal(t, uint64(1), f.m.KernelGeneration(), "same root entry")

	require.NoError(t, f.m.MapMemory(layout.DirectMapBase, 0, Present))
	assert.Equal(t, uint64(2), f.m.KernelGeneration())

	require.NoError(t, f.m.MapMemory(layout.RegionBase+layout.PageSize, 0x401000, Present|User))
	assert.Equal(t, uint64(3), f.m.KernelGeneration(), "root entry gained User")
	require.NoError(t, f.m.MapMemory(layout.RegionBase+2*layout.PageSize, 0x402000, Present|User))
	assert.Equal(t, uint64(3), f.m.KernelGeneration())
}

func TestSwitch_CopyKernelHalf(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.MapMemory(layout.RegionBase, 0x400000, Present|Writable))
	require.NoError(t, f.m.MapMemory(layout.UserBase, 0x500000, Present|User))

	dst := newRoot(t, f.frames, f.mem)
	require.NoError(t, f.m.CopyKernelHalf(dst))

	old := f.m.Root()
	f.m.Switch(dst)
	assert.Equal(t, []layout.PhysAddr{dst}, f.mmu.roots)
	assert.Equal(t, dst, f.m.Root())

	got, err := f.m.GetPhysical(layout.RegionBase)
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x400000), got)

	_, err = f.m.GetPhysical(layout.UserBase)
	require.ErrorIs(t, err, ErrNotMapped, "lower half is private")

	f.m.Switch(old)
	_, err = f.m.GetPhysical(layout.UserBase)
	require.NoError(t, err)
}

func TestCopyRange_AndRelease(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.MapMemory(layout.UserBase, 0x500000, Present|User))
	require.NoError(t, f.m.MapMemory(layout.UserBase+2*layout.PageSize, 0x502000, Present|User|Writable))

	dst := newRoot(t, f.frames, f.mem)
	require.NoError(t, f.m.CopyRange(dst, layout.UserBase, layout.UserBase+3*layout.PageSize))

	e, err := Walk(f.mem, dst, layout.UserBase+2*layout.PageSize)
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x502000), e.Addr())
	assert.True(t, e.Flags().Has(User|Writable))

	_, err = Walk(f.mem, dst, layout.UserBase+layout.PageSize)
	require.ErrorIs(t, err, ErrNotMapped)

	used := f.frames.Stats().Used
	freed, err := f.m.ReleaseUserTables(dst)
	require.NoError(t, err)
	assert.Equal(t, 3, freed)
	assert.Equal(t, used-3*layout.PageSize, f.frames.Stats().Used)

	_, err = Walk(f.mem, dst, layout.UserBase)
	require.ErrorIs(t, err, ErrNotMapped)
}

func TestCopyRange_RejectsKernelMappings(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.MapMemory(layout.UserBase, 0x500000, Present))

	dst := newRoot(t, f.frames, f.mem)
	err := f.m.CopyRange(dst, layout.UserBase, layout.UserBase+layout.PageSize)
	require.ErrorIs(t, err, ErrNotUserMapping)
}

type emptyFrames struct{}

func (emptyFrames) RequestPage() (layout.PhysAddr, error) { return 0, pmm.ErrNoMoreFreePages }
func (emptyFrames) FreeFrame(layout.PhysAddr) error       { return nil }

func TestMapMemory_FrameExhaustion(t *testing.T) {
	f := newFixture(t)
	m := New(f.m.Root(), emptyFrames{}, physmem.NewView(f.mem), Options{})

	err := m.MapMemory(layout.RegionBase, 0x400000, Present)
	require.ErrorIs(t, err, ErrTableAlloc)
	require.ErrorIs(t, err, pmm.ErrNoMoreFreePages)
}
