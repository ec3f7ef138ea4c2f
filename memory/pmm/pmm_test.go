package pmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/physmem"
)

const page = layout.PageSize

func newMemory(t *testing.T, size uint64) *physmem.Memory {
	t.Helper()
	mem, err := physmem.New(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

// newTiny returns an allocator over 8 frames: 0-3 available (frame 0 holds
// the bitmap), 4-7 reserved.
func newTiny(t *testing.T) *Allocator {
	t.Helper()
	mmap, err := boot.NewMemoryMap(
		boot.Descriptor{PhysStart: 0, PhysEnd: 4 * page, Type: boot.Available},
		boot.Descriptor{PhysStart: 4 * page, PhysEnd: 8 * page, Type: boot.Reserved},
	)
	require.NoError(t, err)
	a, err := New(mmap, newMemory(t, 8*page), nil)
	require.NoError(t, err)
	return a
}

func newDefault(t *testing.T) *Allocator {
	t.Helper()
	mmap, err := boot.DefaultMap(16 << 20)
	require.NoError(t, err)
	a, err := New(mmap, newMemory(t, 16<<20), nil)
	require.NoError(t, err)
	return a
}

func assertBalanced(t *testing.T, a *Allocator) {
	t.Helper()
	assert.Equal(t, a.Frames()*page, a.Stats().Total())
}

func TestNew_DefaultMap(t *testing.T) {
	a := newDefault(t)

	assert.Equal(t, uint64(4096), a.Frames())
	addr, n := a.Bitmap()
	assert.Equal(t, layout.PhysAddr(0x160000), addr)
	assert.Equal(t, uint64(512), n)

	// 256 low + 64 code + 16 stack + 16 data + 1 bitmap + 64 ACPI.
	st := a.Stats()
	assert.Equal(t, uint64(417)*page, st.Reserved)
	assert.Equal(t, uint64(0), st.Used)
	assertBalanced(t, a)

	s, err := a.State(0xB8000)
	require.NoError(t, err)
	assert.Equal(t, Reserved, s)
}

func TestNew_Errors(t *testing.T) {
	mmap, err := boot.NewMemoryMap(boot.Descriptor{PhysStart: 0, PhysEnd: 4 * page, Type: boot.Reserved})
	require.NoError(t, err)
	_, err = New(mmap, newMemory(t, 4*page), nil)
	require.ErrorIs(t, err, ErrInvalidMemoryMap)

	mmap, err = boot.NewMemoryMap(boot.Descriptor{PhysStart: 0, PhysEnd: 8 * page, Type: boot.Available})
	require.NoError(t, err)
	_, err = New(mmap, newMemory(t, 4*page), nil)
	require.ErrorIs(t, err, ErrInvalidMemoryMap)
}

func TestNew_ReservesHoles(t *testing.T) {
	mmap, err := boot.NewMemoryMap(
		boot.Descriptor{PhysStart: 0, PhysEnd: 2 * page, Type: boot.Available},
		boot.Descriptor{PhysStart: 4 * page, PhysEnd: 8 * page, Type: boot.Available},
	)
	require.NoError(t, err)
	a, err := New(mmap, newMemory(t, 8*page), nil)
	require.NoError(t, err)

	for _, addr := range []layout.PhysAddr{2 * page, 3 * page} {
		s, err := a.State(addr)
		require.NoError(t, err)
		assert.Equal(t, Reserved, s, "hole frame %#x", uint64(addr))
	}
	assertBalanced(t, a)
}

func TestRequestPage_NeverReturnsTaken(t *testing.T) {
	a := newTiny(t)

	seen := map[layout.PhysAddr]bool{}
	for i := 0; i < 3; i++ {
		addr, err := a.RequestPage()
		require.NoError(t, err)
		assert.False(t, seen[addr], "frame %#x returned twice", uint64(addr))
		assert.NotEqual(t, layout.PhysAddr(0), addr, "bitmap frame handed out")
		seen[addr] = true

		s, err := a.State(addr)
		require.NoError(t, err)
		assert.Equal(t, Used, s)
	}

	_, err := a.RequestPage()
	require.ErrorIs(t, err, ErrNoMoreFreePages)
	assertBalanced(t, a)
}

func TestRequestPage_FreedFrameComesBack(t *testing.T) {
	a := newTiny(t)
	for i := 0; i < 3; i++ {
		_, err := a.RequestPage()
		require.NoError(t, err)
	}

	require.NoError(t, a.FreeFrame(2*page))
	free, err := a.IsFree(2 * page)
	require.NoError(t, err)
	assert.True(t, free)

	addr, err := a.RequestPage()
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(2*page), addr)
	assertBalanced(t, a)
}

func TestRequestPage_ResumesFromCursor(t *testing.T) {
	a := newDefault(t)

	first, err := a.RequestPage()
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x161000), first)

	require.NoError(t, a.FreeFrame(first))
	second, err := a.RequestPage()
	require.NoError(t, err)
	assert.Equal(t, first+page, second, "scan resumes after the last hit")
}

func TestRequestPage_MovesAcrossDescriptors(t *testing.T) {
	mmap, err := boot.NewMemoryMap(
		boot.Descriptor{PhysStart: 0, PhysEnd: 2 * page, Type: boot.Available},
		boot.Descriptor{PhysStart: 2 * page, PhysEnd: 3 * page, Type: boot.Reserved},
		boot.Descriptor{PhysStart: 3 * page, PhysEnd: 4 * page, Type: boot.Available},
	)
	require.NoError(t, err)
	a, err := New(mmap, newMemory(t, 4*page), nil)
	require.NoError(t, err)

	got := []layout.PhysAddr{}
	for {
		addr, err := a.RequestPage()
		if err != nil {
			require.ErrorIs(t, err, ErrNoMoreFreePages)
			break
		}
		got = append(got, addr)
	}
	assert.Equal(t, []layout.PhysAddr{1 * page, 3 * page}, got)
}

func TestOps_Idempotent(t *testing.T) {
	a := newTiny(t)
	before := a.Stats()

	require.NoError(t, a.AllocateFrame(1*page))
	afterOne := a.Stats()
	require.NoError(t, a.AllocateFrame(1*page))
	assert.Equal(t, afterOne, a.Stats())
	assert.Equal(t, before.Used+page, afterOne.Used)

	require.NoError(t, a.FreeFrame(1*page))
	require.NoError(t, a.FreeFrame(1*page))
	assert.Equal(t, before, a.Stats())

	require.NoError(t, a.ReserveFrame(2*page))
	require.NoError(t, a.ReserveFrame(2*page))
	assert.Equal(t, before.Reserved+page, a.Stats().Reserved)

	// Freeing a reserved frame as used is a no-op, and vice versa.
	require.NoError(t, a.FreeFrame(2*page))
	assert.Equal(t, before.Reserved+page, a.Stats().Reserved)
	require.NoError(t, a.AllocateFrame(3*page))
	require.NoError(t, a.FreeReservedFrame(3*page))
	s, err := a.State(3 * page)
	require.NoError(t, err)
	assert.Equal(t, Used, s)

	require.NoError(t, a.FreeReservedFrame(2*page))
	require.NoError(t, a.FreeReservedFrame(2*page))
	assertBalanced(t, a)
}

func TestBatchOps(t *testing.T) {
	a := newTiny(t)

	require.NoError(t, a.FreeReservedFrames(4*page, 4))
	assert.Equal(t, uint64(1)*page, a.Stats().Reserved, "only the bitmap frame stays reserved")

	require.NoError(t, a.AllocateFrames(4*page, 4))
	assert.Equal(t, uint64(4)*page, a.Stats().Used)

	require.NoError(t, a.FreeFrames(4*page, 2))
	assert.Equal(t, uint64(2)*page, a.Stats().Used)

	require.NoError(t, a.ReserveFrames(1*page, 3))
	assert.Equal(t, uint64(4)*page, a.Stats().Reserved)
	assertBalanced(t, a)
}

func TestOps_InvalidIndex(t *testing.T) {
	a := newTiny(t)

	require.ErrorIs(t, a.AllocateFrame(8*page), ErrInvalidBitMapIndex)
	require.ErrorIs(t, a.FreeFrame(100*page), ErrInvalidBitMapIndex)
	require.ErrorIs(t, a.ReserveFrame(8*page), ErrInvalidBitMapIndex)
	require.ErrorIs(t, a.FreeReservedFrames(6*page, 3), ErrInvalidBitMapIndex)

	before := a.Stats()
	require.ErrorIs(t, a.ReserveFrames(6*page, 3), ErrInvalidBitMapIndex)
	require.ErrorIs(t, a.ReserveFrames(page, math.MaxUint64), ErrInvalidBitMapIndex)
	assert.Equal(t, before, a.Stats(), "a rejected batch changes nothing")

	_, err := a.State(8 * page)
	require.ErrorIs(t, err, ErrInvalidBitMapIndex)
}

func TestTakenRanges(t *testing.T) {
	a := newTiny(t)
	require.NoError(t, a.AllocateFrames(2*page, 2))

	assert.Equal(t, []Range{
		{Start: 0, Len: page, State: Reserved},
		{Start: 2 * page, Len: 2 * page, State: Used},
		{Start: 4 * page, Len: 4 * page, State: Reserved},
	}, a.TakenRanges())
}
