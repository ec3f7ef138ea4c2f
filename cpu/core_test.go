package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/physmem"
	"github.com/joshuapare/kestrel/memory/paging"
	"github.com/joshuapare/kestrel/memory/pmm"
)

func newCore(t *testing.T) (*Core, *paging.Manager) {
	t.Helper()
	mem, err := physmem.New(16 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	mmap, err := boot.DefaultMap(16 << 20)
	require.NoError(t, err)
	frames, err := pmm.New(mmap, mem, nil)
	require.NoError(t, err)
	root, err := frames.RequestPage()
	require.NoError(t, err)
	require.NoError(t, mem.ZeroPage(root))

	core := NewCore(mem)
	ptm := paging.New(root, frames, physmem.NewView(mem), paging.Options{MMU: core})
	ptm.Switch(root)
	return core, ptm
}

func TestNewFrame(t *testing.T) {
	k := NewFrame(0x1000, 0x8000, false)
	assert.Equal(t, KernelCS, k.CS)
	assert.Equal(t, KernelDS, k.SS)
	assert.Equal(t, Reserved1|InterruptsEnabled, k.RFlags)
	assert.False(t, k.UserMode())

	u := NewFrame(0x400000, 0x9000, true)
	assert.Equal(t, UserCS, u.CS)
	assert.Equal(t, UserDS, u.SS)
	assert.True(t, u.UserMode())
	assert.Equal(t, uint64(0x9000), u.RSP)

	c := u.Clone()
	c.SetReg(RAX, 7)
	assert.Zero(t, u.Reg(RAX))
	assert.Equal(t, uint64(7), c.Reg(RAX))
	assert.Equal(t, "rax", RAX.String())
	assert.Equal(t, "1|IF", u.RFlags.String())
}

func TestWithoutInterrupts(t *testing.T) {
	c := NewCore(nil)
	c.EnableInterrupts()

	var inside bool
	c.WithoutInterrupts(func() { inside = c.InterruptsEnabled() })
	assert.False(t, inside)
	assert.True(t, c.InterruptsEnabled())

	c.DisableInterrupts()
	c.WithoutInterrupts(func() {})
	assert.False(t, c.InterruptsEnabled())

	c.Resume(NewFrame(0, 0, false))
	assert.True(t, c.InterruptsEnabled(), "resuming a frame restores IF")
}

func TestTranslate_TLB(t *testing.T) {
	c, ptm := newCore(t)
	v := layout.RegionBase

	require.NoError(t, ptm.MapMemory(v, 0x400000, paging.Present|paging.Writable))

	phys, err := c.Translate(v+8, Read)
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x400008), phys)
	_, err = c.Translate(v, Read)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.TLBStats().Misses)
	assert.Equal(t, uint64(1), c.TLBStats().Hits)

	// Unmap drops the cached translation.
	_, err = ptm.Unmap(v)
	require.NoError(t, err)
	_, err = c.Translate(v, Read)
	require.ErrorIs(t, err, ErrPageFault)

	require.NoError(t, ptm.MapMemory(v, 0x500000, paging.Present|paging.Writable))
	phys, err = c.Translate(v, Read)
	require.NoError(t, err)
	assert.Equal(t, layout.PhysAddr(0x500000), phys)
}

func TestTranslate_Permissions(t *testing.T) {
	c, ptm := newCore(t)
	ro := layout.RegionBase
	user := layout.UserBase

	require.NoError(t, ptm.MapMemory(ro, 0x400000, paging.Present|paging.NoExecute))
	require.NoError(t, ptm.MapMemory(user, 0x401000, paging.Present|paging.User))

	_, err := c.Translate(ro, Write)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "read-only page", fault.Reason)

	_, err = c.Translate(ro, Execute)
	require.ErrorIs(t, err, ErrPageFault)

	c.Resume(NewFrame(uint64(user), 0, true))
	_, err = c.Translate(ro, Read)
	require.ErrorAs(t, err, &fault)
	assert.True(t, fault.User)
	assert.Equal(t, "supervisor page", fault.Reason)

	_, err = c.Translate(user, Execute)
	require.NoError(t, err)

	c.EnableInterrupts()
	c.Syscall(func() {
		assert.False(t, c.InterruptsEnabled())
		_, err = c.Translate(ro, Read)
	})
	require.NoError(t, err, "syscalls run at kernel privilege")
	assert.True(t, c.InterruptsEnabled())
	_, err = c.Translate(ro, Read)
	require.ErrorIs(t, err, ErrPageFault)
}

func TestStoreLoad_CrossesPages(t *testing.T) {
	c, ptm := newCore(t)
	v := layout.RegionBase
	require.NoError(t, ptm.MapMemory(v, 0x400000, paging.Present|paging.Writable))
	require.NoError(t, ptm.MapMemory(v+layout.PageSize, 0x600000, paging.Present|paging.Writable))

	at := v + layout.PageSize - 2
	require.NoError(t, c.Store(at, []byte("abcd")))

	got, err := c.Load(at, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), got)

	tail, err := c.Memory().Bytes(0x600000, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("cd"), tail)

	err = c.Store(v+2*layout.PageSize, []byte{1})
	require.ErrorIs(t, err, ErrPageFault)
}

func TestLoadRoot_FlushesTLB(t *testing.T) {
	c, ptm := newCore(t)
	require.NoError(t, ptm.MapMemory(layout.RegionBase, 0x400000, paging.Present))
	_, err := c.Translate(layout.RegionBase, Read)
	require.NoError(t, err)

	flushes := c.TLBStats().Flushes
	c.LoadRoot(c.Root())
	assert.Equal(t, flushes+1, c.TLBStats().Flushes)

	_, err = c.Translate(layout.RegionBase, Read)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.TLBStats().Misses)
}

func TestTimer(t *testing.T) {
	tm := NewTimer(0)
	assert.Equal(t, uint64(DefaultTimerHz), tm.Hz())
	for i := 0; i < 25; i++ {
		tm.Tick()
	}
	assert.Equal(t, uint64(25), tm.Ticks())
	assert.Equal(t, uint64(250), tm.UptimeMs())

	var ic InterruptController
	ic.EOI()
	ic.EOI()
	assert.Equal(t, uint64(2), ic.Acknowledged())
}
