package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/physmem"
	"github.com/joshuapare/kestrel/internal/spin"
	"github.com/joshuapare/kestrel/memory/paging"
	"github.com/joshuapare/kestrel/memory/pmm"
	"github.com/joshuapare/kestrel/memory/region"
)

var idleEntry = KernelEntry{Addr: layout.KernelCodeBase}

func entry(n uint64) KernelEntry {
	return KernelEntry{Addr: layout.KernelCodeBase + layout.VirtAddr(n*layout.PageSize)}
}

type countingTables struct {
	*paging.Manager
	copies int
}

func (c *countingTables) CopyKernelHalf(dst layout.PhysAddr) error {
	c.copies++
	return c.Manager.CopyKernelHalf(dst)
}

type fixture struct {
	mem     *physmem.Memory
	frames  *pmm.Allocator
	core    *cpu.Core
	ptm     *paging.Manager
	tables  *countingTables
	regions *region.Allocator
	s       *Scheduler

	frame  *cpu.Frame
	uptime uint64
	events []Event
}

type fixtureOptions struct {
	sched   Options
	regions region.Options
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()
	mem, err := physmem.New(16 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	mmap, err := boot.DefaultMap(16 << 20)
	require.NoError(t, err)

	order := spin.NewOrder()
	frames, err := pmm.New(mmap, mem, order)
	require.NoError(t, err)
	root, err := frames.RequestPage()
	require.NoError(t, err)
	require.NoError(t, mem.ZeroPage(root))

	core := cpu.NewCore(mem)
	ptm := paging.New(root, frames, physmem.NewView(mem), paging.Options{MMU: core, Order: order})
	ptm.Switch(root)

	fo.regions.Order = order
	regions := region.New(ptm, frames, mem, fo.regions)

	f := &fixture{mem: mem, frames: frames, core: core, ptm: ptm, regions: regions}
	f.tables = &countingTables{Manager: ptm}

	fo.sched.Order = order
	fo.sched.Observer = func(e Event) { f.events = append(f.events, e) }
	s, err := New(Deps{Regions: regions, Tables: f.tables, CPU: core}, idleEntry, fo.sched)
	require.NoError(t, err)
	f.s = s
	return f
}

// tick runs one timer interrupt.
func (f *fixture) tick() Current {
	f.frame = f.s.Schedule(f.frame, f.uptime)
	cur, _ := f.s.Current()
	return cur
}

// runUntil ticks until pid is active.
func (f *fixture) runUntil(t *testing.T, pid uint64) {
	t.Helper()
	for i := 0; i < 16; i++ {
		if f.tick().PID == pid {
			return
		}
	}
	t.Fatalf("process %d never became active", pid)
}

func (f *fixture) process(t *testing.T, pid uint64) ProcessInfo {
	t.Helper()
	for _, p := range f.s.Snapshot() {
		if p.PID == pid {
			return p
		}
	}
	t.Fatalf("process %d not in ring", pid)
	return ProcessInfo{}
}

func (f *fixture) threadStatus(t *testing.T, pid, tid uint64) Status {
	t.Helper()
	for _, th := range f.process(t, pid).Threads {
		if th.TID == tid {
			return th.Status
		}
	}
	t.Fatalf("thread %d/%d not found", pid, tid)
	return 0
}

// running returns the (pid, tid) pairs that became Running, in order.
func (f *fixture) running() [][2]uint64 {
	var out [][2]uint64
	for _, e := range f.events {
		if e.To == Running {
			out = append(out, [2]uint64{e.PID, e.TID})
		}
	}
	return out
}
