// Package kernel boots the simulated machine and holds the kernel context.
//
// Boot follows the order the hardware hand-off dictates:
//
//  1. read the firmware memory map
//  2. start the frame allocator over it
//  3. build the initial tables: the direct map of available memory at
//     layout.DirectMapBase, kernel code at layout.KernelCodeBase+phys, and
//     the kernel stack and data windows
//  4. switch to them and rebase the page-table manager onto the direct map
//  5. write the boot info block into kernel data
//  6. start the region allocator, then the console on top of it
//  7. load the program image and start the scheduler with the idle process
//     and the startup processes
//
// After Boot the machine is driven one timer tick at a time with Run.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/config"
	"github.com/joshuapare/kestrel/console"
	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/logger"
	"github.com/joshuapare/kestrel/internal/physmem"
	"github.com/joshuapare/kestrel/internal/spin"
	"github.com/joshuapare/kestrel/machine"
	"github.com/joshuapare/kestrel/memory/paging"
	"github.com/joshuapare/kestrel/memory/pmm"
	"github.com/joshuapare/kestrel/memory/region"
	"github.com/joshuapare/kestrel/sched"
)

var (
	// ErrMissingWindow means the memory map lacks a kernel code, stack or
	// data descriptor.
	ErrMissingWindow = errors.New("kernel: memory map lacks a kernel window")
	// ErrNoIdle is returned when the idle program cannot be placed.
	ErrNoIdle = errors.New("kernel: idle program")
)

// IdleProgram is the name of the idle process's program.
const IdleProgram = "IDLE"

// Options selects the programs the kernel runs.
type Options struct {
	// Programs are loaded into the image. A program named IdleProgram
	// replaces the default halt loop.
	Programs []machine.Program

	// Startup names the programs spawned as processes at boot, in order.
	Startup []string

	// Echo receives a copy of all console output. Optional.
	Echo io.Writer

	// Observer sees every thread status change. Optional.
	Observer sched.Observer
}

// Kernel is the booted system.
type Kernel struct {
	Config  config.Config
	Map     boot.MemoryMap
	Mem     *physmem.Memory
	Order   *spin.Order
	Core    *cpu.Core
	Frames  *pmm.Allocator
	Tables  *paging.Manager
	Regions *region.Allocator
	Console *console.Console
	Image   *machine.Image
	Sched   *sched.Scheduler
	Machine *machine.Machine

	bootRoot layout.PhysAddr
	dataSize uint64
}

// Boot brings the kernel up on fresh simulated hardware.
func Boot(cfg config.Config, opts Options) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mmap, err := cfg.Map()
	if err != nil {
		return nil, fmt.Errorf("kernel: memory map: %w", err)
	}
	logger.Info("boot: memory map", "descriptors", len(mmap.Descriptors),
		"available", mmap.TotalAvailable(), "last", fmt.Sprintf("%#x", uint64(mmap.LastAddr)))

	mem, err := physmem.New(cfg.MemoryBytes)
	if err != nil {
		return nil, fmt.Errorf("kernel: physical memory: %w", err)
	}
	k := &Kernel{Config: cfg, Map: mmap, Mem: mem, Order: spin.NewOrder(), Core: cpu.NewCore(mem)}
	k.Order.RequireInterruptsOff(k.Core.InterruptsEnabled)

	if err := k.boot(opts); err != nil {
		_ = mem.Close()
		return nil, err
	}
	return k, nil
}

func (k *Kernel) boot(opts Options) error {
	frames, err := pmm.New(k.Map, k.Mem, k.Order)
	if err != nil {
		return fmt.Errorf("kernel: frame allocator: %w", err)
	}
	k.Frames = frames
	st := frames.Stats()
	logger.Info("boot: frame allocator", "frames", frames.Frames(),
		"free", st.Free, "reserved", st.Reserved)

	if err := k.buildTables(); err != nil {
		return err
	}
	if err := k.writeBootInfo(); err != nil {
		return err
	}

	k.Regions = region.New(k.Tables, k.Frames, k.Mem, region.Options{
		Pages: k.Config.RegionPages,
		Order: k.Order,
	})
	k.Console, err = console.New(k.Regions, k.Core)
	if err != nil {
		return err
	}
	logger.Info("boot: region allocator", "base", fmt.Sprintf("%#x", uint64(k.Regions.Base())),
		"pages", k.Config.RegionPages)

	idle, err := k.loadImage(opts.Programs)
	if err != nil {
		return err
	}

	k.Sched, err = sched.New(sched.Deps{Regions: k.Regions, Tables: k.Tables, CPU: k.Core},
		sched.KernelEntry{Addr: idle.Entry}, sched.Options{
			StackPages:  k.Config.StackPages,
			Refresh:     k.Config.RefreshPolicy(),
			RecordLimit: k.Config.RecordLimit,
			Observer:    opts.Observer,
			Order:       k.Order,
		})
	if err != nil {
		return fmt.Errorf("kernel: scheduler: %w", err)
	}

	var out io.Writer = k.Console
	if opts.Echo != nil {
		out = io.MultiWriter(k.Console, opts.Echo)
	}
	k.Machine = machine.New(k.Core, k.Sched, k.Image, out, machine.Options{
		Quantum: k.Config.Quantum,
		TimerHz: k.Config.TimerHz,
	})

	for _, name := range opts.Startup {
		p, err := k.Image.Lookup(name)
		if err != nil {
			return fmt.Errorf("kernel: startup: %w", err)
		}
		pid, err := k.Sched.SpawnProcess(k.Machine.EntryOf(p), p.Name)
		if err != nil {
			return fmt.Errorf("kernel: startup %q: %w", name, err)
		}
		logger.Debug("boot: startup process", "pid", pid, "program", name, "user", p.User)
	}
	logger.Info("boot: complete", "programs", len(k.Image.Programs()), "startup", len(opts.Startup))
	return nil
}

// buildTables maps the direct map and the kernel windows into a fresh root,
// switches to it and moves the manager onto the direct map.
func (k *Kernel) buildTables() error {
	root, err := k.Frames.RequestPage()
	if err != nil {
		return fmt.Errorf("kernel: boot root: %w", err)
	}
	if err := k.Mem.ZeroPage(root); err != nil {
		return err
	}
	k.bootRoot = root
	k.Tables = paging.New(root, k.Frames, physmem.NewView(k.Mem), paging.Options{MMU: k.Core, Order: k.Order})

	const data = paging.Present | paging.Writable | paging.NoExecute | paging.Global
	for _, d := range k.Map.Available() {
		if err := k.mapRange(layout.DirectMapBase.Add(uint64(d.PhysStart)), d, data); err != nil {
			return fmt.Errorf("kernel: direct map: %w", err)
		}
	}

	windows := []struct {
		typ   boot.MemoryType
		base  func(d boot.Descriptor) layout.VirtAddr
		flags paging.Flags
	}{
		{boot.KernelCode, func(d boot.Descriptor) layout.VirtAddr {
			return layout.KernelCodeBase.Add(uint64(d.PhysStart))
		}, paging.Present | paging.Global},
		{boot.KernelStack, func(boot.Descriptor) layout.VirtAddr { return layout.KernelStackBase }, data},
		{boot.KernelData, func(boot.Descriptor) layout.VirtAddr { return layout.KernelDataBase }, data},
	}
	for _, w := range windows {
		d, ok := k.descriptor(w.typ)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingWindow, w.typ)
		}
		if err := k.mapRange(w.base(d), d, w.flags); err != nil {
			return fmt.Errorf("kernel: map %s: %w", w.typ, err)
		}
		if w.typ == boot.KernelData {
			k.dataSize = d.Size()
		}
	}

	k.Tables.Switch(root)
	k.Tables.SetOffset(layout.DirectMapBase)
	logger.Info("boot: page tables", "root", fmt.Sprintf("%#x", uint64(root)),
		"used_frames", k.Frames.Stats().Used/layout.PageSize)
	return nil
}

func (k *Kernel) mapRange(virt layout.VirtAddr, d boot.Descriptor, flags paging.Flags) error {
	for off := uint64(0); off < d.Size(); off += layout.PageSize {
		if err := k.Tables.MapMemory(virt.Add(off), d.PhysStart.Add(off), flags); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) descriptor(t boot.MemoryType) (boot.Descriptor, bool) {
	for _, d := range k.Map.Descriptors {
		if d.Type == t {
			return d, true
		}
	}
	return boot.Descriptor{}, false
}

// loadImage places the programs in the kernel code window and the user
// window and maps the user pages into the boot address space.
func (k *Kernel) loadImage(programs []machine.Program) (*machine.Program, error) {
	code, _ := k.descriptor(boot.KernelCode)
	k.Image = machine.NewImage(layout.KernelCodeBase.Add(uint64(code.PhysStart)), code.Size())

	hasIdle := false
	for _, p := range programs {
		hasIdle = hasIdle || p.Name == IdleProgram
		if _, err := k.Image.Add(p); err != nil {
			return nil, fmt.Errorf("kernel: load %q: %w", p.Name, err)
		}
	}
	if !hasIdle {
		idle := machine.Program{Name: IdleProgram, Code: []machine.Instr{machine.Halt()}}
		if _, err := k.Image.Add(idle); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoIdle, err)
		}
	}
	idle, err := k.Image.Lookup(IdleProgram)
	if err != nil {
		return nil, err
	}
	if idle.User {
		return nil, fmt.Errorf("%w: must be a kernel program", ErrNoIdle)
	}

	for _, p := range k.Image.Programs() {
		if !p.User {
			continue
		}
		for i := uint64(0); i < p.Pages(); i++ {
			phys, err := k.Frames.RequestPage()
			if err != nil {
				return nil, fmt.Errorf("kernel: user image %q: %w", p.Name, err)
			}
			if err := k.Mem.ZeroPage(phys); err != nil {
				return nil, err
			}
			virt := p.Entry.Add(i * layout.PageSize)
			if err := k.Tables.MapMemory(virt, phys, paging.Present|paging.User); err != nil {
				return nil, fmt.Errorf("kernel: user image %q: %w", p.Name, err)
			}
		}
	}
	return idle, nil
}

// BootRoot returns the root of the boot address space.
func (k *Kernel) BootRoot() layout.PhysAddr { return k.bootRoot }

// Run drives the machine for ticks timer interrupts.
func (k *Kernel) Run(ctx context.Context, ticks int) error {
	return k.Machine.Run(ctx, ticks)
}

// RunUntilIdle ticks until only the idle process is left or maxTicks have
// passed. It returns the number of ticks taken.
func (k *Kernel) RunUntilIdle(ctx context.Context, maxTicks int) (int, error) {
	for n := 1; n <= maxTicks; n++ {
		if err := ctx.Err(); err != nil {
			return n - 1, err
		}
		if err := k.Machine.Tick(); err != nil {
			return n, err
		}
		if k.idle() {
			return n, nil
		}
	}
	return maxTicks, nil
}

func (k *Kernel) idle() bool {
	var procs []sched.ProcessInfo
	k.Inspect(func() { procs = k.Sched.Snapshot() })
	return len(procs) == 1
}

// Inspect runs fn with interrupts disabled so it can take kernel locks
// between ticks.
func (k *Kernel) Inspect(fn func()) {
	k.Core.WithoutInterrupts(fn)
}

// Close releases the simulated RAM.
func (k *Kernel) Close() error {
	return k.Mem.Close()
}
