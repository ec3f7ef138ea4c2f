package region

import (
	"errors"
	"fmt"
	"math"

	"github.com/joshuapare/kestrel/internal/arena"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/logger"
	"github.com/joshuapare/kestrel/internal/spin"
	"github.com/joshuapare/kestrel/memory/paging"
)

// DefaultPages is the default page budget.
const DefaultPages = 256

// Mapper installs and removes leaf mappings.
type Mapper interface {
	MapMemory(virt layout.VirtAddr, phys layout.PhysAddr, flags paging.Flags) error
	Unmap(virt layout.VirtAddr) (layout.PhysAddr, error)
}

// Frames supplies backing frames.
type Frames interface {
	RequestPage() (layout.PhysAddr, error)
	FreeFrame(addr layout.PhysAddr) error
}

// Zeroer clears physical pages.
type Zeroer interface {
	ZeroPage(addr layout.PhysAddr) error
}

// Options configures an Allocator. Zero values select the defaults.
type Options struct {
	Base       layout.VirtAddr // window start, default layout.RegionBase
	WindowSize uint64          // default layout.RegionWindowSize
	Pages      uint64          // page budget, default DefaultPages
	NodeLimit  int             // object record limit, 0 for unbounded
	Order      *spin.Order
}

// Allocator is the virtual region allocator.
type Allocator struct {
	mu     *spin.Lock
	mapper Mapper
	frames Frames
	zero   Zeroer

	start     layout.VirtAddr
	window    uint64
	capacity  uint64
	allocated uint64

	nodes *arena.Pool[object]
	head  arena.Handle
}

// New creates an allocator that maps through mapper and backs pages from
// frames.
func New(mapper Mapper, frames Frames, zero Zeroer, opts Options) *Allocator {
	if opts.Base == 0 {
		opts.Base = layout.RegionBase
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = layout.RegionWindowSize
	}
	if opts.Pages == 0 {
		opts.Pages = DefaultPages
	}
	return &Allocator{
		mu:       spin.New(opts.Order, spin.RankRegion),
		mapper:   mapper,
		frames:   frames,
		zero:     zero,
		start:    opts.Base,
		window:   opts.WindowSize,
		capacity: opts.Pages,
		nodes:    arena.NewPool[object](opts.NodeLimit),
	}
}

// Base returns the start of the window.
func (a *Allocator) Base() layout.VirtAddr { return a.start }

// Alloc creates an object of at least length bytes and returns its base.
func (a *Allocator) Alloc(length uint64, flags Flags, backing Backing) (layout.VirtAddr, error) {
	if length == 0 {
		return 0, ErrInvalidLength
	}
	if length > math.MaxUint64-layout.PageMask {
		return 0, fmt.Errorf("%w: %#x bytes", ErrOutOfMemory, length)
	}
	length = layout.AlignUp(length)
	pages := length >> layout.PageShift

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.allocated+pages > a.capacity {
		return 0, fmt.Errorf("%w: %d pages requested, %d of %d in use",
			ErrOutOfMemory, pages, a.allocated, a.capacity)
	}

	base, prev, next, err := a.findGap(length)
	if err != nil {
		return 0, err
	}
	h, err := a.nodes.Alloc(object{base: base, length: length, flags: flags, prev: prev, next: next})
	if err != nil {
		return 0, err
	}
	a.link(h, prev, next)
	a.allocated += pages

	virt := a.start + layout.VirtAddr(base)
	if err := a.back(virt, pages, flags, backing); err != nil {
		a.unlink(h)
		a.allocated -= pages
		return 0, err
	}

	logger.Debug("region alloc", "base", fmt.Sprintf("%#x", uint64(virt)), "pages", pages, "flags", flags.String(), "backing", backing.String())
	return virt, nil
}

// Free releases the object whose base is exactly addr.
func (a *Allocator) Free(addr layout.VirtAddr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, obj := a.find(addr)
	if obj == nil {
		return fmt.Errorf("%w: %#x", ErrNotAllocated, uint64(addr))
	}
	pages := obj.length >> layout.PageShift
	if err := a.release(addr, pages, obj.flags&Device == 0); err != nil {
		return err
	}
	a.allocated -= pages
	a.unlink(h)

	logger.Debug("region free", "base", fmt.Sprintf("%#x", uint64(addr)), "pages", pages)
	return nil
}

// Lookup returns the object whose base is exactly addr.
func (a *Allocator) Lookup(addr layout.VirtAddr) (Object, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, obj := a.find(addr)
	if obj == nil {
		return Object{}, false
	}
	return a.export(obj), true
}

// Stats returns the current accounting.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{CapacityPages: a.capacity, AllocatedPages: a.allocated, Objects: a.nodes.Len()}
}

// Objects returns every object in address order.
func (a *Allocator) Objects() []Object {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Object
	for h := a.head; !h.IsZero(); {
		obj := a.get(h)
		out = append(out, a.export(obj))
		h = obj.next
	}
	return out
}

func (a *Allocator) export(obj *object) Object {
	return Object{Base: a.start + layout.VirtAddr(obj.base), Length: obj.length, Flags: obj.flags}
}

// findGap returns the first-fit base offset for length and the neighbours
// the new node goes between.
func (a *Allocator) findGap(length uint64) (base uint64, prev, next arena.Handle, err error) {
	var last arena.Handle
	var lastEnd uint64
	for h := a.head; !h.IsZero(); {
		obj := a.get(h)
		if lastEnd+length <= obj.base {
			return lastEnd, last, h, nil
		}
		last, lastEnd = h, obj.end()
		h = obj.next
	}
	if lastEnd+length > a.window {
		return 0, arena.Handle{}, arena.Handle{}, fmt.Errorf("%w: window full", ErrOutOfMemory)
	}
	return lastEnd, last, arena.Handle{}, nil
}

func (a *Allocator) link(h, prev, next arena.Handle) {
	if prev.IsZero() {
		a.head = h
	} else {
		a.get(prev).next = h
	}
	if !next.IsZero() {
		a.get(next).prev = h
	}
}

func (a *Allocator) unlink(h arena.Handle) {
	obj := a.get(h)
	if obj.prev.IsZero() {
		a.head = obj.next
	} else {
		a.get(obj.prev).next = obj.next
	}
	if !obj.next.IsZero() {
		a.get(obj.next).prev = obj.prev
	}
	if err := a.nodes.Free(h); err != nil {
		panic(err)
	}
}

func (a *Allocator) find(addr layout.VirtAddr) (arena.Handle, *object) {
	if addr < a.start {
		return arena.Handle{}, nil
	}
	off := uint64(addr - a.start)
	for h := a.head; !h.IsZero(); {
		obj := a.get(h)
		if obj.base == off {
			return h, obj
		}
		if obj.base > off {
			break
		}
		h = obj.next
	}
	return arena.Handle{}, nil
}

// get resolves a handle reachable from the list. A dangling link means the
// list is corrupt.
func (a *Allocator) get(h arena.Handle) *object {
	obj, ok := a.nodes.Get(h)
	if !ok {
		panic(fmt.Errorf("%w: region list link %s", arena.ErrStaleHandle, h))
	}
	return obj
}

// back maps every page of a new object. On failure the pages mapped so far
// are released again.
func (a *Allocator) back(virt layout.VirtAddr, pages uint64, flags Flags, backing Backing) error {
	pf := flags.PageFlags()
	owned := !backing.fixed
	for i := uint64(0); i < pages; i++ {
		v := virt + layout.VirtAddr(i*layout.PageSize)

		var phys layout.PhysAddr
		if backing.fixed {
			phys = backing.phys.Add(i * layout.PageSize)
		} else {
			p, err := a.frames.RequestPage()
			if err != nil {
				_ = a.release(virt, i, owned)
				return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
			}
			phys = p
		}

		if err := a.mapper.MapMemory(v, phys, pf); err != nil {
			if owned {
				_ = a.frames.FreeFrame(phys)
			}
			_ = a.release(virt, i, owned)
			return err
		}
		if flags&Device == 0 {
			if err := a.zero.ZeroPage(phys); err != nil {
				_ = a.release(virt, i+1, owned)
				return err
			}
		}
	}
	return nil
}

// release unmaps pages starting at virt and frees their frames when owned.
// release unmaps pages from virt and frees their frames when owned. Pages
// that are already unmapped are skipped so a partly released object can
// still be freed.
func (a *Allocator) release(virt layout.VirtAddr, pages uint64, owned bool) error {
	for i := uint64(0); i < pages; i++ {
		phys, err := a.mapper.Unmap(virt + layout.VirtAddr(i*layout.PageSize))
		if errors.Is(err, paging.ErrNotMapped) {
			continue
		}
		if err != nil {
			return err
		}
		if owned {
			if err := a.frames.FreeFrame(phys); err != nil {
				return err
			}
		}
	}
	return nil
}
