package pmm

import (
	"fmt"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/logger"
	"github.com/joshuapare/kestrel/internal/physmem"
	"github.com/joshuapare/kestrel/internal/spin"
)

// State is the state of a single frame.
type State uint8

const (
	Free State = iota
	Used
	Reserved
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Used:
		return "used"
	case Reserved:
		return "reserved"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Stats is a snapshot of the byte counters.
type Stats struct {
	Free     uint64
	Used     uint64
	Reserved uint64
}

// Total returns Free+Used+Reserved.
func (s Stats) Total() uint64 { return s.Free + s.Used + s.Reserved }

// Allocator is the bitmap frame allocator.
type Allocator struct {
	mu *spin.Lock

	bitmap     []byte          // in simulated RAM, MSB-first
	bitmapAddr layout.PhysAddr // physical address of bitmap[0]
	reserved   []uint64        // which taken frames are Reserved rather than Used
	frames     uint64

	avail      []boot.Descriptor
	cursorDesc int
	cursorAddr layout.PhysAddr

	stats Stats
}

// New builds an allocator for mmap over mem. order may be nil.
func New(mmap boot.MemoryMap, mem *physmem.Memory, order *spin.Order) (*Allocator, error) {
	avail := mmap.Available()
	if len(avail) == 0 {
		return nil, fmt.Errorf("%w: no available descriptor", ErrInvalidMemoryMap)
	}
	if uint64(mmap.LastAddr) > mem.Size() {
		return nil, fmt.Errorf("%w: last address %#x beyond %d bytes of RAM",
			ErrInvalidMemoryMap, uint64(mmap.LastAddr), mem.Size())
	}

	frames := uint64(mmap.LastAddr) >> layout.PageShift
	bitmapLen := (frames + 7) / 8

	largest := avail[0]
	for _, d := range avail[1:] {
		if d.Size() > largest.Size() {
			largest = d
		}
	}
	if largest.Size() < bitmapLen {
		return nil, fmt.Errorf("%w: bitmap of %d bytes does not fit in %s",
			ErrInvalidMemoryMap, bitmapLen, largest)
	}

	bitmap, err := mem.Bytes(largest.PhysStart, int(bitmapLen))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMemoryMap, err)
	}
	clear(bitmap)

	a := &Allocator{
		mu:         spin.New(order, spin.RankFrames),
		bitmap:     bitmap,
		bitmapAddr: largest.PhysStart,
		reserved:   make([]uint64, (frames+63)/64),
		frames:     frames,
		avail:      avail,
		cursorAddr: avail[0].PhysStart,
		stats:      Stats{Free: frames * layout.PageSize},
	}

	a.reserveLocked(largest.PhysStart, layout.PageCount(bitmapLen))

	// Non-available descriptors and holes between descriptors.
	var next layout.PhysAddr
	for _, d := range mmap.Descriptors {
		if d.PhysStart > next {
			a.reserveLocked(next, uint64(d.PhysStart-next)>>layout.PageShift)
		}
		if d.Type != boot.Available {
			a.reserveLocked(d.PhysStart, d.NumPages)
		}
		next = d.PhysEnd
	}

	logger.Debug("frame allocator ready",
		"frames", frames,
		"bitmap", fmt.Sprintf("%#x", uint64(a.bitmapAddr)),
		"free", a.stats.Free,
		"reserved", a.stats.Reserved)
	return a, nil
}

// Frames returns the number of tracked frames.
func (a *Allocator) Frames() uint64 { return a.frames }

// Bitmap returns the physical location and length of the bitmap.
func (a *Allocator) Bitmap() (layout.PhysAddr, uint64) {
	return a.bitmapAddr, uint64(len(a.bitmap))
}

// Stats returns a snapshot of the counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// RequestPage returns a free frame and marks it Used.
//
// The scan resumes where the previous successful request stopped and wraps
// around once.
func (a *Allocator) RequestPage() (layout.PhysAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.avail)
	for pass := 0; pass <= n; pass++ {
		i := (a.cursorDesc + pass) % n
		d := a.avail[i]
		start, end := d.PhysStart, d.PhysEnd
		switch pass {
		case 0:
			if d.Contains(a.cursorAddr) {
				start = a.cursorAddr
			}
		case n:
			if d.Contains(a.cursorAddr) {
				end = a.cursorAddr
			}
		}
		for addr := start; addr < end; addr += layout.PageSize {
			frame := addr.Frame()
			if a.taken(frame) {
				continue
			}
			a.set(frame)
			a.stats.Free -= layout.PageSize
			a.stats.Used += layout.PageSize
			a.cursorDesc = i
			a.cursorAddr = addr + layout.PageSize
			return addr, nil
		}
	}
	return 0, ErrNoMoreFreePages
}

// IsFree reports whether the frame containing addr is free.
func (a *Allocator) IsFree(addr layout.PhysAddr) (bool, error) {
	s, err := a.State(addr)
	return s == Free, err
}

// State returns the state of the frame containing addr.
func (a *Allocator) State(addr layout.PhysAddr) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	frame, err := a.index(addr)
	if err != nil {
		return Free, err
	}
	return a.stateOf(frame), nil
}

// AllocateFrame marks the frame containing addr Used.
func (a *Allocator) AllocateFrame(addr layout.PhysAddr) error {
	return a.AllocateFrames(addr, 1)
}

// AllocateFrames marks n frames starting at addr Used.
func (a *Allocator) AllocateFrames(addr layout.PhysAddr, n uint64) error {
	return a.batch(addr, n, func(frame uint64) {
		if a.taken(frame) {
			return
		}
		a.set(frame)
		a.stats.Free -= layout.PageSize
		a.stats.Used += layout.PageSize
	})
}

// FreeFrame returns a Used frame to the free pool.
func (a *Allocator) FreeFrame(addr layout.PhysAddr) error {
	return a.FreeFrames(addr, 1)
}

// FreeFrames frees n Used frames starting at addr. Reserved frames in the
// range are left alone.
func (a *Allocator) FreeFrames(addr layout.PhysAddr, n uint64) error {
	return a.batch(addr, n, func(frame uint64) {
		if a.stateOf(frame) != Used {
			return
		}
		a.unset(frame)
		a.stats.Used -= layout.PageSize
		a.stats.Free += layout.PageSize
	})
}

// ReserveFrame marks the frame containing addr Reserved.
func (a *Allocator) ReserveFrame(addr layout.PhysAddr) error {
	return a.ReserveFrames(addr, 1)
}

// ReserveFrames marks n free frames starting at addr Reserved.
func (a *Allocator) ReserveFrames(addr layout.PhysAddr, n uint64) error {
	return a.batch(addr, n, a.reserve)
}

// FreeReservedFrame returns a Reserved frame to the free pool.
func (a *Allocator) FreeReservedFrame(addr layout.PhysAddr) error {
	return a.FreeReservedFrames(addr, 1)
}

// FreeReservedFrames frees n Reserved frames starting at addr.
func (a *Allocator) FreeReservedFrames(addr layout.PhysAddr, n uint64) error {
	return a.batch(addr, n, func(frame uint64) {
		if a.stateOf(frame) != Reserved {
			return
		}
		a.unset(frame)
		a.reserved[frame/64] &^= 1 << (frame % 64)
		a.stats.Reserved -= layout.PageSize
		a.stats.Free += layout.PageSize
	})
}

// batch applies fn to n frames from addr. The whole range must be tracked.
func (a *Allocator) batch(addr layout.PhysAddr, n uint64, fn func(frame uint64)) error {
	first, err := a.index(addr)
	if err != nil {
		return err
	}
	if n > a.frames-first {
		return fmt.Errorf("%w: %d frames from %#x", ErrInvalidBitMapIndex, n, uint64(addr))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for f := first; f < first+n; f++ {
		fn(f)
	}
	return nil
}

// reserveLocked reserves free frames, clamped to the tracked range.
func (a *Allocator) reserveLocked(addr layout.PhysAddr, n uint64) {
	first := addr.Frame()
	if first >= a.frames {
		return
	}
	for f := first; f < first+min(n, a.frames-first); f++ {
		a.reserve(f)
	}
}

func (a *Allocator) reserve(frame uint64) {
	if a.taken(frame) {
		return
	}
	a.set(frame)
	a.reserved[frame/64] |= 1 << (frame % 64)
	a.stats.Free -= layout.PageSize
	a.stats.Reserved += layout.PageSize
}

func (a *Allocator) index(addr layout.PhysAddr) (uint64, error) {
	frame := addr.Frame()
	if frame >= a.frames {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidBitMapIndex, uint64(addr))
	}
	return frame, nil
}

func (a *Allocator) stateOf(frame uint64) State {
	switch {
	case !a.taken(frame):
		return Free
	case a.reserved[frame/64]&(1<<(frame%64)) != 0:
		return Reserved
	default:
		return Used
	}
}

func (a *Allocator) taken(frame uint64) bool {
	return a.bitmap[frame/8]&(0x80>>(frame%8)) != 0
}

func (a *Allocator) set(frame uint64) {
	a.bitmap[frame/8] |= 0x80 >> (frame % 8)
}

func (a *Allocator) unset(frame uint64) {
	a.bitmap[frame/8] &^= 0x80 >> (frame % 8)
}
