// Package arena is the kernel heap as the core subsystems see it: a pool of
// fixed-type records addressed by generation-checked handles.
//
// A Handle names a slot and the generation the slot had when the record was
// created. Freeing a record bumps the slot's generation, so any handle still
// pointing at the old record stops resolving instead of aliasing whatever is
// allocated there next.
package arena

import (
	"errors"
	"fmt"
)

var (
	// ErrHeapExhausted indicates the pool reached its record limit.
	ErrHeapExhausted = errors.New("arena: heap exhausted")

	// ErrStaleHandle indicates a handle whose record has been freed.
	ErrStaleHandle = errors.New("arena: stale handle")
)

// Handle refers to a record in a Pool. The zero Handle never resolves.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.index, h.gen)
}

type slot[T any] struct {
	val  T
	gen  uint32
	used bool
}

// Pool stores records of type T.
//
// Pointers returned by Get stay valid until the record is freed.
type Pool[T any] struct {
	slots []*slot[T]
	free  []uint32
	limit int
	live  int
}

// NewPool creates a pool holding at most limit records. A limit <= 0 means
// unbounded.
func NewPool[T any](limit int) *Pool[T] {
	return &Pool[T]{limit: limit}
}

// Alloc stores v and returns its handle.
func (p *Pool[T]) Alloc(v T) (Handle, error) {
	if p.limit > 0 && p.live >= p.limit {
		return Handle{}, fmt.Errorf("%w: %d records", ErrHeapExhausted, p.limit)
	}

	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, &slot[T]{})
	}

	s := p.slots[idx]
	s.gen++
	s.val = v
	s.used = true
	p.live++
	return Handle{index: idx, gen: s.gen}, nil
}

// Get resolves h.
func (p *Pool[T]) Get(h Handle) (*T, bool) {
	if h.IsZero() || int(h.index) >= len(p.slots) {
		return nil, false
	}
	s := p.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil, false
	}
	return &s.val, true
}

// Free releases the record behind h.
func (p *Pool[T]) Free(h Handle) error {
	if _, ok := p.Get(h); !ok {
		return fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	s := p.slots[h.index]
	var zero T
	s.val = zero
	s.used = false
	p.free = append(p.free, h.index)
	p.live--
	return nil
}

// Len returns the number of live records.
func (p *Pool[T]) Len() int { return p.live }

// Limit returns the record limit (0 when unbounded).
func (p *Pool[T]) Limit() int {
	if p.limit < 0 {
		return 0
	}
	return p.limit
}
