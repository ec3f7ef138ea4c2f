// Package spin provides the kernel's busy-wait lock.
//
// Locks are not reentrant. Every lock carries a rank and every acquisition
// goes through a shared Order, which turns the lock hierarchy into an
// enforced protocol:
//
//	scheduler (1) -> region allocator (2) -> page tables (3) -> frames (4)
//
// A lock may only be taken while every lock already held has a strictly
// lower rank. Violations panic, since they would deadlock real hardware.
package spin

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
)

var (
	// ErrLockOrder is raised when a lock is taken out of rank order or twice.
	ErrLockOrder = errors.New("spin: lock order violation")

	// ErrInterruptsEnabled is raised when a lock is taken with interrupts on.
	ErrInterruptsEnabled = errors.New("spin: lock taken with interrupts enabled")

	// ErrNotHeld is raised when unlocking a lock that is not held.
	ErrNotHeld = errors.New("spin: unlock of unheld lock")
)

// Rank orders locks. Lower ranks are taken first.
type Rank uint8

const (
	RankScheduler Rank = iota + 1
	RankRegion
	RankPageTables
	RankFrames
)

func (r Rank) String() string {
	switch r {
	case RankScheduler:
		return "scheduler"
	case RankRegion:
		return "region"
	case RankPageTables:
		return "page-tables"
	case RankFrames:
		return "frames"
	default:
		return fmt.Sprintf("rank(%d)", uint8(r))
	}
}

// Order tracks the locks held by the (single) core.
//
// NOT safe for use from more than one goroutine at a time, like the core it
// models.
type Order struct {
	held     []Rank
	irqState func() bool
}

// NewOrder returns an empty lock order.
func NewOrder() *Order {
	return &Order{}
}

// RequireInterruptsOff makes every acquisition check enabled() first.
func (o *Order) RequireInterruptsOff(enabled func() bool) {
	o.irqState = enabled
}

// Held returns a copy of the ranks currently held, outermost first.
func (o *Order) Held() []Rank {
	out := make([]Rank, len(o.held))
	copy(out, o.held)
	return out
}

func (o *Order) acquire(r Rank) {
	if o.irqState != nil && o.irqState() {
		panic(fmt.Errorf("%w: %s", ErrInterruptsEnabled, r))
	}
	if n := len(o.held); n > 0 && o.held[n-1] >= r {
		panic(fmt.Errorf("%w: taking %s while holding %s", ErrLockOrder, r, o.held[n-1]))
	}
	o.held = append(o.held, r)
}

func (o *Order) release(r Rank) {
	for i := len(o.held) - 1; i >= 0; i-- {
		if o.held[i] == r {
			o.held = append(o.held[:i], o.held[i+1:]...)
			return
		}
	}
	panic(fmt.Errorf("%w: %s", ErrNotHeld, r))
}

// Lock is a busy-wait mutual exclusion lock.
type Lock struct {
	locked atomic.Bool
	rank   Rank
	order  *Order
}

// New creates a lock with the given rank. A nil order disables the checks.
func New(order *Order, rank Rank) *Lock {
	return &Lock{rank: rank, order: order}
}

// Lock spins until the lock is acquired.
func (l *Lock) Lock() {
	if l.order != nil {
		l.order.acquire(l.rank)
	}
	for !l.locked.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Unlock releases the lock.
func (l *Lock) Unlock() {
	if !l.locked.Load() {
		panic(fmt.Errorf("%w: %s", ErrNotHeld, l.rank))
	}
	if l.order != nil {
		l.order.release(l.rank)
	}
	l.locked.Store(false)
}

// Rank returns the lock's rank.
func (l *Lock) Rank() Rank { return l.rank }
