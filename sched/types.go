package sched

import (
	"fmt"
	"strings"

	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/internal/arena"
	"github.com/joshuapare/kestrel/internal/layout"
)

// Status is the state of a thread or a process. Processes only use Ready,
// Running and Dead.
type Status uint8

const (
	Ready Status = iota
	Running
	Dead
	Sleeping
	Blocked
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Dead:
		return "dead"
	case Sleeping:
		return "sleeping"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Entry is where a new process starts.
type Entry interface {
	entryPoint() layout.VirtAddr
}

// KernelEntry starts a kernel process at Addr.
type KernelEntry struct {
	Addr layout.VirtAddr
}

func (e KernelEntry) entryPoint() layout.VirtAddr { return e.Addr }

// UserEntry starts a user process at Entry. The program occupies
// [Start, End) in the active address space and is mirrored into the new one.
type UserEntry struct {
	Entry layout.VirtAddr
	Start layout.VirtAddr
	End   layout.VirtAddr
}

func (e UserEntry) entryPoint() layout.VirtAddr { return e.Entry }

// JoinHandle names a thread that can be joined.
type JoinHandle struct {
	pid, tid uint64
}

// TID returns the thread id the handle names.
func (h JoinHandle) TID() uint64 { return h.tid }

// PID returns the owning process id.
func (h JoinHandle) PID() uint64 { return h.pid }

// RefreshPolicy decides when a process's copy of the kernel half is renewed.
type RefreshPolicy uint8

const (
	// RefreshAlways copies the kernel half on every activation.
	RefreshAlways RefreshPolicy = iota

	// RefreshOnChange copies only when new kernel root entries appeared
	// since the process last copied.
	RefreshOnChange
)

func (p RefreshPolicy) String() string {
	if p == RefreshOnChange {
		return "on-change"
	}
	return "always"
}

// ParseRefreshPolicy parses "always" or "on-change".
func ParseRefreshPolicy(s string) (RefreshPolicy, error) {
	switch strings.ToLower(s) {
	case "", "always":
		return RefreshAlways, nil
	case "on-change", "onchange":
		return RefreshOnChange, nil
	default:
		return 0, fmt.Errorf("sched: unknown refresh policy %q", s)
	}
}

// Event is a thread status transition.
type Event struct {
	PID    uint64
	TID    uint64
	Thread string
	From   Status
	To     Status
	Uptime uint64
}

// Observer receives every thread status transition.
type Observer func(Event)

type process struct {
	pid    uint64
	name   string
	status Status
	user   bool

	rootVirt layout.VirtAddr
	rootPhys layout.PhysAddr

	threads []arena.Handle // [0] is main
	active  arena.Handle
	nextTID uint64

	refresh   bool
	kernelGen uint64
}

type thread struct {
	tid    uint64
	pid    uint64
	name   string
	status Status
	wakeAt uint64
	frame  *cpu.Frame
	stack  layout.VirtAddr
	joins  map[uint64]struct{}
}
