package cpu

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/physmem"
	"github.com/joshuapare/kestrel/memory/paging"
)

// ErrPageFault is wrapped by every Fault.
var ErrPageFault = errors.New("cpu: page fault")

// Access is the kind of memory access being translated.
type Access uint8

const (
	Read Access = iota
	Write
	Execute
)

func (a Access) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "execute"
	}
}

// Fault describes a failed translation.
type Fault struct {
	Addr   layout.VirtAddr
	Access Access
	User   bool
	Reason string
}

func (f *Fault) Error() string {
	mode := "kernel"
	if f.User {
		mode = "user"
	}
	return fmt.Sprintf("cpu: page fault: %s %s at %#x: %s", mode, f.Access, uint64(f.Addr), f.Reason)
}

func (f *Fault) Unwrap() error { return ErrPageFault }

type tlbEntry struct {
	frame layout.PhysAddr
	flags paging.Flags
}

// TLBStats counts translation cache activity.
type TLBStats struct {
	Hits         uint64
	Misses       uint64
	Flushes      uint64
	Invalidation uint64
}

// Core is the single simulated processor.
type Core struct {
	mem   *physmem.Memory
	irq   bool
	ring0 bool
	cr3   layout.PhysAddr
	tlb   map[layout.VirtAddr]tlbEntry
	stats TLBStats
	frame *Frame
}

// NewCore returns a core with interrupts disabled and an empty TLB.
func NewCore(mem *physmem.Memory) *Core {
	return &Core{mem: mem, tlb: make(map[layout.VirtAddr]tlbEntry)}
}

// Memory returns the RAM the core is attached to.
func (c *Core) Memory() *physmem.Memory { return c.mem }

// InterruptsEnabled reports the IF flag.
func (c *Core) InterruptsEnabled() bool { return c.irq }

// EnableInterrupts sets IF.
func (c *Core) EnableInterrupts() { c.irq = true }

// DisableInterrupts clears IF.
func (c *Core) DisableInterrupts() { c.irq = false }

// WithoutInterrupts runs fn with IF cleared and restores the previous state.
func (c *Core) WithoutInterrupts(fn func()) {
	was := c.irq
	c.irq = false
	defer func() { c.irq = was }()
	fn()
}

// Syscall runs fn at kernel privilege with IF cleared, as a trap from user
// code into the kernel does, and restores both afterwards.
func (c *Core) Syscall(fn func()) {
	was, ring := c.irq, c.ring0
	c.irq, c.ring0 = false, true
	defer func() { c.irq, c.ring0 = was, ring }()
	fn()
}

// LoadRoot writes CR3, which flushes the TLB.
func (c *Core) LoadRoot(root layout.PhysAddr) {
	c.cr3 = root
	c.FlushTLB()
}

// Root returns CR3.
func (c *Core) Root() layout.PhysAddr { return c.cr3 }

// InvalidatePage drops the cached translation for virt.
func (c *Core) InvalidatePage(virt layout.VirtAddr) {
	delete(c.tlb, pageOf(virt))
	c.stats.Invalidation++
}

// FlushTLB drops every cached translation.
func (c *Core) FlushTLB() {
	clear(c.tlb)
	c.stats.Flushes++
}

// TLBStats returns the translation cache counters.
func (c *Core) TLBStats() TLBStats { return c.stats }

// Frame returns the state the core is currently executing.
func (c *Core) Frame() *Frame { return c.frame }

// Resume makes f the executing state, as an interrupt return does.
func (c *Core) Resume(f *Frame) {
	c.frame = f
	if f != nil {
		c.irq = f.RFlags&InterruptsEnabled != 0
	}
}

// Translate resolves virt for an access at the current privilege level.
func (c *Core) Translate(virt layout.VirtAddr, access Access) (layout.PhysAddr, error) {
	user := !c.ring0 && c.frame != nil && c.frame.UserMode()

	page := pageOf(virt)
	te, ok := c.tlb[page]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
		tr, err := paging.Resolve(c.mem, c.cr3, page)
		if err != nil {
			return 0, &Fault{Addr: virt, Access: access, User: user, Reason: "not present"}
		}
		te = tlbEntry{frame: tr.Leaf.Addr(), flags: tr.Effective}
		c.tlb[page] = te
	}

	switch {
	case user && te.flags&paging.User == 0:
		return 0, &Fault{Addr: virt, Access: access, User: user, Reason: "supervisor page"}
	case access == Write && te.flags&paging.Writable == 0:
		return 0, &Fault{Addr: virt, Access: access, User: user, Reason: "read-only page"}
	case access == Execute && te.flags&paging.NoExecute != 0:
		return 0, &Fault{Addr: virt, Access: access, User: user, Reason: "no-execute page"}
	}
	return te.frame.Add(uint64(virt) & layout.PageMask), nil
}

// Store writes data at virt through the MMU.
func (c *Core) Store(virt layout.VirtAddr, data []byte) error {
	return c.copyVirt(virt, data, Write)
}

// Load reads n bytes at virt through the MMU.
func (c *Core) Load(virt layout.VirtAddr, n int) ([]byte, error) {
	out := make([]byte, n)
	return out, c.copyVirt(virt, out, Read)
}

func (c *Core) copyVirt(virt layout.VirtAddr, data []byte, access Access) error {
	for len(data) > 0 {
		phys, err := c.Translate(virt, access)
		if err != nil {
			return err
		}
		n := min(len(data), int(layout.PageSize-(uint64(virt)&layout.PageMask)))
		b, err := c.mem.Bytes(phys, n)
		if err != nil {
			return err
		}
		if access == Write {
			copy(b, data[:n])
		} else {
			copy(data[:n], b)
		}
		data = data[n:]
		virt = virt.Add(uint64(n))
	}
	return nil
}

func pageOf(virt layout.VirtAddr) layout.VirtAddr {
	return virt &^ layout.PageMask
}
