package sched

import (
	"fmt"

	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/internal/arena"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/logger"
	"github.com/joshuapare/kestrel/internal/spin"
	"github.com/joshuapare/kestrel/memory/region"
)

// DefaultStackPages is the default thread stack size in pages.
const DefaultStackPages = 4

// Regions backs page-table roots and stacks.
type Regions interface {
	Alloc(length uint64, flags region.Flags, backing region.Backing) (layout.VirtAddr, error)
	Free(addr layout.VirtAddr) error
}

// Tables is the page-table manager as the scheduler uses it.
type Tables interface {
	GetPhysical(virt layout.VirtAddr) (layout.PhysAddr, error)
	CopyKernelHalf(dst layout.PhysAddr) error
	CopyRange(dst layout.PhysAddr, start, end layout.VirtAddr) error
	ReleaseUserTables(root layout.PhysAddr) (int, error)
	Switch(root layout.PhysAddr)
	KernelGeneration() uint64
}

// Interrupts reports the interrupt flag.
type Interrupts interface {
	InterruptsEnabled() bool
}

// Deps are the subsystems the scheduler drives.
type Deps struct {
	Regions Regions
	Tables  Tables
	CPU     Interrupts
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	StackPages  uint64
	Refresh     RefreshPolicy
	RecordLimit int // per pool, 0 for unbounded
	Observer    Observer
	Order       *spin.Order
}

// Scheduler owns every process and thread.
type Scheduler struct {
	mu   *spin.Lock
	deps Deps
	opts Options

	procs   *arena.Pool[process]
	threads *arena.Pool[thread]

	ring    []arena.Handle // [0] is idle
	active  arena.Handle
	nextPID uint64
	uptime  uint64
	stats   Stats
}

// Stats counts scheduling decisions.
type Stats struct {
	Ticks          uint64
	ThreadSwitches uint64
	ProcessSwitch  uint64
	ReapedThreads  uint64
	ReapedTasks    uint64
}

// New creates a scheduler whose idle process starts at idle.
func New(deps Deps, idle Entry, opts Options) (*Scheduler, error) {
	if opts.StackPages == 0 {
		opts.StackPages = DefaultStackPages
	}
	s := &Scheduler{
		mu:      spin.New(opts.Order, spin.RankScheduler),
		deps:    deps,
		opts:    opts,
		procs:   arena.NewPool[process](opts.RecordLimit),
		threads: arena.NewPool[thread](opts.RecordLimit),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.addProcess(idle, "IDLE"); err != nil {
		return nil, fmt.Errorf("sched: idle process: %w", err)
	}
	return s, nil
}

// SpawnProcess creates a process with a fresh address space and appends it
// to the ring. It returns the new process id.
func (s *Scheduler) SpawnProcess(entry Entry, name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addProcess(entry, name)
}

// SpawnThread adds a thread starting at entry to the active process.
// Interrupts must be disabled.
func (s *Scheduler) SpawnThread(entry layout.VirtAddr, name string) (JoinHandle, error) {
	if s.deps.CPU != nil && s.deps.CPU.InterruptsEnabled() {
		return JoinHandle{}, ErrInterruptsEnabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.IsZero() {
		return JoinHandle{}, ErrNotStarted
	}
	p := s.proc(s.active)
	tid, err := s.addThread(p, entry, name)
	if err != nil {
		return JoinHandle{}, err
	}
	return JoinHandle{pid: p.pid, tid: tid}, nil
}

// HandleOf returns a join handle for thread tid of the active process.
func (s *Scheduler) HandleOf(tid uint64) (JoinHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.IsZero() {
		return JoinHandle{}, ErrNotStarted
	}
	p := s.proc(s.active)
	if _, _, ok := s.findThread(p, tid); !ok {
		return JoinHandle{}, fmt.Errorf("%w: %d in %d", ErrThreadNotFound, tid, p.pid)
	}
	return JoinHandle{pid: p.pid, tid: tid}, nil
}

// Join records that the calling thread waits for h to die before it can.
func (s *Scheduler) Join(h JoinHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, t, err := s.current()
	if err != nil {
		return err
	}
	if h.pid != p.pid {
		return fmt.Errorf("%w: %d/%d from %d", ErrForeignHandle, h.pid, h.tid, p.pid)
	}
	if t.joins == nil {
		t.joins = make(map[uint64]struct{})
	}
	t.joins[h.tid] = struct{}{}
	return nil
}

// KillActive ends the calling thread. If a joined thread is still alive the
// caller becomes Blocked instead and dies once every joined thread has.
func (s *Scheduler) KillActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, t, err := s.current()
	if err != nil {
		return err
	}
	if s.isIdle(p) && t == s.thread(p.threads[0]) {
		return ErrIdleThread
	}
	if s.waiting(p, t) {
		s.setStatus(t, Blocked)
	} else {
		s.setStatus(t, Dead)
	}
	return nil
}

// SleepActive suspends the calling thread until uptime reaches wakeAt.
func (s *Scheduler) SleepActive(wakeAt uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, t, err := s.current()
	if err != nil {
		return err
	}
	if s.isIdle(p) && t == s.thread(p.threads[0]) {
		return ErrIdleThread
	}
	t.wakeAt = wakeAt
	s.setStatus(t, Sleeping)
	return nil
}

// addProcess builds a process record, its address space and main thread.
func (s *Scheduler) addProcess(entry Entry, name string) (uint64, error) {
	pid := s.nextPID + 1
	if name == "" {
		name = fmt.Sprintf("TASK-%d", pid)
	}
	user, isUser := entry.(UserEntry)

	rootVirt, err := s.deps.Regions.Alloc(layout.PageSize, region.Write, region.AnyPages)
	if err != nil {
		return 0, fmt.Errorf("%w: page table for %s: %w", ErrMemoryAllocation, name, err)
	}
	rootPhys, err := s.setupRoot(rootVirt, user, isUser)
	if err != nil {
		_ = s.deps.Regions.Free(rootVirt)
		return 0, fmt.Errorf("%w: page table for %s: %w", ErrMemoryAllocation, name, err)
	}

	h, err := s.procs.Alloc(process{
		pid:       pid,
		name:      name,
		status:    Ready,
		user:      isUser,
		rootVirt:  rootVirt,
		rootPhys:  rootPhys,
		refresh:   true,
		kernelGen: s.deps.Tables.KernelGeneration(),
	})
	if err != nil {
		s.releaseRoot(rootVirt, rootPhys, isUser)
		return 0, fmt.Errorf("%w: %w", ErrMemoryAllocation, err)
	}
	p := s.proc(h)
	if _, err := s.addThread(p, entry.entryPoint(), fmt.Sprintf("MAIN-%d", pid)); err != nil {
		_ = s.procs.Free(h)
		s.releaseRoot(rootVirt, rootPhys, isUser)
		return 0, err
	}

	s.nextPID = pid
	s.ring = append(s.ring, h)
	logger.Info("process spawned", "pid", pid, "name", name, "user", isUser,
		"root", fmt.Sprintf("%#x", uint64(rootPhys)))
	return pid, nil
}

func (s *Scheduler) setupRoot(rootVirt layout.VirtAddr, user UserEntry, isUser bool) (layout.PhysAddr, error) {
	rootPhys, err := s.deps.Tables.GetPhysical(rootVirt)
	if err != nil {
		return 0, err
	}
	if err := s.deps.Tables.CopyKernelHalf(rootPhys); err != nil {
		return 0, err
	}
	if isUser {
		if err := s.deps.Tables.CopyRange(rootPhys, user.Start, user.End); err != nil {
			_, _ = s.deps.Tables.ReleaseUserTables(rootPhys)
			return 0, err
		}
	}
	return rootPhys, nil
}

func (s *Scheduler) releaseRoot(rootVirt layout.VirtAddr, rootPhys layout.PhysAddr, user bool) {
	if user {
		if _, err := s.deps.Tables.ReleaseUserTables(rootPhys); err != nil {
			panic(fmt.Errorf("sched: release user tables %#x: %w", uint64(rootPhys), err))
		}
	}
	if err := s.deps.Regions.Free(rootVirt); err != nil {
		panic(fmt.Errorf("sched: free page table %#x: %w", uint64(rootVirt), err))
	}
}

// addThread allocates a stack and appends a Ready thread to p.
func (s *Scheduler) addThread(p *process, entry layout.VirtAddr, name string) (uint64, error) {
	tid := p.nextTID + 1
	if name == "" {
		name = fmt.Sprintf("THREAD-%d", tid)
	}

	flags := region.Write
	if p.user {
		flags |= region.User
	}
	size := s.opts.StackPages * layout.PageSize
	stack, err := s.deps.Regions.Alloc(size, flags, region.AnyPages)
	if err != nil {
		return 0, fmt.Errorf("%w: stack for %s: %w", ErrMemoryAllocation, name, err)
	}

	h, err := s.threads.Alloc(thread{
		tid:    tid,
		pid:    p.pid,
		name:   name,
		status: Ready,
		frame:  cpu.NewFrame(uint64(entry), uint64(stack)+size, p.user),
		stack:  stack,
	})
	if err != nil {
		_ = s.deps.Regions.Free(stack)
		return 0, fmt.Errorf("%w: %w", ErrMemoryAllocation, err)
	}

	p.nextTID = tid
	p.threads = append(p.threads, h)
	if p.active.IsZero() {
		p.active = h
	}
	logger.Debug("thread spawned", "pid", p.pid, "tid", tid, "name", name,
		"stack", fmt.Sprintf("%#x", uint64(stack)))
	return tid, nil
}

// current returns the active process and thread.
func (s *Scheduler) current() (*process, *thread, error) {
	if s.active.IsZero() {
		return nil, nil, ErrNotStarted
	}
	p := s.proc(s.active)
	return p, s.thread(p.active), nil
}

// waiting reports whether t joined a thread of p that is still alive.
func (s *Scheduler) waiting(p *process, t *thread) bool {
	if len(t.joins) == 0 {
		return false
	}
	for _, h := range p.threads {
		other := s.thread(h)
		if other == t || other.status == Dead {
			continue
		}
		if _, ok := t.joins[other.tid]; ok {
			return true
		}
	}
	return false
}

func (s *Scheduler) setStatus(t *thread, to Status) {
	from := t.status
	if from == to {
		return
	}
	t.status = to
	logger.Debug("thread status", "pid", t.pid, "tid", t.tid, "from", from.String(), "to", to.String())
	if s.opts.Observer != nil {
		s.opts.Observer(Event{PID: t.pid, TID: t.tid, Thread: t.name, From: from, To: to, Uptime: s.uptime})
	}
}

func (s *Scheduler) isIdle(p *process) bool {
	return len(s.ring) > 0 && s.proc(s.ring[0]) == p
}

func (s *Scheduler) findThread(p *process, tid uint64) (int, arena.Handle, bool) {
	for i, h := range p.threads {
		if s.thread(h).tid == tid {
			return i, h, true
		}
	}
	return 0, arena.Handle{}, false
}

func (s *Scheduler) findProcess(pid uint64) (int, arena.Handle, bool) {
	for i, h := range s.ring {
		if s.proc(h).pid == pid {
			return i, h, true
		}
	}
	return 0, arena.Handle{}, false
}

// proc resolves a handle held by the scheduler itself. A stale one means the
// scheduler state is corrupt.
func (s *Scheduler) proc(h arena.Handle) *process {
	p, ok := s.procs.Get(h)
	if !ok {
		panic(fmt.Errorf("sched: process %s: %w", h, arena.ErrStaleHandle))
	}
	return p
}

func (s *Scheduler) thread(h arena.Handle) *thread {
	t, ok := s.threads.Get(h)
	if !ok {
		panic(fmt.Errorf("sched: thread %s: %w", h, arena.ErrStaleHandle))
	}
	return t
}
