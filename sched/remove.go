package sched

import (
	"fmt"

	"github.com/joshuapare/kestrel/internal/arena"
	"github.com/joshuapare/kestrel/internal/logger"
)

// RemoveTask unlinks process pid from the ring and releases its threads,
// stacks and address space. The active and the idle process cannot be
// removed.
func (s *Scheduler) RemoveTask(pid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, h, ok := s.findProcess(pid)
	switch {
	case !ok:
		return fmt.Errorf("%w: %d", ErrTaskNotFound, pid)
	case i == 0:
		return ErrRemoveIdle
	case h == s.active:
		return fmt.Errorf("%w: process %d", ErrRemoveActive, pid)
	}
	if len(s.proc(h).threads) == 0 {
		return fmt.Errorf("%w: %d", ErrNoMainThread, pid)
	}
	s.removeProcess(i)
	return nil
}

// RemoveThread removes thread tid of process pid and releases its stack.
// Main threads and the thread currently running cannot be removed.
func (s *Scheduler) RemoveThread(pid, tid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ph, ok := s.findProcess(pid)
	if !ok {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, pid)
	}
	p := s.proc(ph)
	i, th, ok := s.findThread(p, tid)
	switch {
	case !ok:
		return fmt.Errorf("%w: %d in %d", ErrThreadNotFound, tid, pid)
	case i == 0:
		return fmt.Errorf("%w: %d in %d", ErrRemoveMain, tid, pid)
	case th == p.active && (ph == s.active || s.active.IsZero()):
		return fmt.Errorf("%w: thread %d in %d", ErrRemoveActive, tid, pid)
	}

	if th == p.active {
		p.active = p.threads[0]
	}
	p.threads = append(p.threads[:i], p.threads[i+1:]...)
	s.freeThread(th)
	return nil
}

// removeProcess unlinks ring[i] and frees everything it owns.
func (s *Scheduler) removeProcess(i int) {
	h := s.ring[i]
	p := s.proc(h)
	if i == 0 {
		panic(ErrRemoveIdle)
	}
	if h == s.active {
		panic(fmt.Errorf("%w: process %d", ErrRemoveActive, p.pid))
	}
	if len(p.threads) == 0 {
		panic(fmt.Errorf("%w: %d", ErrNoMainThread, p.pid))
	}

	s.ring = append(s.ring[:i], s.ring[i+1:]...)
	for _, th := range p.threads {
		s.freeThread(th)
	}
	s.releaseRoot(p.rootVirt, p.rootPhys, p.user)

	logger.Info("process reaped", "pid", p.pid, "name", p.name)
	if err := s.procs.Free(h); err != nil {
		panic(err)
	}
}

// freeThread releases a thread's stack and record.
func (s *Scheduler) freeThread(h arena.Handle) {
	t := s.thread(h)
	if err := s.deps.Regions.Free(t.stack); err != nil {
		panic(fmt.Errorf("sched: free stack of %d/%d: %w", t.pid, t.tid, err))
	}
	logger.Debug("thread reaped", "pid", t.pid, "tid", t.tid)
	if err := s.threads.Free(h); err != nil {
		panic(err)
	}
}
