package sched

import (
	"sort"

	"github.com/joshuapare/kestrel/internal/layout"
)

// ThreadInfo describes a thread.
type ThreadInfo struct {
	TID    uint64
	Name   string
	Status Status
	WakeAt uint64
	Stack  layout.VirtAddr
	RIP    uint64
	User   bool
	Joins  []uint64
	Active bool
}

// ProcessInfo describes a process.
type ProcessInfo struct {
	PID     uint64
	Name    string
	Status  Status
	User    bool
	Root    layout.PhysAddr
	Active  bool
	Threads []ThreadInfo
}

// Current identifies the running thread.
type Current struct {
	PID    uint64
	TID    uint64
	Status Status
	User   bool
}

// Current returns the active process and thread.
func (s *Scheduler) Current() (Current, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, t, err := s.current()
	if err != nil {
		return Current{}, false
	}
	return Current{PID: p.pid, TID: t.tid, Status: t.status, User: p.user}, true
}

// Stats returns the scheduling counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Snapshot describes every process in ring order.
func (s *Scheduler) Snapshot() []ProcessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProcessInfo, 0, len(s.ring))
	for _, h := range s.ring {
		p := s.proc(h)
		info := ProcessInfo{
			PID:    p.pid,
			Name:   p.name,
			Status: p.status,
			User:   p.user,
			Root:   p.rootPhys,
			Active: h == s.active,
		}
		for _, th := range p.threads {
			t := s.thread(th)
			ti := ThreadInfo{
				TID:    t.tid,
				Name:   t.name,
				Status: t.status,
				WakeAt: t.wakeAt,
				Stack:  t.stack,
				User:   p.user,
				Active: info.Active && th == p.active,
			}
			if t.frame != nil {
				ti.RIP = t.frame.RIP
			}
			for id := range t.joins {
				ti.Joins = append(ti.Joins, id)
			}
			sort.Slice(ti.Joins, func(i, j int) bool { return ti.Joins[i] < ti.Joins[j] })
			info.Threads = append(info.Threads, ti)
		}
		out = append(out, info)
	}
	return out
}
