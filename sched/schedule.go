package sched

import (
	"fmt"

	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/internal/arena"
	"github.com/joshuapare/kestrel/internal/logger"
)

// Schedule picks the register state to resume after a timer interrupt.
// frame is the interrupted state and uptime the monotonic time in
// milliseconds. Failures inside Schedule mean corrupted kernel state and
// panic.
func (s *Scheduler) Schedule(frame *cpu.Frame, uptime uint64) *cpu.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uptime = uptime
	s.stats.Ticks++

	if s.active.IsZero() {
		return s.start()
	}

	p := s.proc(s.active)
	cur := s.thread(p.active)
	if cur.status != Dead {
		cur.frame = frame
	}

	s.refresh(p)
	if s.allDead(p) {
		p.status = Dead
		logger.Info("process dead", "pid", p.pid, "name", p.name)
	} else if next, ok := s.nextThread(p); ok {
		if cur.status == Running {
			s.setStatus(cur, Ready)
		}
		t := s.thread(next)
		p.active = next
		s.setStatus(t, Running)
		s.stats.ThreadSwitches++
		return t.frame
	}

	return s.switchProcess(p, cur, frame)
}

// start activates the idle process on the first tick.
func (s *Scheduler) start() *cpu.Frame {
	idle := s.proc(s.ring[0])
	idle.status = Running
	idle.active = s.mainOf(idle)
	s.active = s.ring[0]
	s.install(idle)
	t := s.thread(idle.active)
	s.setStatus(t, Running)
	logger.Info("scheduler started", "idle", idle.pid)
	return t.frame
}

// refresh wakes sleepers whose time has come, retires blocked threads whose
// joins are satisfied and reaps dead threads that can go.
func (s *Scheduler) refresh(p *process) {
	for _, h := range p.threads {
		t := s.thread(h)
		switch t.status {
		case Sleeping:
			if s.uptime >= t.wakeAt {
				s.setStatus(t, Ready)
			}
		case Blocked:
			if !s.waiting(p, t) {
				s.setStatus(t, Dead)
			}
		}
	}

	if len(p.threads) == 0 {
		panic(fmt.Errorf("%w: %d", ErrNoMainThread, p.pid))
	}
	kept := p.threads[:1]
	for _, h := range p.threads[1:] {
		t := s.thread(h)
		if t.status != Dead || h == p.active {
			kept = append(kept, h)
			continue
		}
		s.freeThread(h)
		s.stats.ReapedThreads++
	}
	clear(p.threads[len(kept):])
	p.threads = kept
}

func (s *Scheduler) allDead(p *process) bool {
	for _, h := range p.threads {
		if s.thread(h).status != Dead {
			return false
		}
	}
	return true
}

// nextThread scans forward from the active thread to the end of the list.
func (s *Scheduler) nextThread(p *process) (arena.Handle, bool) {
	i := s.indexOf(p, p.active)
	for _, h := range p.threads[i+1:] {
		if s.thread(h).status == Ready {
			return h, true
		}
	}
	return arena.Handle{}, false
}

// switchProcess walks the ring from the successor of p looking for an
// eligible process, reaping dead ones on the way. Without one, the
// interrupted thread resumes if it is still running.
func (s *Scheduler) switchProcess(p *process, cur *thread, frame *cpu.Frame) *cpu.Frame {
	ph := s.active
	i := s.ringIndex(ph)
	var found arena.Handle
	for {
		i = (i + 1) % len(s.ring)
		h := s.ring[i]
		if h == ph {
			break
		}
		q := s.proc(h)
		if q.status != Dead {
			s.refresh(q)
			if s.allDead(q) {
				q.status = Dead
			}
		}
		if q.status == Dead {
			s.removeProcess(i)
			s.stats.ReapedTasks++
			i--
			continue
		}
		if q.status == Ready && !s.firstReady(q).IsZero() {
			found = h
			break
		}
	}

	if found.IsZero() {
		if cur.status == Running {
			return frame
		}
		// The interrupted thread stopped and no other process can run, so
		// restart p's own list.
		next := s.firstReady(p)
		if next.IsZero() {
			panic(fmt.Errorf("sched: nothing runnable after %d/%d", p.pid, cur.tid))
		}
		p.active = next
		t := s.thread(next)
		s.setStatus(t, Running)
		s.stats.ThreadSwitches++
		return t.frame
	}

	if cur.status == Running {
		s.setStatus(cur, Ready)
	}
	p.active = s.mainOf(p)
	if p.status != Dead {
		p.status = Ready
		// New kernel root entries made while p ran live in p's root.
		p.kernelGen = s.deps.Tables.KernelGeneration()
	}

	q := s.proc(found)
	q.status = Running
	s.active = found
	s.install(q)

	next := s.firstReady(q)
	q.active = next
	t := s.thread(next)
	s.setStatus(t, Running)
	s.stats.ProcessSwitch++
	logger.Debug("process switch", "from", p.pid, "to", q.pid, "thread", t.tid)
	return t.frame
}

// install refreshes q's kernel half if needed and makes its root active.
func (s *Scheduler) install(q *process) {
	if s.needsRefresh(q) {
		if err := s.deps.Tables.CopyKernelHalf(q.rootPhys); err != nil {
			panic(fmt.Errorf("sched: refresh kernel mappings of %d: %w", q.pid, err))
		}
		q.kernelGen = s.deps.Tables.KernelGeneration()
	}
	s.deps.Tables.Switch(q.rootPhys)
}

func (s *Scheduler) needsRefresh(q *process) bool {
	if !q.refresh {
		return false
	}
	if s.opts.Refresh == RefreshOnChange {
		return q.kernelGen != s.deps.Tables.KernelGeneration()
	}
	return true
}

// firstReady returns the first Ready thread of q, main first.
func (s *Scheduler) firstReady(q *process) arena.Handle {
	for _, h := range q.threads {
		if s.thread(h).status == Ready {
			return h
		}
	}
	return arena.Handle{}
}

func (s *Scheduler) mainOf(p *process) arena.Handle {
	if len(p.threads) == 0 {
		panic(fmt.Errorf("%w: %d", ErrNoMainThread, p.pid))
	}
	return p.threads[0]
}

func (s *Scheduler) indexOf(p *process, h arena.Handle) int {
	for i, th := range p.threads {
		if th == h {
			return i
		}
	}
	panic(fmt.Errorf("%w: active thread %s not in process %d", ErrThreadNotFound, h, p.pid))
}

func (s *Scheduler) ringIndex(h arena.Handle) int {
	for i, ph := range s.ring {
		if ph == h {
			return i
		}
	}
	panic(fmt.Errorf("%w: active process %s not in ring", ErrTaskNotFound, h))
}
