package machine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/internal/buf"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/internal/logger"
	"github.com/joshuapare/kestrel/sched"
)

// TimerVector is the interrupt vector of the periodic timer.
const TimerVector = 0x20

// DefaultQuantum is the number of instructions run between timer ticks.
const DefaultQuantum = 4

// ErrPrivilege means a spawn named a program of the other privilege level.
var ErrPrivilege = errors.New("machine: program privilege differs from caller")

// Scheduler is the part of the scheduler the machine drives.
type Scheduler interface {
	Schedule(frame *cpu.Frame, uptime uint64) *cpu.Frame
	Current() (sched.Current, bool)
	SpawnThread(entry layout.VirtAddr, name string) (sched.JoinHandle, error)
	SpawnProcess(entry sched.Entry, name string) (uint64, error)
	HandleOf(tid uint64) (sched.JoinHandle, error)
	Join(h sched.JoinHandle) error
	KillActive() error
	SleepActive(wakeAt uint64) error
}

// Options configures a Machine. Zero values select the defaults.
type Options struct {
	Quantum int
	TimerHz uint64
}

// Stats counts what the machine executed.
type Stats struct {
	Ticks        uint64
	Instructions uint64
	Syscalls     uint64
	Faults       uint64
	Halts        uint64
}

// Machine runs programs from an Image on a core and delivers the timer
// interrupt to the scheduler.
type Machine struct {
	core  *cpu.Core
	timer *cpu.Timer
	pic   cpu.InterruptController
	sched Scheduler
	image *Image
	out   io.Writer
	opts  Options

	frame *cpu.Frame
	stats Stats
}

// New returns a machine that has not taken its first tick yet.
func New(core *cpu.Core, s Scheduler, image *Image, out io.Writer, opts Options) *Machine {
	if opts.Quantum <= 0 {
		opts.Quantum = DefaultQuantum
	}
	if opts.TimerHz == 0 {
		opts.TimerHz = cpu.DefaultTimerHz
	}
	if out == nil {
		out = io.Discard
	}
	return &Machine{
		core:  core,
		timer: cpu.NewTimer(opts.TimerHz),
		sched: s,
		image: image,
		out:   out,
		opts:  opts,
	}
}

// Frame returns the state the core is executing.
func (m *Machine) Frame() *cpu.Frame { return m.frame }

// Stats returns the execution counters.
func (m *Machine) Stats() Stats { return m.stats }

// UptimeMs returns the time since the first tick.
func (m *Machine) UptimeMs() uint64 { return m.timer.UptimeMs() }

// Acknowledged returns how many interrupts were acknowledged.
func (m *Machine) Acknowledged() uint64 { return m.pic.Acknowledged() }

// Run executes ticks quanta, stopping early when ctx is done.
func (m *Machine) Run(ctx context.Context, ticks int) error {
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Tick(); err != nil {
			return err
		}
	}
	return nil
}

// Tick runs one quantum of the current thread and then the timer interrupt.
func (m *Machine) Tick() error {
	if m.frame != nil {
		if err := m.execute(); err != nil {
			return err
		}
	}
	m.interrupt()
	return nil
}

// interrupt is the timer handler: interrupts off, count the tick, let the
// scheduler pick the next frame, return into it and acknowledge.
func (m *Machine) interrupt() {
	m.core.DisableInterrupts()
	m.timer.Tick()
	if m.frame != nil {
		m.frame.Vector = TimerVector
	}
	next := m.sched.Schedule(m.frame, m.timer.UptimeMs())
	m.frame = next
	m.core.Resume(next)
	m.pic.EOI()
	m.stats.Ticks++
}

func (m *Machine) execute() error {
	for n := 0; n < m.opts.Quantum; n++ {
		stop, err := m.step()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// step executes one instruction. stop reports that the thread gave up the
// rest of its quantum.
func (m *Machine) step() (stop bool, err error) {
	f := m.frame
	rip := layout.VirtAddr(f.RIP)
	if _, err := m.core.Translate(rip, cpu.Execute); err != nil {
		return m.fault(err)
	}
	in, prog, ok := m.image.Fetch(rip)
	switch {
	case !ok && prog == nil:
		return m.fault(&cpu.Fault{Addr: rip, Access: cpu.Execute, User: f.UserMode(), Reason: "no program"})
	case !ok:
		in = Exit()
	}

	m.stats.Instructions++
	f.RIP += InstrSize

	switch in.Op {
	case OpNop:
	case OpSet:
		f.SetReg(in.Reg, in.Imm)
	case OpLoop:
		v := f.Reg(in.Reg) - 1
		f.SetReg(in.Reg, v)
		if v != 0 {
			f.RIP = uint64(prog.Entry) + in.Imm*InstrSize
		}
	case OpPush:
		var b [8]byte
		buf.PutU64LE(b[:], f.Reg(in.Reg))
		if err := m.core.Store(layout.VirtAddr(f.RSP-8), b[:]); err != nil {
			return m.fault(err)
		}
		f.RSP -= 8
	case OpPop:
		b, err := m.core.Load(layout.VirtAddr(f.RSP), 8)
		if err != nil {
			return m.fault(err)
		}
		f.SetReg(in.Reg, buf.U64LE(b))
		f.RSP += 8
	case OpHalt:
		f.RIP -= InstrSize
		m.stats.Halts++
		return true, nil
	default:
		m.stats.Syscalls++
		m.core.Syscall(func() { stop, err = m.service(in) })
	}
	return stop, err
}

// service runs a kernel service on behalf of the current thread.
func (m *Machine) service(in Instr) (bool, error) {
	f := m.frame
	switch in.Op {
	case OpPrint:
		if _, err := io.WriteString(m.out, in.Text); err != nil {
			return false, fmt.Errorf("machine: print: %w", err)
		}
	case OpSpawnThread:
		f.SetReg(in.Reg, 0)
		target, err := m.target(in.Target, f.UserMode())
		if err != nil {
			logger.Warn("spawn thread failed", "program", in.Target, "err", err)
			break
		}
		h, err := m.sched.SpawnThread(target.Entry, target.Name)
		if err != nil {
			logger.Warn("spawn thread failed", "program", in.Target, "err", err)
			break
		}
		f.SetReg(in.Reg, h.TID())
	case OpSpawnProcess:
		f.SetReg(in.Reg, 0)
		target, err := m.target(in.Target, f.UserMode())
		if err != nil {
			logger.Warn("spawn process failed", "program", in.Target, "err", err)
			break
		}
		pid, err := m.sched.SpawnProcess(m.EntryOf(target), target.Name)
		if err != nil {
			logger.Warn("spawn process failed", "program", in.Target, "err", err)
			break
		}
		f.SetReg(in.Reg, pid)
	case OpJoin:
		h, err := m.sched.HandleOf(f.Reg(in.Reg))
		if err == nil {
			err = m.sched.Join(h)
		}
		if err != nil {
			logger.Warn("join failed", "tid", f.Reg(in.Reg), "err", err)
		}
	case OpSleep:
		if err := m.sched.SleepActive(m.timer.UptimeMs() + in.Imm); err != nil {
			return false, fmt.Errorf("machine: sleep: %w", err)
		}
		return true, nil
	case OpExit:
		if err := m.sched.KillActive(); err != nil {
			return false, fmt.Errorf("machine: exit: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("machine: illegal instruction %s at %#x", in, f.RIP-InstrSize)
	}
	return false, nil
}

// target resolves a spawn target. Code starts programs of its own privilege
// level only; kernel address spaces do not carry the user image.
func (m *Machine) target(name string, fromUser bool) (*Program, error) {
	p, err := m.image.Lookup(name)
	if err != nil {
		return nil, err
	}
	if p.User != fromUser {
		return nil, fmt.Errorf("%w: %q", ErrPrivilege, name)
	}
	return p, nil
}

// EntryOf returns the scheduler entry for p.
func (m *Machine) EntryOf(p *Program) sched.Entry {
	if !p.User {
		return sched.KernelEntry{Addr: p.Entry}
	}
	start, end := m.image.UserRange()
	return sched.UserEntry{Entry: p.Entry, Start: start, End: end}
}

// fault kills the current thread, as the page fault handler does for a bad
// access.
func (m *Machine) fault(cause error) (bool, error) {
	m.stats.Faults++
	cur, _ := m.current()
	logger.Warn("page fault", "pid", cur.PID, "tid", cur.TID, "err", cause)

	var err error
	m.core.Syscall(func() { err = m.sched.KillActive() })
	if err != nil {
		return false, fmt.Errorf("machine: fault in %d/%d: %w: %w", cur.PID, cur.TID, cause, err)
	}
	return true, nil
}

func (m *Machine) current() (sched.Current, bool) {
	var (
		cur sched.Current
		ok  bool
	)
	m.core.Syscall(func() { cur, ok = m.sched.Current() })
	return cur, ok
}
