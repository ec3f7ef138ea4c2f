package kernel

import (
	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/machine"
	"github.com/joshuapare/kestrel/memory/pmm"
	"github.com/joshuapare/kestrel/memory/region"
	"github.com/joshuapare/kestrel/sched"
)

// Stats is a consistent view of every subsystem's counters.
type Stats struct {
	UptimeMs  uint64
	EOIs      uint64
	Frames    pmm.Stats
	Regions   region.Stats
	Sched     sched.Stats
	Machine   machine.Stats
	TLB       cpu.TLBStats
	Processes []sched.ProcessInfo
}

// Stats gathers the counters between ticks.
func (k *Kernel) Stats() Stats {
	var st Stats
	k.Inspect(func() {
		st = Stats{
			UptimeMs:  k.Machine.UptimeMs(),
			EOIs:      k.Machine.Acknowledged(),
			Frames:    k.Frames.Stats(),
			Regions:   k.Regions.Stats(),
			Sched:     k.Sched.Stats(),
			Machine:   k.Machine.Stats(),
			TLB:       k.Core.TLBStats(),
			Processes: k.Sched.Snapshot(),
		}
	})
	return st
}

// Taken returns the coalesced taken frame ranges.
func (k *Kernel) Taken() []pmm.Range {
	var out []pmm.Range
	k.Inspect(func() { out = k.Frames.TakenRanges() })
	return out
}
