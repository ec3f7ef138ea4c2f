package pmm

import (
	"github.com/joshuapare/kestrel/internal/layout"
)

// Range is a run of frames in the same taken state.
type Range struct {
	Start layout.PhysAddr
	Len   uint64
	State State
}

// End returns the first address past r.
func (r Range) End() layout.PhysAddr { return r.Start.Add(r.Len) }

// TakenRanges returns the Used and Reserved frames as sorted runs. Adjacent
// frames in the same state are merged.
func (a *Allocator) TakenRanges() []Range {
	a.mu.Lock()
	defer a.mu.Unlock()

	var merged []Range
	for f := uint64(0); f < a.frames; f++ {
		s := a.stateOf(f)
		if s == Free {
			continue
		}
		start := layout.PhysAddr(f << layout.PageShift)
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.State == s && last.End() == start {
				last.Len += layout.PageSize
				continue
			}
		}
		merged = append(merged, Range{Start: start, Len: layout.PageSize, State: s})
	}
	return merged
}
