package cpu

// DefaultTimerHz is the default timer frequency.
const DefaultTimerHz = 100

// Timer is a periodic interrupt source with a monotonic tick counter.
type Timer struct {
	hz    uint64
	ticks uint64
}

// NewTimer returns a timer firing hz times per second. Zero selects
// DefaultTimerHz.
func NewTimer(hz uint64) *Timer {
	if hz == 0 {
		hz = DefaultTimerHz
	}
	return &Timer{hz: hz}
}

// Tick advances the counter by one interrupt.
func (t *Timer) Tick() { t.ticks++ }

// Ticks returns the number of interrupts so far.
func (t *Timer) Ticks() uint64 { return t.ticks }

// Hz returns the frequency.
func (t *Timer) Hz() uint64 { return t.hz }

// UptimeMs returns the elapsed time in milliseconds.
func (t *Timer) UptimeMs() uint64 { return t.ticks * 1000 / t.hz }

// InterruptController acknowledges interrupts.
type InterruptController struct {
	eoi uint64
}

// EOI signals end of interrupt.
func (ic *InterruptController) EOI() { ic.eoi++ }

// Acknowledged returns how many interrupts have been acknowledged.
func (ic *InterruptController) Acknowledged() uint64 { return ic.eoi }
