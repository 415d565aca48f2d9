// Package position converts a wrapping 32-bit play-head counter into a
// monotonic frame count.
package position

// wrap is the period of raw position counter.
const wrap = 1 << 32

// Tracker counts overflows of raw position. It must observe the counter at
// least once per wrap period, otherwise multiple wraps between observations
// are counted as one.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	previous  uint32
	overflows uint64
}

// Observe returns monotonic frames for raw position. Sinks which report
// position as a signed value must convert it with uint32 first.
func (t *Tracker) Observe(raw uint32) uint64 {
	if raw < t.previous {
		t.overflows++
	}
	t.previous = raw
	return uint64(raw) + t.overflows*wrap
}

// Occupancy returns number of frames fed to the sink but not played yet.
func (t *Tracker) Occupancy(fed uint64, raw uint32) int64 {
	played := t.Observe(raw)
	if played >= fed {
		return 0
	}
	return int64(fed - played)
}

// Overflows returns number of observed wraps.
func (t *Tracker) Overflows() uint64 {
	return t.overflows
}

// Reset forgets the previous position and overflows.
func (t *Tracker) Reset() {
	t.previous = 0
	t.overflows = 0
}
