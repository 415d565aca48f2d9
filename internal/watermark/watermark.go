// Package watermark decides when the host must be asked for more samples.
//
// Notifications are edge-triggered: once a notification is fired for the
// current dip below threshold, no more are fired until the edge is re-armed
// by a feed or a threshold change. The only exception is the Sentinel
// threshold which fires on every observation, but not more often than the
// minimum interval.
package watermark

import (
	"sync"
	"time"
)

// Sentinel threshold means always request, rate-limited.
const Sentinel = -1

// DefaultMinInterval limits sentinel notifications to 250 per second.
const DefaultMinInterval = 4 * time.Millisecond

// Controller tracks edge flags for a single stream. It's safe for
// concurrent use.
type Controller struct {
	m           sync.Mutex
	threshold   int
	drain       bool
	minInterval time.Duration
	now         func() time.Time

	thresholdArmed bool
	drainArmed     bool
	last           time.Time
}

// Option configures controller.
type Option func(*Controller)

// WithDrain enables a distinct notification when queue is drained to zero.
func WithDrain(enabled bool) Option {
	return func(c *Controller) {
		c.drain = enabled
	}
}

// WithMinInterval sets the minimal interval between sentinel notifications.
func WithMinInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.minInterval = d
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New returns armed controller with provided threshold in frames.
func New(threshold int, options ...Option) *Controller {
	c := &Controller{
		threshold:      threshold,
		minInterval:    DefaultMinInterval,
		now:            time.Now,
		thresholdArmed: true,
		drainArmed:     true,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Valid reports if threshold value is acceptable.
func Valid(threshold int) bool {
	return threshold >= Sentinel
}

// Observe checks remaining frames against threshold and returns true if
// the host must be notified.
func (c *Controller) Observe(remaining int) bool {
	c.m.Lock()
	defer c.m.Unlock()
	return c.observe(remaining)
}

// Feed re-arms edges and observes remaining frames right after the feed.
func (c *Controller) Feed(remaining int) bool {
	c.m.Lock()
	defer c.m.Unlock()
	c.arm()
	return c.observe(remaining)
}

// SetThreshold updates threshold and re-arms edges.
func (c *Controller) SetThreshold(threshold int) {
	c.m.Lock()
	defer c.m.Unlock()
	c.threshold = threshold
	c.arm()
}

// Threshold returns current threshold.
func (c *Controller) Threshold() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.threshold
}

// Reset re-arms edges and forgets the last sentinel notification.
func (c *Controller) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.arm()
	c.last = time.Time{}
}

func (c *Controller) arm() {
	c.thresholdArmed = true
	c.drainArmed = true
}

func (c *Controller) observe(remaining int) bool {
	if c.threshold == Sentinel {
		now := c.now()
		if c.last.IsZero() || now.Sub(c.last) >= c.minInterval {
			c.last = now
			if remaining == 0 {
				c.drainArmed = false
			}
			return true
		}
		// drain is never rate-limited away
		if c.drain && remaining == 0 && c.drainArmed {
			c.drainArmed = false
			c.last = now
			return true
		}
		return false
	}

	fire := false
	if remaining <= c.threshold && c.thresholdArmed {
		c.thresholdArmed = false
		fire = true
	}
	if c.drain && remaining == 0 && c.drainArmed {
		c.drainArmed = false
		fire = true
	}
	return fire
}
