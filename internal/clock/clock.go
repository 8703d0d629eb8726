// Package clock holds the local round countdown. The session ticks it once
// per second between status fetches so the display keeps moving without
// hitting the authority; every status fetch resyncs it, which bounds drift to
// the notification interval.
package clock

// RoundClock counts a round down locally from the last authoritative value.
type RoundClock struct {
	remaining int
	running   bool
}

func (c *RoundClock) Remaining() int { return c.remaining }
func (c *RoundClock) Running() bool  { return c.running }

// Start arms the countdown. A non-positive duration never starts it.
func (c *RoundClock) Start(seconds int) {
	if seconds <= 0 {
		c.remaining = 0
		c.running = false
		return
	}
	c.remaining = seconds
	c.running = true
}

// Tick advances one logical second. It reports true exactly once, on the
// tick that reaches zero; the caller turns that into the round-ended signal.
func (c *RoundClock) Tick() bool {
	if !c.running {
		return false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		c.running = false
		return true
	}
	return false
}

// Resync overwrites the countdown with a fresh authoritative observation,
// correcting whatever drift the local ticks accumulated. An inactive report
// always forces the clock to stopped-at-zero.
func (c *RoundClock) Resync(seconds int, active bool) {
	if !active {
		c.remaining = 0
		c.running = false
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	c.remaining = seconds
	c.running = true
}
