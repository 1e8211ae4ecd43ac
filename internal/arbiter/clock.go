package arbiter

import (
	"time"

	"github.com/park285/cheese-relay/internal/wire"
)

// Clock is a two-sided chess clock with a Fischer increment. A nil *Clock is untimed.
type Clock struct {
	remaining [2]time.Duration
	inc       time.Duration
	running   wire.Color
	since     time.Time
	started   bool
}

// NewClock returns nil when total is not positive.
func NewClock(total, inc time.Duration, first wire.Color) *Clock {
	if total <= 0 {
		return nil
	}
	if inc < 0 {
		inc = 0
	}
	return &Clock{remaining: [2]time.Duration{total, total}, inc: inc, running: first}
}

// Start runs the first mover's time from now.
func (c *Clock) Start(now time.Time) {
	if c == nil || c.started {
		return
	}
	c.started = true
	c.since = now
}

func (c *Clock) Running() wire.Color {
	if c == nil {
		return wire.White
	}
	return c.running
}

// Remaining is color's time left at now, never negative.
func (c *Clock) Remaining(color wire.Color, now time.Time) time.Duration {
	if c == nil || !color.Valid() {
		return 0
	}
	left := c.remaining[color]
	if c.started && color == c.running {
		left -= now.Sub(c.since)
	}
	if left < 0 {
		return 0
	}
	return left
}

// Switch ends the running side's turn at now. It reports flagged when that side
// had run out before moving; otherwise the increment is added and the other side runs.
func (c *Clock) Switch(now time.Time) (flagged bool) {
	if c == nil {
		return false
	}
	if !c.started {
		c.Start(now)
	}
	mover := c.running
	left := c.remaining[mover] - now.Sub(c.since)
	if left <= 0 {
		c.remaining[mover] = 0
		return true
	}
	c.remaining[mover] = left + c.inc
	c.running = mover.Opponent()
	c.since = now
	return false
}

// Deadline is when the running side flags; zero for an untimed or stopped clock.
func (c *Clock) Deadline() time.Time {
	if c == nil || !c.started {
		return time.Time{}
	}
	return c.since.Add(c.remaining[c.running])
}
