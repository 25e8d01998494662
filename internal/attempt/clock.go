package attempt

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// RemainingSeconds returns the whole seconds left until expiresAt, rounded up and floored at 0.
func RemainingSeconds(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// clock counts down once per interval toward a fixed expiry and fires onExpire exactly once.
type clock struct {
	expiresAt time.Time
	now       func() time.Time
	interval  time.Duration

	remaining atomic.Int64
	stopped   atomic.Bool

	onTick   func(remaining int)
	onExpire func()
}

func newClock(expiresAt time.Time, now func() time.Time, interval time.Duration) *clock {
	c := &clock{
		expiresAt: expiresAt,
		now:       now,
		interval:  interval,
		onTick:    func(int) {},
		onExpire:  func() {},
	}
	c.remaining.Store(int64(RemainingSeconds(expiresAt, now())))
	return c
}

func (c *clock) seconds() int {
	return int(c.remaining.Load())
}

// stop suspends further ticks. It does not fire onExpire.
func (c *clock) stop() {
	c.stopped.Store(true)
}

// run ticks until the countdown hits zero, stop is called, or ctx is cancelled.
func (c *clock) run(ctx context.Context) {
	if c.seconds() == 0 {
		c.expire()
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		}
	}
}

// tick decrements the countdown by one, or further if the wall clock says less time is left.
// It returns true once the clock has finished.
func (c *clock) tick() bool {
	if c.stopped.Load() {
		return true
	}

	next := c.seconds() - 1
	if byWall := RemainingSeconds(c.expiresAt, c.now()); byWall < next {
		next = byWall
	}
	if next < 0 {
		next = 0
	}
	c.remaining.Store(int64(next))
	c.onTick(next)

	if next == 0 {
		c.expire()
		return true
	}
	return false
}

// expire stops ticking before handing off, so no tick can follow a timeout request.
func (c *clock) expire() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.onExpire()
}
