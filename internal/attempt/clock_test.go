package attempt

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      int
	}{
		{"exact", now.Add(90 * time.Second), 90},
		{"rounds up", now.Add(1500 * time.Millisecond), 2},
		{"expired", now.Add(-time.Minute), 0},
		{"now", now, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemainingSeconds(tt.expiresAt, now))
		})
	}
}

func TestClockTickDecrementsByOne(t *testing.T) {
	now := time.Now()
	c := newClock(now.Add(10*time.Second), func() time.Time { return now }, time.Second)

	var ticks []int
	c.onTick = func(r int) { ticks = append(ticks, r) }

	assert.False(t, c.tick())
	assert.False(t, c.tick())
	assert.Equal(t, []int{9, 8}, ticks)
	assert.Equal(t, 8, c.seconds())
}

func TestClockCatchesUpWithWallClock(t *testing.T) {
	start := time.Now()
	now := start
	c := newClock(start.Add(60*time.Second), func() time.Time { return now }, time.Second)

	now = start.Add(45 * time.Second)
	assert.False(t, c.tick())
	assert.Equal(t, 15, c.seconds())
}

func TestClockExpiresExactlyOnce(t *testing.T) {
	now := time.Now()
	c := newClock(now.Add(2*time.Second), func() time.Time { return now }, time.Second)

	var fired atomic.Int32
	c.onExpire = func() { fired.Add(1) }

	assert.False(t, c.tick())
	assert.True(t, c.tick())
	assert.True(t, c.tick())
	c.expire()

	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 0, c.seconds())
}

func TestClockStopSuppressesExpiry(t *testing.T) {
	now := time.Now()
	c := newClock(now.Add(time.Second), func() time.Time { return now }, time.Second)

	var fired atomic.Int32
	c.onExpire = func() { fired.Add(1) }

	c.stop()
	assert.True(t, c.tick())
	c.expire()
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, 1, c.seconds())
}

func TestClockRunExpiresImmediatelyWhenZero(t *testing.T) {
	now := time.Now()
	c := newClock(now.Add(-time.Second), func() time.Time { return now }, time.Hour)

	fired := make(chan struct{})
	c.onExpire = func() { close(fired) }

	c.run(context.Background())

	select {
	case <-fired:
	default:
		t.Fatal("expected immediate expiry")
	}
}

func TestClockRunStopsOnCancel(t *testing.T) {
	c := newClock(time.Now().Add(time.Hour), time.Now, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Greater(t, c.seconds(), 3500)
}
