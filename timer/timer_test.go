package timer_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/momentics/fluxd/control"
	"github.com/momentics/fluxd/fake"
	"github.com/momentics/fluxd/timer"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestOneShotFiresOnceAfterDelay(t *testing.T) {
	clock := fake.NewClock(epoch)
	h := timer.NewHandler(timer.WithClock(clock.Now))

	calls := 0
	tm := h.After(5*time.Second, func(time.Time) { calls++ })

	clock.Set(epoch.Add(3 * time.Second))
	assert.Zero(t, h.TickTimers())
	assert.Zero(t, calls)
	assert.True(t, tm.Registered())
	assert.Equal(t, 1, h.Len())

	clock.Set(epoch.Add(6 * time.Second))
	assert.Equal(t, 1, h.TickTimers())
	assert.Equal(t, 1, calls)
	assert.False(t, tm.Registered())
	assert.Zero(t, h.Len())

	h.TickTimers()
	assert.Equal(t, 1, calls)
}

func TestAtUsesAbsoluteDueTime(t *testing.T) {
	clock := fake.NewClock(epoch)
	h := timer.NewHandler(timer.WithClock(clock.Now))
	tm := h.At(epoch.Add(time.Minute), func(time.Time) {})
	assert.Equal(t, epoch.Add(time.Minute), tm.Due())
	assert.False(t, tm.Repeating())
}

func TestRepeatingReschedulesFromAfterCallback(t *testing.T) {
	clock := fake.NewClock(epoch)
	h := timer.NewHandler(timer.WithClock(clock.Now))

	var seen []time.Time
	tm, err := h.Every(10*time.Second, func(now time.Time) {
		seen = append(seen, now)
		clock.Advance(7 * time.Second) // slow callback
	})
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(10*time.Second), tm.Due())

	clock.Set(epoch.Add(35 * time.Second))
	assert.Equal(t, 1, h.TickTimers())
	require.Len(t, seen, 1)
	assert.Equal(t, epoch.Add(35*time.Second), seen[0])
	assert.Equal(t, epoch.Add(52*time.Second), tm.Due())
	assert.True(t, tm.Registered())
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	h := timer.NewHandler()
	_, err := h.Every(0, func(time.Time) {})
	assert.ErrorIs(t, err, timer.ErrInterval)
}

func TestStopFromCallbackAndStopOwned(t *testing.T) {
	clock := fake.NewClock(epoch)
	h := timer.NewHandler(timer.WithClock(clock.Now))

	var self *timer.Timer
	calls := 0
	self, err := h.Every(time.Second, func(time.Time) {
		calls++
		self.Stop()
	})
	require.NoError(t, err)

	h.After(time.Hour, func(time.Time) {}, timer.Owned("echo"))
	_, err = h.Every(time.Hour, func(time.Time) {}, timer.Owned("echo"))
	require.NoError(t, err)
	h.After(time.Hour, func(time.Time) {}, timer.Owned("other"))

	clock.Advance(2 * time.Second)
	h.TickTimers()
	h.TickTimers()
	assert.Equal(t, 1, calls)
	assert.False(t, self.Registered())

	assert.Equal(t, 2, h.StopOwned("echo"))
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, "other", h.Timers()[0].Owner())
}

func TestCallbackPanicStillRemovesOneShot(t *testing.T) {
	clock := fake.NewClock(epoch)
	metrics := control.NewMetrics(prometheus.NewRegistry())
	h := timer.NewHandler(timer.WithClock(clock.Now), timer.WithMetrics(metrics))

	h.At(epoch, func(time.Time) { panic("boom") })
	assert.NotPanics(t, func() { h.TickTimers() })
	assert.Zero(t, h.Len())
}

func TestTickTimersProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := fake.NewClock(epoch)
		h := timer.NewHandler(timer.WithClock(clock.Now))

		n := rapid.IntRange(1, 30).Draw(rt, "timers")
		calls := make([]int, n)
		timers := make([]*timer.Timer, n)
		for i := 0; i < n; i++ {
			i := i
			offset := time.Duration(rapid.IntRange(0, 120).Draw(rt, "offset")) * time.Second
			cb := func(time.Time) { calls[i]++ }
			if rapid.Bool().Draw(rt, "repeat") {
				interval := offset + time.Second
				tm, err := h.Every(interval, cb)
				if err != nil {
					rt.Fatalf("Every: %v", err)
				}
				timers[i] = tm
			} else {
				timers[i] = h.After(offset, cb)
			}
		}

		dues := make([]time.Time, n)
		for i, tm := range timers {
			dues[i] = tm.Due()
		}

		tick := epoch.Add(time.Duration(rapid.IntRange(0, 150).Draw(rt, "tick")) * time.Second)
		clock.Set(tick)
		h.TickTimers()

		for i, tm := range timers {
			due := !dues[i].After(tick)
			switch {
			case due && calls[i] != 1:
				rt.Fatalf("timer %d due at %v fired %d times at %v", i, dues[i], calls[i], tick)
			case !due && calls[i] != 0:
				rt.Fatalf("timer %d not due fired %d times", i, calls[i])
			case due && tm.Repeating() && !tm.Due().After(tick):
				rt.Fatalf("timer %d rescheduled to %v, not after %v", i, tm.Due(), tick)
			case due && !tm.Repeating() && tm.Registered():
				rt.Fatalf("one-shot timer %d still registered", i)
			}
		}
	})
}
