// File: timer/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package timer implements the cooperative timer registry ticked by the host loop.
//
// A Handler is owned by the host loop goroutine and is not safe for concurrent
// use. Timers fire from TickTimers only; there is no ordering between timers
// that fire in the same tick.
package timer

import (
	"errors"
	"time"

	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/control"
)

// ErrInterval is returned for a repeating timer with a non-positive interval.
var ErrInterval = errors.New("timer: repeat interval must be positive")

// Func is a timer callback. now is the tick time.
type Func func(now time.Time)

// Timer is a registered callback with a due time.
type Timer struct {
	h        *Handler
	due      time.Time
	interval time.Duration
	repeat   bool
	owner    string
	fn       Func
	index    int // position in h.timers, -1 when not registered
}

// Due returns the next due time.
func (t *Timer) Due() time.Time { return t.due }

// Interval returns the repeat interval, zero for one-shot timers.
func (t *Timer) Interval() time.Duration { return t.interval }

// Repeating reports whether the timer reschedules itself.
func (t *Timer) Repeating() bool { return t.repeat }

// Owner returns the owner tag set with Owned.
func (t *Timer) Owner() string { return t.owner }

// Registered reports whether the timer is still in its handler.
func (t *Timer) Registered() bool { return t.index >= 0 }

// Stop deregisters the timer. It is safe to call from the timer's own callback.
func (t *Timer) Stop() {
	if t.index >= 0 {
		t.h.remove(t)
	}
}

// TimerOption customizes a timer at construction.
type TimerOption func(*Timer)

// Owned tags the timer with the name of the plugin that created it.
func Owned(owner string) TimerOption {
	return func(t *Timer) { t.owner = owner }
}

// Handler owns the registered timers.
type Handler struct {
	timers  []*Timer
	now     func() time.Time
	log     api.Logger
	metrics *control.Metrics
}

// Option customizes a Handler.
type Option func(*Handler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithLogger sets the logger used for callback faults.
func WithLogger(log api.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithMetrics wires timer gauges and counters.
func WithMetrics(m *control.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates an empty timer registry.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		now: time.Now,
		log: api.NopLogger{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Now reads the handler clock.
func (h *Handler) Now() time.Time { return h.now() }

// Every registers a repeating timer first due one interval from now.
func (h *Handler) Every(interval time.Duration, fn Func, opts ...TimerOption) (*Timer, error) {
	if interval <= 0 {
		return nil, ErrInterval
	}
	t := &Timer{due: h.now().Add(interval), interval: interval, repeat: true, fn: fn}
	return h.add(t, opts), nil
}

// At registers a one-shot timer due at an absolute time.
func (h *Handler) At(due time.Time, fn Func, opts ...TimerOption) *Timer {
	return h.add(&Timer{due: due, fn: fn}, opts)
}

// After registers a one-shot timer due delay from now.
func (h *Handler) After(delay time.Duration, fn Func, opts ...TimerOption) *Timer {
	return h.At(h.now().Add(delay), fn, opts...)
}

func (h *Handler) add(t *Timer, opts []TimerOption) *Timer {
	for _, opt := range opts {
		opt(t)
	}
	t.h = h
	t.index = len(h.timers)
	h.timers = append(h.timers, t)
	h.metrics.SetTimers(len(h.timers))
	return t
}

// remove swaps the last timer into t's slot; registry order is unspecified.
func (h *Handler) remove(t *Timer) {
	last := len(h.timers) - 1
	moved := h.timers[last]
	h.timers[t.index] = moved
	moved.index = t.index
	h.timers[last] = nil
	h.timers = h.timers[:last]
	t.index = -1
	h.metrics.SetTimers(len(h.timers))
}

// Len returns the number of registered timers.
func (h *Handler) Len() int { return len(h.timers) }

// Timers returns a snapshot of the registered timers.
func (h *Handler) Timers() []*Timer {
	return append([]*Timer(nil), h.timers...)
}

// StopOwned deregisters every timer tagged with owner and returns how many.
func (h *Handler) StopOwned(owner string) int {
	n := 0
	for _, t := range h.Timers() {
		if t.owner == owner {
			t.Stop()
			n++
		}
	}
	return n
}

// TickTimers fires every timer due at the current time and returns the
// number fired. The clock is read once for the due check; repeating timers
// reschedule from a fresh read taken after their callback returns.
func (h *Handler) TickTimers() int {
	now := h.now()
	fired := 0
	for _, t := range h.Timers() {
		if !t.Registered() || t.due.After(now) {
			continue
		}
		h.fire(t, now)
		fired++
		if !t.Registered() {
			continue
		}
		if t.repeat {
			t.due = h.now().Add(t.interval)
		} else {
			h.remove(t)
		}
	}
	return fired
}

func (h *Handler) fire(t *Timer, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("timer callback panicked", api.LogFields{"owner": t.owner, "panic": r})
		}
	}()
	h.metrics.TimerFired()
	t.fn(now)
}
