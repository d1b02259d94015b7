// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"time"

	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/control"
	"github.com/momentics/fluxd/module"
	"github.com/momentics/fluxd/socket"
	"github.com/momentics/fluxd/timer"
)

// Host is an in-memory module.Host. Jobs run inline and timers use Clock.
type Host struct {
	Log      api.Logger
	Store    *control.ConfigStore
	Exec     *Executor
	Clock    *Clock
	TimerH   *timer.Handler
	Engine   *socket.Engine
	Registry *module.Handler
}

// NewHost builds a host and its plugin registry from opts.
func NewHost(opts module.Options) *Host {
	h := &Host{
		Log:   opts.Logger,
		Store: control.NewConfigStore(),
		Exec:  &Executor{},
		Clock: NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	if h.Log == nil {
		h.Log = api.NopLogger{}
	}
	h.TimerH = timer.NewHandler(timer.WithClock(h.Clock.Now))
	h.Engine = socket.NewEngine()
	h.Registry = module.NewHandler(h, opts)
	return h
}

func (h *Host) Logger() api.Logger { return h.Log }

func (h *Host) Config() api.ConfigLookup { return h.Store }

func (h *Host) Executor() api.Executor { return h.Exec }

func (h *Host) Timers() *timer.Handler { return h.TimerH }

func (h *Host) Sockets() *socket.Engine { return h.Engine }

func (h *Host) Modules() *module.Handler { return h.Registry }

// Executor runs every job synchronously on the submitting goroutine.
type Executor struct {
	Ran int
}

func (e *Executor) Submit(job func()) error {
	e.Ran++
	job()
	return nil
}

func (e *Executor) TrySubmit(jobs ...func()) (bool, error) {
	for _, job := range jobs {
		_ = e.Submit(job)
	}
	return true, nil
}

func (e *Executor) NumWorkers() int { return 1 }
