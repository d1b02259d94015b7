// File: module/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package module

import (
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/momentics/fluxd/api"
)

// ForEach invokes fn on every loaded plugin implementing T, in registry
// order. Plugins unloaded by an earlier callback of the same dispatch are
// skipped. A panic inside fn is recovered, attributed to the plugin, logged
// and counted; dispatch then continues with the next plugin.
func ForEach[T any](h *Handler, event string, fn func(T)) {
	forEach(h, callSite(event), fn)
}

func forEach[T any](h *Handler, loc string, fn func(T)) {
	h.dispatch(func(m Module) bool {
		t, ok := m.(T)
		if !ok {
			return true
		}
		h.invoke(m, loc, func() { fn(t) })
		return true
	})
}

// ForEachResult is ForEach for result-aggregating events: the first plugin
// returning Stop halts dispatch and Stop is returned. A faulting plugin
// counts as Continue.
func ForEachResult[T any](h *Handler, event string, fn func(T) EventResult) EventResult {
	return forEachResult(h, callSite(event), fn)
}

func forEachResult[T any](h *Handler, loc string, fn func(T) EventResult) EventResult {
	result := Continue
	h.dispatch(func(m Module) bool {
		t, ok := m.(T)
		if !ok {
			return true
		}
		h.invoke(m, loc, func() { result = fn(t) })
		if result == Stop {
			return false
		}
		result = Continue
		return true
	})
	return result
}

// callSite renders "event@file:line" for the caller of the function that
// calls callSite: the code that started the dispatch.
func callSite(event string) string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return event
	}
	return fmt.Sprintf("%s@%s:%d", event, filepath.Base(file), line)
}

// dispatch walks a registry snapshot. Dispatches nest when a plugin triggers
// another event (for example by unloading a plugin) from its callback.
func (h *Handler) dispatch(visit func(Module) bool) {
	for _, m := range h.Modules() {
		if !h.loaded(m) {
			continue
		}
		if !visit(m) {
			return
		}
	}
}

// invoke runs one plugin callback with fault attribution and containment.
func (h *Handler) invoke(m Module, loc string, call func()) {
	name := m.Name()
	prevRun, prevLoc := h.lastRun.Load(), h.location.Load()
	h.lastRun.Store(&name)
	h.location.Store(&loc)
	h.calls++
	defer func() {
		if r := recover(); r != nil {
			h.fault(m, loc, r)
		}
		h.calls--
		if h.calls > 0 {
			// back inside the outer plugin's callback
			h.lastRun.Store(prevRun)
			h.location.Store(prevLoc)
		}
	}()
	call()
}

func (h *Handler) fault(m Module, loc string, r any) *api.Error {
	err := &api.Error{
		Code:    api.ErrCodeException,
		Module:  m.Name(),
		Message: fmt.Sprintf("fault in %s: %v", loc, r),
	}
	if cause, ok := r.(error); ok {
		err.Err = cause
	}
	err.WithContext("location", loc)
	h.metrics.ModuleFault(m.Name())
	h.log.Error("plugin fault recovered", err, api.LogFields{
		"module":   m.Name(),
		"location": loc,
		"stack":    string(debug.Stack()),
	})
	h.faults.Add(1)
	return err
}

// LastRunModule returns the name of the plugin whose callback ran last, or
// "" before the first dispatch.
func (h *Handler) LastRunModule() string {
	if p := h.lastRun.Load(); p != nil {
		return *p
	}
	return ""
}

// Location returns the event and call site of the last plugin callback.
func (h *Handler) Location() string {
	if p := h.location.Load(); p != nil {
		return *p
	}
	return ""
}

// Faults returns how many plugin faults were recovered.
func (h *Handler) Faults() int64 { return h.faults.Load() }
