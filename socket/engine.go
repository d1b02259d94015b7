// File: socket/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"errors"
	"fmt"
	"net/netip"
	"runtime/debug"
	"sort"
	"time"

	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/control"
)

// Poller is the readiness backend supplied by a socket-engine plugin.
type Poller interface {
	Add(fd int, in Interest) error
	Modify(fd int, in Interest) error
	Remove(fd int) error
	// Wait blocks up to timeout and calls ready once per ready descriptor.
	Wait(timeout time.Duration, ready func(fd int, r Readiness)) error
	Close() error
}

// stubPoller is used while no socket-engine plugin is loaded. It registers
// nothing and only sleeps, so the host loop keeps its pace.
type stubPoller struct{}

func (stubPoller) Add(int, Interest) error { return nil }
func (stubPoller) Modify(int, Interest) error { return nil }
func (stubPoller) Remove(int) error { return nil }
func (stubPoller) Close() error { return nil }

func (stubPoller) Wait(timeout time.Duration, _ func(int, Readiness)) error {
	if timeout > 0 {
		time.Sleep(timeout)
	}
	return nil
}

// Engine is the socket multiplexer: the owning registry of sockets plus the
// current Poller.
type Engine struct {
	sockets map[int]Socket
	poller  Poller
	stub    bool
	filter  func(peer netip.AddrPort) bool
	buffers *BufferPool
	log     api.Logger
	metrics *control.Metrics
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log api.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics wires socket gauges and counters.
func WithMetrics(m *control.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithReadBufferSize sets the pooled read buffer size.
func WithReadBufferSize(n int) Option {
	return func(e *Engine) { e.buffers = NewBufferPool(n) }
}

// NewEngine creates an engine with the inert stub poller.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sockets: make(map[int]Socket),
		poller:  stubPoller{},
		stub:    true,
		log:     api.NopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.buffers == nil {
		e.buffers = NewBufferPool(DefaultReadBufferSize)
	}
	return e
}

// HasPoller reports whether a socket-engine plugin installed a poller.
func (e *Engine) HasPoller() bool { return !e.stub }

// SetPoller installs p, re-registering every socket with it, and closes the
// previous poller. A nil p restores the stub.
func (e *Engine) SetPoller(p Poller) error {
	old, oldStub := e.poller, e.stub
	if p == nil {
		e.poller, e.stub = stubPoller{}, true
	} else {
		e.poller, e.stub = p, false
	}
	var errs []error
	for fd, s := range e.sockets {
		if err := e.poller.Add(fd, interestOf(s.Flags())); err != nil {
			errs = append(errs, fmt.Errorf("socket: re-register fd %d: %w", fd, err))
		}
	}
	if !oldStub {
		if err := old.Close(); err != nil {
			errs = append(errs, fmt.Errorf("socket: close previous poller: %w", err))
		}
	}
	e.log.Info("socket poller installed", api.LogFields{"stub": e.stub, "sockets": len(e.sockets)})
	return errors.Join(errs...)
}

// SetAcceptFilter installs a predicate consulted before an accepted
// connection is handed to a listener's factory. Rejected descriptors are
// closed at once.
func (e *Engine) SetAcceptFilter(fn func(peer netip.AddrPort) bool) {
	e.filter = fn
}

func (e *Engine) admit(peer netip.AddrPort) bool {
	if e.filter == nil || e.filter(peer) {
		return true
	}
	e.metrics.SocketEvent("rejected")
	return false
}

// AddSocket registers s with the engine and the poller.
func (e *Engine) AddSocket(s Socket) error {
	fd := s.FD()
	if _, ok := e.sockets[fd]; ok {
		return fmt.Errorf("%w: fd %d", ErrRegistered, fd)
	}
	if err := e.poller.Add(fd, interestOf(s.Flags())); err != nil {
		return fmt.Errorf("socket: register fd %d: %w", fd, err)
	}
	e.sockets[fd] = s
	e.metrics.SetSockets(len(e.sockets))
	return nil
}

// RemoveSocket deregisters s. Removing an unregistered socket is a no-op.
func (e *Engine) RemoveSocket(s Socket) error {
	fd := s.FD()
	if cur, ok := e.sockets[fd]; !ok || cur != s {
		return nil
	}
	delete(e.sockets, fd)
	e.metrics.SetSockets(len(e.sockets))
	if err := e.poller.Remove(fd); err != nil {
		return fmt.Errorf("socket: deregister fd %d: %w", fd, err)
	}
	return nil
}

// FindSocket returns the socket registered for fd, or nil.
func (e *Engine) FindSocket(fd int) Socket {
	return e.sockets[fd]
}

// UpdateSocket re-arms the poller interest from the socket's MX flags.
func (e *Engine) UpdateSocket(s Socket) error {
	fd := s.FD()
	if _, ok := e.sockets[fd]; !ok {
		return fmt.Errorf("socket: update unregistered fd %d", fd)
	}
	return e.poller.Modify(fd, interestOf(s.Flags()))
}

// Len returns the number of registered sockets.
func (e *Engine) Len() int { return len(e.sockets) }

// Sockets returns the registered sockets ordered by descriptor.
func (e *Engine) Sockets() []Socket {
	out := make([]Socket, 0, len(e.sockets))
	for _, s := range e.sockets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FD() < out[j].FD() })
	return out
}

// Multiplex waits up to timeout for readiness and dispatches every ready
// socket. A panicking callback kills only its socket. Sockets that die during
// dispatch are closed.
func (e *Engine) Multiplex(timeout time.Duration) error {
	var dead []Socket
	err := e.poller.Wait(timeout, func(fd int, r Readiness) {
		s, ok := e.sockets[fd]
		if !ok {
			return
		}
		e.dispatch(s, r)
		if s.Has(FlagDead) {
			dead = append(dead, s)
		}
	})
	for _, s := range dead {
		if cerr := s.Close(); cerr != nil {
			e.log.Warn("closing dead socket failed", api.LogFields{"fd": s.FD(), "error": cerr.Error()})
		}
	}
	return err
}

func (e *Engine) dispatch(s Socket, r Readiness) {
	switch {
	case r&Errored != 0:
		e.metrics.SocketEvent("error")
	case r&Readable != 0:
		e.metrics.SocketEvent("read")
	case r&Writable != 0:
		e.metrics.SocketEvent("write")
	}
	defer func() {
		if v := recover(); v != nil {
			s.SetFlag(FlagDead)
			e.metrics.SocketEvent("panic")
			e.log.Error("socket callback panicked", fmt.Errorf("socket: callback panic: %v", v), api.LogFields{
				"fd":    s.FD(),
				"stack": string(debug.Stack()),
			})
		}
	}()
	Dispatch(s, r)
}

// Dispatch runs the reactor state machine for one readiness report. Dead
// sockets are ignored; an error report kills the socket after MultiplexError;
// otherwise MultiplexEvent gates MultiplexRead and MultiplexWrite, and a
// false result from either kills the socket.
func Dispatch(s Socket, r Readiness) {
	if s.Has(FlagDead) {
		return
	}
	if r&Errored != 0 {
		err := sysSocketError(s.FD())
		if err == nil {
			err = errors.New("socket: error readiness")
		}
		s.MultiplexError(err)
		s.SetFlag(FlagDead)
		return
	}
	if !s.MultiplexEvent() {
		return
	}
	if r&Readable != 0 && !s.MultiplexRead() {
		s.SetFlag(FlagDead)
		return
	}
	if r&Writable != 0 && !s.Has(FlagDead) && !s.MultiplexWrite() {
		s.SetFlag(FlagDead)
	}
}

// Close closes every registered socket and the poller.
func (e *Engine) Close() error {
	var errs []error
	for _, s := range e.Sockets() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if !e.stub {
		if err := e.poller.Close(); err != nil {
			errs = append(errs, err)
		}
		e.poller, e.stub = stubPoller{}, true
	}
	return errors.Join(errs...)
}
