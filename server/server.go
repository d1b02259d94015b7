// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package server assembles the daemon host: configuration, metrics, the thread
// engine, timers, the socket multiplexer and the plugin registry, all driven
// by one host loop goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/fluxd/adapters"
	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/control"
	"github.com/momentics/fluxd/internal/concurrency"
	"github.com/momentics/fluxd/internal/logging"
	"github.com/momentics/fluxd/module"
	"github.com/momentics/fluxd/socket"
	"github.com/momentics/fluxd/timer"
)

var (
	// ErrRunning is returned by Run when the host loop is already active.
	ErrRunning = errors.New("server: host loop already running")
	// ErrClosed is returned by Do once Shutdown has started.
	ErrClosed = errors.New("server: shutting down")
)

// taskQueueSize bounds Do requests waiting for the host loop.
const taskQueueSize = 64

type task struct {
	fn   func() error
	done chan error
}

// Server is the daemon host. It implements module.Host.
type Server struct {
	cfg    Config
	log    api.Logger
	logOut io.Writer

	registry *prometheus.Registry
	static   *module.StaticLoader
	native   module.Loader
	remote   module.Loader
	poller   socket.Poller

	store    *control.ConfigStore
	probes   *control.DebugProbes
	metrics  *control.Metrics
	engine   *concurrency.ThreadEngine
	executor *adapters.ExecutorAdapter
	control  *adapters.ControlAdapter
	timers   *timer.Handler
	sockets  *socket.Engine
	modules  *module.Handler

	admin     *http.Server
	adminAddr net.Addr

	// mu is held by every piece of host work: a loop iteration, a Do
	// running off the loop and plugin teardown in Shutdown.
	mu            sync.Mutex
	tasks         chan task
	reloadPending atomic.Bool
	running       atomic.Bool
	closing       atomic.Bool
	iterations    atomic.Uint64
	started       time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds every subsystem from cfg. Nothing is loaded and no goroutine but
// the thread engine workers runs until Start.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		logOut: os.Stderr,
		tasks:  make(chan task, taskQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.New(s.logOut, cfg.LogLevel, cfg.LogFormat)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	s.store = control.NewConfigStore()
	s.store.Seed(cfg.Settings)
	s.probes = control.NewDebugProbes()
	control.RegisterPlatformProbes(s.probes)
	s.metrics = control.NewMetrics(s.registry)
	if err := s.metrics.Register(); err != nil {
		return nil, fmt.Errorf("server: register metrics: %w", err)
	}

	engine, err := concurrency.NewThreadEngine(concurrency.EngineConfig{
		Workers: cfg.Workers,
		Pin:     cfg.PinWorkers,
		Logger:  s.log,
		Metrics: s.metrics,
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.executor = adapters.NewExecutorAdapter(engine)

	s.timers = timer.NewHandler(
		timer.WithLogger(s.log.With(api.LogFields{"component": "timers"})),
		timer.WithMetrics(s.metrics),
	)
	s.sockets = socket.NewEngine(
		socket.WithLogger(s.log.With(api.LogFields{"component": "sockets"})),
		socket.WithMetrics(s.metrics),
	)

	remote := s.remote
	if remote == nil {
		remote = &module.RemoteLoader{Logger: logging.NewPluginLogger(s.logOut, cfg.LogLevel)}
	}
	s.modules = module.NewHandler(s, module.Options{
		ModulesDir: cfg.ModulesDir,
		RuntimeDir: cfg.RuntimeDir,
		Static:     s.static,
		Native:     s.native,
		Remote:     remote,
		Logger:     s.log,
		Metrics:    s.metrics,
		Probes:     s.probes,
	})
	s.sockets.SetAcceptFilter(func(peer netip.AddrPort) bool {
		return module.FilterAccept(s.modules, peer)
	})
	if s.poller != nil {
		if err := s.sockets.SetPoller(s.poller); err != nil {
			_ = engine.Shutdown()
			return nil, err
		}
	}

	s.control = adapters.NewControlAdapter(s.store, s.probes)
	s.control.AddStats("jobs", engine.Stats)
	s.control.AddStats("timers", func() map[string]int64 {
		return map[string]int64{"active": int64(s.timers.Len())}
	})
	s.control.AddStats("sockets", func() map[string]int64 {
		poller := int64(0)
		if s.sockets.HasPoller() {
			poller = 1
		}
		return map[string]int64{"registered": int64(s.sockets.Len()), "poller": poller}
	})
	s.control.AddStats("modules", func() map[string]int64 {
		return map[string]int64{"loaded": int64(s.modules.Len()), "faults": s.modules.Faults()}
	})
	s.control.AddStats("loop", func() map[string]int64 {
		return map[string]int64{"iterations": int64(s.iterations.Load())}
	})
	s.control.OnReload(func() { s.reloadPending.Store(true) })
	return s, nil
}

// Logger returns the host logger.
func (s *Server) Logger() api.Logger { return s.log }

// Config returns the configuration store plugins read settings from.
func (s *Server) Config() api.ConfigLookup { return s.store }

// Executor returns the thread engine seen through api.Executor.
func (s *Server) Executor() api.Executor { return s.executor }

// Timers returns the host timer registry.
func (s *Server) Timers() *timer.Handler { return s.timers }

// Sockets returns the socket multiplexer.
func (s *Server) Sockets() *socket.Engine { return s.sockets }

// Modules returns the plugin registry.
func (s *Server) Modules() *module.Handler { return s.modules }

// Control returns the runtime control surface.
func (s *Server) Control() api.Control { return s.control }

// Registry returns the Prometheus registry holding the host collectors.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// AdminAddr returns the bound admin address, or nil when the admin surface is off.
func (s *Server) AdminAddr() net.Addr { return s.adminAddr }

// Start prepares the runtime directory, loads every plugin in the modules
// directory followed by the autoload list and starts the admin surface.
// Plugin load failures are logged and do not stop the daemon.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.modules.SanitizeRuntime(); err != nil {
		return err
	}
	if err := s.modules.LoadModules(); err != nil {
		s.log.Warn("some plugins failed to load", api.LogFields{"dir": s.cfg.ModulesDir, "error": err.Error()})
	}
	for _, path := range s.cfg.Autoload {
		if _, err := s.modules.LoadModule(path); err != nil && !errors.Is(err, api.ErrExists) {
			s.log.Warn("autoload failed", api.LogFields{"path": path, "error": err.Error()})
		}
	}
	if s.cfg.AdminAddr != "" {
		if err := s.startAdmin(ctx); err != nil {
			return err
		}
	}
	s.started = time.Now()
	s.log.Info("daemon started", api.LogFields{
		"modules":      s.modules.Len(),
		"compiled_in":  s.static.Names(),
		"workers":      s.engine.NumWorkers(),
		"poll_timeout": s.cfg.PollTimeout.String(),
	})
	return nil
}

func (s *Server) startAdmin(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.AdminAddr)
	if err != nil {
		return fmt.Errorf("server: admin listen %s: %w", s.cfg.AdminAddr, err)
	}
	s.adminAddr = ln.Addr()
	s.admin = &http.Server{
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
	go func() {
		s.log.Info("admin listening", api.LogFields{"addr": s.adminAddr.String()})
		if err := s.admin.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server failed", err, nil)
		}
	}()
	return nil
}

// Running reports whether Run is driving the host loop.
func (s *Server) Running() bool { return s.running.Load() }

// Run drives the host loop until ctx is done. Only one Run may be active.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer func() {
		s.mu.Lock()
		s.running.Store(false)
		s.drainTasks()
		s.mu.Unlock()
	}()
	for ctx.Err() == nil {
		s.Step()
	}
	s.log.Info("host loop stopped", api.LogFields{"iterations": s.iterations.Load()})
	return nil
}

// Step runs one host loop iteration: wait for socket readiness, fire due
// timers, deliver a pending configuration reload and run queued Do requests.
func (s *Server) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sockets.Multiplex(s.cfg.PollTimeout); err != nil {
		s.log.Warn("multiplex failed", api.LogFields{"error": err.Error()})
		time.Sleep(s.cfg.PollTimeout)
	}
	s.timers.TickTimers()
	if s.reloadPending.CompareAndSwap(true, false) {
		module.FireConfigReload(s.modules)
	}
	s.drainTasks()
	s.iterations.Add(1)
}

// Do runs fn on the host loop and returns its error. When the loop is not
// running fn runs on the caller, still serialized with all other host work.
// Do fails with ErrClosed once Shutdown has started. Do must not be called
// from the host loop.
func (s *Server) Do(ctx context.Context, fn func() error) error {
	if s.closing.Load() {
		return ErrClosed
	}
	if !s.running.Load() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closing.Load() {
			return ErrClosed
		}
		return s.runTask(fn)
	}
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case s.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !s.running.Load() {
		// The loop stopped and may have drained before t was queued.
		s.mu.Lock()
		s.drainTasks()
		s.mu.Unlock()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) drainTasks() {
	for {
		select {
		case t := <-s.tasks:
			t.done <- s.runTask(t.fn)
		default:
			return
		}
	}
}

func (s *Server) runTask(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("server: task panicked: %v", r)
			s.log.Error("host task panicked", err, nil)
		}
	}()
	return fn()
}

// Shutdown closes the admin surface, notifies plugins, unloads them, stops
// the workers and closes every socket. Call it after Run returns. Later calls
// return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.closing.Store(true)
		var errs []error
		if s.admin != nil {
			sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
			if err := s.admin.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("server: admin shutdown: %w", err))
			}
			cancel()
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.log.Info("daemon shutting down", api.LogFields{"modules": s.modules.Len()})
		module.FireShutdown(s.modules)
		if err := s.modules.UnloadAll(); err != nil {
			errs = append(errs, err)
		}
		if err := s.engine.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		if err := s.sockets.Close(); err != nil {
			errs = append(errs, err)
		}
		s.shutdownErr = errors.Join(errs...)
		s.log.Info("daemon stopped", api.LogFields{"uptime": time.Since(s.started).String()})
	})
	return s.shutdownErr
}
