// File: internal/concurrency/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/fluxd/affinity"
	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/control"
	"github.com/momentics/fluxd/internal/logging"
)

// EngineConfig parameterizes NewThreadEngine.
type EngineConfig struct {
	// Workers is the worker thread count; 0 derives it from the CPU count.
	Workers int
	// Pin binds each worker thread to one CPU.
	Pin     bool
	Logger  api.Logger
	Metrics *control.Metrics
}

// DefaultWorkers returns the automatic worker count: two per CPU, or two
// when the platform reports a single CPU.
func DefaultWorkers() int {
	return workersFor(runtime.NumCPU())
}

func workersFor(cpus int) int {
	if cpus <= 1 {
		return 2
	}
	return cpus * 2
}

// ThreadEngine runs jobs from one shared FIFO on a fixed set of worker threads.
type ThreadEngine struct {
	mu      sync.Mutex
	queue   *queue.Queue
	workers []*worker
	closed  atomic.Bool

	log     api.Logger
	metrics *control.Metrics

	submitted atomic.Int64
	executed  atomic.Int64
	discarded atomic.Int64
	deferred  atomic.Int64
}

// worker is one OS-thread-locked goroutine. wake is its condition variable:
// a buffered token set by Submit and Shutdown, so a wakeup sent between the
// queue check and the wait is never lost.
type worker struct {
	id       int
	engine   *ThreadEngine
	wake     chan struct{}
	done     chan struct{}
	quitting atomic.Bool
}

// NewThreadEngine starts the worker threads.
func NewThreadEngine(cfg EngineConfig) (*ThreadEngine, error) {
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, cfg.Workers)
	}
	n := cfg.Workers
	if n == 0 {
		n = DefaultWorkers()
	}
	e := &ThreadEngine{
		queue:   queue.New(),
		log:     logging.OrNop(cfg.Logger).With(api.LogFields{"component": "thread_engine"}),
		metrics: cfg.Metrics,
		workers: make([]*worker, n),
	}
	for i := range e.workers {
		w := &worker{
			id:     i,
			engine: e,
			wake:   make(chan struct{}, 1),
			done:   make(chan struct{}),
		}
		e.workers[i] = w
		go w.run(cfg.Pin)
	}
	e.log.Info("thread engine started", api.LogFields{"workers": n, "pinned": cfg.Pin})
	return e, nil
}

// NumWorkers returns the number of worker threads.
func (e *ThreadEngine) NumWorkers() int { return len(e.workers) }

// Submit moves every job buffered in b into the shared queue and wakes all
// workers. With noStall set it returns false instead of waiting when the
// queue lock is held elsewhere; b keeps its jobs in that case.
func (e *ThreadEngine) Submit(b *Batch, noStall bool) (bool, error) {
	if e.closed.Load() {
		return false, ErrEngineClosed
	}
	if b.Len() == 0 {
		return true, nil
	}
	if noStall {
		if !e.mu.TryLock() {
			e.deferred.Add(1)
			e.metrics.JobDeferred()
			return false, nil
		}
	} else {
		e.mu.Lock()
	}
	if e.closed.Load() {
		e.mu.Unlock()
		return false, ErrEngineClosed
	}
	n := len(b.jobs)
	for _, job := range b.jobs {
		e.queue.Add(job)
	}
	e.mu.Unlock()

	b.reset()
	e.submitted.Add(int64(n))
	e.metrics.JobsSubmitted(n)
	e.wakeAll()
	return true, nil
}

// Post queues a single job, blocking on the queue lock.
func (e *ThreadEngine) Post(job api.Job) error {
	var b Batch
	b.Add(job)
	_, err := e.Submit(&b, false)
	return err
}

// Pending returns the number of queued jobs.
func (e *ThreadEngine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Length()
}

// Stats returns a counter snapshot.
func (e *ThreadEngine) Stats() map[string]int64 {
	return map[string]int64{
		"workers":   int64(e.NumWorkers()),
		"pending":   int64(e.Pending()),
		"submitted": e.submitted.Load(),
		"executed":  e.executed.Load(),
		"discarded": e.discarded.Load(),
		"deferred":  e.deferred.Load(),
	}
}

// Shutdown marks every worker as quitting, wakes them and joins each in turn.
// Jobs still queued are discarded. Calling it again is a no-op.
func (e *ThreadEngine) Shutdown() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, w := range e.workers {
		w.quitting.Store(true)
	}
	e.wakeAll()
	for _, w := range e.workers {
		<-w.done
	}

	e.mu.Lock()
	left := e.queue.Length()
	for e.queue.Length() > 0 {
		e.queue.Remove()
	}
	e.mu.Unlock()

	if left > 0 {
		e.discarded.Add(int64(left))
		e.metrics.JobsDiscarded(left)
		e.log.Warn("jobs left in queue will not be processed", api.LogFields{"jobs": left})
	}
	e.log.Info("thread engine stopped", api.LogFields{"executed": e.executed.Load()})
	return nil
}

func (e *ThreadEngine) wakeAll() {
	for _, w := range e.workers {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (w *worker) run(pin bool) {
	defer close(w.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if pin {
		if err := affinity.SetAffinity(affinity.CPUFor(w.id)); err != nil {
			w.engine.log.Warn("worker pinning failed", api.LogFields{"worker": w.id, "error": err.Error()})
		}
	}

	e := w.engine
	for {
		e.mu.Lock()
		if w.quitting.Load() {
			e.mu.Unlock()
			return
		}
		if e.queue.Length() > 0 {
			job := e.queue.Remove().(api.Job)
			e.mu.Unlock()
			w.execute(job)
			continue
		}
		e.mu.Unlock()
		<-w.wake
	}
}

func (w *worker) execute(job api.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.engine.log.Warn("job panicked", api.LogFields{"worker": w.id, "panic": r})
		}
		w.engine.executed.Add(1)
		w.engine.metrics.JobExecuted()
	}()
	job()
}

var _ api.GracefulShutdown = (*ThreadEngine)(nil)
