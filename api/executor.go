// Package api
// Author: momentics
//
// Executor contract handed to plugins for deferred work.

package api

// Job is an opaque unit of work run once on a worker thread.
type Job func()

// Executor accepts jobs for the worker pool.
type Executor interface {
	// Submit queues task, blocking on the queue lock if needed.
	Submit(task func()) error

	// TrySubmit queues every task only if the queue lock is free right now.
	// A false result means nothing was queued and the caller may retry later.
	TrySubmit(tasks ...func()) (bool, error)

	// NumWorkers returns the number of worker threads.
	NumWorkers() int
}
