// File: adapters/executor_adapter.go
// Package adapters provides glue between internal subsystems and the api contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ExecutorAdapter implements api.Executor over the internal thread engine so
// plugins can queue jobs without importing internal packages.

package adapters

import (
	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/internal/concurrency"
)

// ExecutorAdapter wraps a concurrency.ThreadEngine to satisfy api.Executor.
type ExecutorAdapter struct {
	engine *concurrency.ThreadEngine
}

// NewExecutorAdapter wraps an existing engine. The engine stays owned by the caller.
func NewExecutorAdapter(engine *concurrency.ThreadEngine) *ExecutorAdapter {
	return &ExecutorAdapter{engine: engine}
}

// Submit queues task, blocking on the queue lock.
func (ea *ExecutorAdapter) Submit(task func()) error {
	return ea.engine.Post(task)
}

// TrySubmit queues every task in one batch if the queue lock is free.
func (ea *ExecutorAdapter) TrySubmit(tasks ...func()) (bool, error) {
	var b concurrency.Batch
	for _, task := range tasks {
		b.Add(task)
	}
	return ea.engine.Submit(&b, true)
}

// NumWorkers returns the number of worker threads.
func (ea *ExecutorAdapter) NumWorkers() int {
	return ea.engine.NumWorkers()
}

var _ api.Executor = (*ExecutorAdapter)(nil)
