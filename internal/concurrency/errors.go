// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrEngineClosed indicates the thread engine has been shut down.
	ErrEngineClosed = errors.New("concurrency: thread engine is closed")

	// ErrInvalidWorkerCount indicates a negative worker count.
	ErrInvalidWorkerCount = errors.New("concurrency: invalid worker count")
)
