// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "github.com/momentics/fluxd/api"

// Batch buffers jobs on the producer side until ThreadEngine.Submit moves
// them into the shared queue. A Batch belongs to one producer goroutine.
type Batch struct {
	jobs []api.Job
}

// Add buffers job. Nil jobs are ignored.
func (b *Batch) Add(job api.Job) {
	if job == nil {
		return
	}
	b.jobs = append(b.jobs, job)
}

// Len returns the number of buffered jobs.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.jobs)
}

func (b *Batch) reset() {
	clear(b.jobs)
	b.jobs = b.jobs[:0]
}
