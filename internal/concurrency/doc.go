// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread engine of the daemon core: a fixed pool of OS-thread-locked workers
// draining one shared FIFO job queue. Producers buffer jobs in a Batch and move
// them into the queue with Submit, blocking on the queue lock or giving up at
// once in the non-stalling form. Shutdown discards queued jobs, so delivery is
// at most once.
package concurrency
