// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/fluxd/socket"
)

// Poller is a scripted socket.Poller. Tests queue readiness with Ready and
// the next Wait delivers it.
type Poller struct {
	mu       sync.Mutex
	interest map[int]socket.Interest
	pending  []readyEvent
	waits    int
	closed   bool
}

type readyEvent struct {
	fd int
	r  socket.Readiness
}

// NewPoller creates an empty scripted poller.
func NewPoller() *Poller {
	return &Poller{interest: make(map[int]socket.Interest)}
}

func (p *Poller) Add(fd int, in socket.Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.interest[fd]; ok {
		return fmt.Errorf("fake poller: fd %d already added", fd)
	}
	p.interest[fd] = in
	return nil
}

func (p *Poller) Modify(fd int, in socket.Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.interest[fd]; !ok {
		return fmt.Errorf("fake poller: fd %d not added", fd)
	}
	p.interest[fd] = in
	return nil
}

func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.interest, fd)
	return nil
}

// Wait delivers every queued readiness event and ignores the timeout.
func (p *Poller) Wait(_ time.Duration, ready func(fd int, r socket.Readiness)) error {
	p.mu.Lock()
	events := p.pending
	p.pending = nil
	p.waits++
	p.mu.Unlock()
	for _, ev := range events {
		ready(ev.fd, ev.r)
	}
	return nil
}

func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Ready queues a readiness event for the next Wait.
func (p *Poller) Ready(fd int, r socket.Readiness) {
	p.mu.Lock()
	p.pending = append(p.pending, readyEvent{fd: fd, r: r})
	p.mu.Unlock()
}

// Interest returns the current interest for fd and whether fd is registered.
func (p *Poller) Interest(fd int) (socket.Interest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.interest[fd]
	return in, ok
}

// Registered returns the number of registered descriptors.
func (p *Poller) Registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.interest)
}

// Waits returns how many times Wait ran.
func (p *Poller) Waits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

// Closed reports whether Close ran.
func (p *Poller) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
