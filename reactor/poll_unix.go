//go:build unix && !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - portable poll(2) implementation for non-Linux Unix systems.

package reactor

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/fluxd/socket"
)

// pollPoller keeps the interest set in a map and rebuilds the pollfd array
// on each Wait.
type pollPoller struct {
	interest map[int]socket.Interest
	fds      []unix.PollFd
	max      int
}

func newPlatformPoller(cfg Config) (socket.Poller, error) {
	return &pollPoller{interest: make(map[int]socket.Interest), max: cfg.MaxEvents}, nil
}

func (p *pollPoller) Add(fd int, in socket.Interest) error {
	if _, ok := p.interest[fd]; ok {
		return fmt.Errorf("poll add: fd %d already registered", fd)
	}
	p.interest[fd] = in
	return nil
}

func (p *pollPoller) Modify(fd int, in socket.Interest) error {
	if _, ok := p.interest[fd]; !ok {
		return fmt.Errorf("poll mod: fd %d not registered", fd)
	}
	p.interest[fd] = in
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	delete(p.interest, fd)
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration, ready func(fd int, r socket.Readiness)) error {
	p.fds = p.fds[:0]
	for fd, in := range p.interest {
		var ev int16
		if in&socket.InterestRead != 0 {
			ev |= unix.POLLIN
		}
		if in&socket.InterestWrite != 0 {
			ev |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}
	sort.Slice(p.fds, func(i, j int) bool { return p.fds[i].Fd < p.fds[j].Fd })

	if len(p.fds) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil
	}
	n, err := unix.Poll(p.fds, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("poll: %w", err)
	}
	delivered := 0
	for _, pfd := range p.fds {
		if n == 0 || delivered == p.max {
			break
		}
		if pfd.Revents == 0 {
			continue
		}
		n--
		delivered++
		var r socket.Readiness
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			r |= socket.Readable
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			r |= socket.Writable
		}
		if pfd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			r |= socket.Errored
		}
		ready(int(pfd.Fd), r)
	}
	return nil
}

func (p *pollPoller) Close() error {
	clear(p.interest)
	return nil
}
