//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/fluxd/socket"
)

// epollPoller implements socket.Poller using level-triggered epoll.
type epollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

func newPlatformPoller(cfg Config) (socket.Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, cfg.MaxEvents),
	}, nil
}

func epollMask(in socket.Interest) uint32 {
	var m uint32
	if in&socket.InterestRead != 0 {
		m |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in&socket.InterestWrite != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

// Add registers fd with the given interest.
func (p *epollPoller) Add(fd int, in socket.Interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify replaces the interest of fd.
func (p *epollPoller) Modify(fd int, in socket.Interest) error {
	ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove drops fd from the watch list.
func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
			return nil
		}
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks up to timeout; a negative timeout blocks indefinitely.
func (p *epollPoller) Wait(timeout time.Duration, ready func(fd int, r socket.Readiness)) error {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil // interrupted by signal, normal
		}
		return fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		var r socket.Readiness
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			r |= socket.Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r |= socket.Writable
		}
		if ev.Events&unix.EPOLLERR != 0 {
			r |= socket.Errored
		}
		ready(int(ev.Fd), r)
	}
	return nil
}

// Close releases the epoll descriptor.
func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
