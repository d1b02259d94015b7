// File: socket/listening.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/momentics/fluxd/api"
)

// DefaultBindAttempts bounds bind retries on transient errors.
const DefaultBindAttempts = 5

// maxAcceptsPerEvent caps accepts per read readiness so one busy listener
// cannot starve the rest of the loop.
const maxAcceptsPerEvent = 64

// Factory builds the socket for an accepted descriptor. On error the
// descriptor is closed by the listener.
type Factory func(ls *ListeningSocket, fd int, peer netip.AddrPort) (*ClientSocket, error)

// ListenConfig parameterizes NewListeningSocket.
type ListenConfig struct {
	// Address is a textual IPv4 or IPv6 address; empty means 0.0.0.0.
	Address string
	Port    int
	// Handler receives listener errors and, with the default factory, every
	// accepted client's callbacks.
	Handler Handler
	// Factory overrides client construction.
	Factory Factory
	// BindAttempts bounds retries of transient bind failures
	// (address in use, EAGAIN, EINTR). Zero selects DefaultBindAttempts.
	BindAttempts int
	// BindBackoff is the first retry delay. Zero selects 100ms.
	BindBackoff time.Duration
}

// ListeningSocket accepts inbound connections.
type ListeningSocket struct {
	conn
	factory  Factory
	accepted uint64
}

// NewListeningSocket binds with address reuse, listens and registers the
// socket. Permanent bind errors fail at once; transient ones are retried with
// exponential backoff up to cfg.BindAttempts or until ctx is done.
func NewListeningSocket(ctx context.Context, e *Engine, cfg ListenConfig) (*ListeningSocket, error) {
	address := cfg.Address
	if address == "" {
		address = "0.0.0.0"
	}
	ap, ipv6, err := parseAddr(address, cfg.Port)
	if err != nil {
		return nil, err
	}
	fd, err := sysSocket(ipv6)
	if err != nil {
		return nil, fmt.Errorf("socket: create: %w", err)
	}
	ls := &ListeningSocket{factory: cfg.Factory}
	ls.addr = ap
	if ls.factory == nil {
		h := cfg.Handler
		ls.factory = func(ls *ListeningSocket, fd int, peer netip.AddrPort) (*ClientSocket, error) {
			return NewClientSocket(ls, fd, peer, h)
		}
	}

	if err := sysSetReuseAddr(fd); err != nil {
		_ = sysClose(fd)
		return nil, fmt.Errorf("socket: SO_REUSEADDR: %w", err)
	}
	if err := bindWithRetry(ctx, e.log, fd, ap, cfg); err != nil {
		_ = sysClose(fd)
		return nil, err
	}
	if err := sysListen(fd); err != nil {
		_ = sysClose(fd)
		return nil, fmt.Errorf("socket: listen %s: %w", ap, err)
	}
	if ap.Port() == 0 {
		ls.addr = sysLocalAddr(fd)
	}
	if err := ls.init(e, fd, ls, cfg.Handler); err != nil {
		_ = sysClose(fd)
		return nil, err
	}
	// Listeners only wait for accept readiness.
	ls.flags &^= FlagMXWritable
	if err := e.UpdateSocket(ls); err != nil {
		_ = ls.Close()
		return nil, err
	}
	return ls, nil
}

func bindWithRetry(ctx context.Context, log api.Logger, fd int, ap netip.AddrPort, cfg ListenConfig) error {
	attempts := cfg.BindAttempts
	if attempts <= 0 {
		attempts = DefaultBindAttempts
	}
	policy := backoff.NewExponentialBackOff()
	if cfg.BindBackoff > 0 {
		policy.InitialInterval = cfg.BindBackoff
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := sysBind(fd, ap)
		if err != nil && !isTransientBind(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("bind failed, retrying", api.LogFields{"addr": ap.String(), "error": err.Error(), "retry_in": next.String()})
		}),
	)
	if err != nil {
		return fmt.Errorf("socket: bind %s: %w", ap, err)
	}
	return nil
}

// Accepted returns the number of connections accepted so far.
func (ls *ListeningSocket) Accepted() uint64 { return ls.accepted }

// MultiplexRead accepts pending connections and hands each to the factory.
func (ls *ListeningSocket) MultiplexRead() bool {
	for i := 0; i < maxAcceptsPerEvent; i++ {
		nfd, peer, err := sysAccept(ls.fd)
		if err != nil {
			if !isWouldBlock(err) {
				ls.handler.OnError(ls, fmt.Errorf("socket: accept on %s: %w", ls.addr, err))
			}
			return true
		}
		if !ls.engine.admit(peer) {
			_ = sysClose(nfd)
			continue
		}
		if _, err := ls.factory(ls, nfd, peer); err != nil {
			_ = sysClose(nfd)
			ls.handler.OnError(ls, err)
			continue
		}
		ls.accepted++
	}
	return true
}

// MultiplexWrite ignores write readiness.
func (ls *ListeningSocket) MultiplexWrite() bool { return true }
