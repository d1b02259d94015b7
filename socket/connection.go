// File: socket/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"fmt"
)

// ConnectionSocket is an outbound stream socket.
type ConnectionSocket struct {
	conn
	ipv6 bool
}

// NewConnectionSocket creates a non-blocking socket of the given family and
// registers it with e.
func NewConnectionSocket(e *Engine, ipv6 bool, h Handler) (*ConnectionSocket, error) {
	fd, err := sysSocket(ipv6)
	if err != nil {
		return nil, fmt.Errorf("socket: create: %w", err)
	}
	s := &ConnectionSocket{ipv6: ipv6}
	if err := s.init(e, fd, s, h); err != nil {
		_ = sysClose(fd)
		return nil, err
	}
	return s, nil
}

// IPv6 reports the socket family.
func (s *ConnectionSocket) IPv6() bool { return s.ipv6 }

// Connect starts a non-blocking connect. Address and family errors are
// returned; connect failures go to the handler's OnError.
func (s *ConnectionSocket) Connect(address string, port int) error {
	if s.closed || s.flags.Has(FlagDead) {
		return ErrClosed
	}
	ap, ipv6, err := parseAddr(address, port)
	if err != nil {
		return err
	}
	if ipv6 != s.ipv6 {
		return fmt.Errorf("%w: %s", ErrFamily, address)
	}
	s.addr = ap

	err = sysConnect(s.fd, ap)
	switch {
	case err == nil:
		s.flags |= FlagConnected
		s.engine.metrics.SocketEvent("connect")
		s.handler.OnConnect(s)
	case isInProgress(err):
		s.flags |= FlagConnecting | FlagMXWritable
		if uerr := s.engine.UpdateSocket(s); uerr != nil {
			return uerr
		}
	default:
		s.flags |= FlagDead
		s.handler.OnError(s, fmt.Errorf("socket: connect %s: %w", ap, err))
	}
	return nil
}

// MultiplexEvent completes a pending connect. A connected socket passes the
// event on; a socket in any other state dies.
func (s *ConnectionSocket) MultiplexEvent() bool {
	switch {
	case s.flags.Has(FlagConnected):
		return true
	case s.flags.Has(FlagConnecting):
		s.flags &^= FlagConnecting
		if err := sysSocketError(s.fd); err != nil {
			s.flags |= FlagDead
			s.handler.OnError(s, fmt.Errorf("socket: connect %s: %w", s.addr, err))
			return false
		}
		s.flags |= FlagConnected
		s.engine.metrics.SocketEvent("connect")
		s.handler.OnConnect(s)
		return false
	default:
		s.flags |= FlagDead
		return false
	}
}
