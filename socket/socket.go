// File: socket/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package socket implements the non-blocking socket state machines of the
// reactor and the Engine that registers them with a pluggable Poller.
//
// Sockets and the Engine are owned by the host loop goroutine. Worker
// goroutines must hand socket work back to that loop.
package socket

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/momentics/fluxd/api"
)

// Socket is a descriptor registered with an Engine. The variants are
// *ConnectionSocket, *ListeningSocket and *ClientSocket; custom sockets embed
// one of them.
type Socket interface {
	FD() int
	Flags() Flag
	Has(f Flag) bool
	SetFlag(f Flag)
	ClearFlag(f Flag)
	Addr() netip.AddrPort
	Close() error

	// MultiplexEvent runs the state transition check for any readiness.
	// False means the event was consumed or the socket died.
	MultiplexEvent() bool
	// MultiplexRead handles read readiness. False marks the socket dead.
	MultiplexRead() bool
	// MultiplexWrite handles write readiness. False marks the socket dead.
	MultiplexWrite() bool
	// MultiplexError handles an error readiness before the socket dies.
	MultiplexError(err error)

	base() *conn
}

// Handler receives socket callbacks on the host loop goroutine.
type Handler interface {
	OnConnect(s Socket)
	OnAccept(c *ClientSocket)
	OnData(s Socket, p []byte)
	OnError(s Socket, err error)
}

// NopHandler ignores every callback. Embed it to implement a subset.
type NopHandler struct{}

func (NopHandler) OnConnect(Socket) {}
func (NopHandler) OnAccept(*ClientSocket) {}
func (NopHandler) OnData(Socket, []byte) {}
func (NopHandler) OnError(Socket, error) {}

// conn is the state shared by every variant.
type conn struct {
	fd      int
	addr    netip.AddrPort
	flags   Flag
	engine  *Engine
	handler Handler
	self    Socket
	wbuf    []byte
	closed  bool
}

func (c *conn) init(e *Engine, fd int, self Socket, h Handler) error {
	if h == nil {
		h = NopHandler{}
	}
	c.fd = fd
	c.engine = e
	c.self = self
	c.handler = h
	if err := sysSetNonblock(fd); err != nil {
		return fmt.Errorf("socket: set nonblocking: %w", err)
	}
	c.flags |= FlagMXReadable | FlagMXWritable
	return e.AddSocket(self)
}

func (c *conn) base() *conn { return c }

// FD returns the descriptor.
func (c *conn) FD() int { return c.fd }

// Flags returns the status bits.
func (c *conn) Flags() Flag { return c.flags }

// Has reports whether every bit of f is set.
func (c *conn) Has(f Flag) bool { return c.flags.Has(f) }

// SetFlag sets status bits. Use Engine.UpdateSocket after changing MX bits.
func (c *conn) SetFlag(f Flag) { c.flags |= f }

// ClearFlag clears status bits.
func (c *conn) ClearFlag(f Flag) { c.flags &^= f }

// Addr returns the cached peer or bind address.
func (c *conn) Addr() netip.AddrPort { return c.addr }

// Handler returns the callback receiver.
func (c *conn) Handler() Handler { return c.handler }

// Close deregisters the socket and closes the descriptor.
func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.flags |= FlagDead
	c.wbuf = nil
	rmErr := c.engine.RemoveSocket(c.self)
	if err := sysClose(c.fd); err != nil {
		return fmt.Errorf("socket: close fd %d: %w", c.fd, err)
	}
	return rmErr
}

// Read reads directly from the descriptor.
func (c *conn) Read(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return sysRead(c.fd, p)
}

// Write writes p, buffering what the descriptor does not take and
// requesting write readiness until the buffer drains.
func (c *conn) Write(p []byte) (int, error) {
	if c.closed || c.flags.Has(FlagDead) {
		return 0, ErrClosed
	}
	total := len(p)
	if len(c.wbuf) == 0 && !c.flags.Has(FlagConnecting) {
		n, err := sysWrite(c.fd, p)
		if err != nil && !isWouldBlock(err) {
			return n, fmt.Errorf("socket: write: %w", err)
		}
		p = p[n:]
		if len(p) == 0 {
			return total, nil
		}
	}
	c.wbuf = append(c.wbuf, p...)
	if !c.flags.Has(FlagWritable | FlagMXWritable) {
		c.flags |= FlagWritable | FlagMXWritable
		if err := c.engine.UpdateSocket(c.self); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Pending returns the number of buffered outbound bytes.
func (c *conn) Pending() int { return len(c.wbuf) }

// MultiplexEvent accepts every event in the base state.
func (c *conn) MultiplexEvent() bool { return true }

// MultiplexRead reads one chunk into a pooled buffer and delivers it.
func (c *conn) MultiplexRead() bool {
	buf := c.engine.buffers.GetBuffer()
	defer c.engine.buffers.PutBuffer(buf)

	n, err := sysRead(c.fd, buf)
	switch {
	case n > 0:
		c.handler.OnData(c.self, buf[:n])
		return true
	case err == nil:
		return false // orderly shutdown by the peer
	case isWouldBlock(err):
		return true
	default:
		c.handler.OnError(c.self, fmt.Errorf("socket: read: %w", err))
		return false
	}
}

// MultiplexWrite flushes buffered data and drops write interest once drained.
func (c *conn) MultiplexWrite() bool {
	for len(c.wbuf) > 0 {
		n, err := sysWrite(c.fd, c.wbuf)
		if err != nil {
			if isWouldBlock(err) {
				return true
			}
			c.handler.OnError(c.self, fmt.Errorf("socket: write: %w", err))
			return false
		}
		c.wbuf = c.wbuf[n:]
	}
	c.wbuf = nil
	if c.flags&(FlagWritable|FlagMXWritable) != 0 {
		c.flags &^= FlagWritable | FlagMXWritable
		if err := c.engine.UpdateSocket(c.self); err != nil {
			c.engine.log.Warn("socket interest update failed", api.LogFields{"fd": c.fd, "error": err.Error()})
		}
	}
	return true
}

// MultiplexError reports err to the handler.
func (c *conn) MultiplexError(err error) {
	c.handler.OnError(c.self, err)
}

// parseAddr infers the family from the presence of a colon.
func parseAddr(address string, port int) (netip.AddrPort, bool, error) {
	ipv6 := strings.Contains(address, ":")
	if port < 0 || port > 0xffff {
		return netip.AddrPort{}, ipv6, fmt.Errorf("%w: port %d", ErrAddress, port)
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.AddrPort{}, ipv6, fmt.Errorf("%w: %q: %v", ErrAddress, address, err)
	}
	if addr.Is4() == ipv6 {
		return netip.AddrPort{}, ipv6, fmt.Errorf("%w: %q", ErrAddress, address)
	}
	return netip.AddrPortFrom(addr, uint16(port)), ipv6, nil
}
