// File: socket/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"fmt"
	"net/netip"
)

// ClientSocket is a connection accepted by a ListeningSocket.
type ClientSocket struct {
	conn
	listener *ListeningSocket // not owned
}

// NewClientSocket adopts an accepted descriptor, registers it with the
// listener's engine and flags it accepting. It is the default Factory.
func NewClientSocket(ls *ListeningSocket, fd int, peer netip.AddrPort, h Handler) (*ClientSocket, error) {
	c := &ClientSocket{listener: ls}
	c.addr = peer
	c.flags = FlagAccepting
	if err := c.init(ls.engine, fd, c, h); err != nil {
		return nil, fmt.Errorf("socket: adopt accepted fd %d: %w", fd, err)
	}
	return c, nil
}

// Listener returns the listening socket that accepted this client. The
// listener may have been closed since.
func (c *ClientSocket) Listener() *ListeningSocket { return c.listener }

// MultiplexEvent moves an accepting socket to accepted and invokes OnAccept
// exactly once. Accepted sockets pass the event on; any other state dies.
func (c *ClientSocket) MultiplexEvent() bool {
	switch {
	case c.flags.Has(FlagAccepted):
		return true
	case c.flags.Has(FlagAccepting):
		c.flags &^= FlagAccepting
		c.flags |= FlagAccepted
		c.engine.metrics.SocketEvent("accept")
		c.handler.OnAccept(c)
		return false
	default:
		c.flags |= FlagDead
		return false
	}
}
