// File: socket/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"errors"

	"github.com/momentics/fluxd/api"
)

var (
	// ErrAddress reports a textual address or port that cannot be parsed.
	ErrAddress = errors.New("socket: invalid address")
	// ErrFamily reports an address of the wrong family for the socket.
	ErrFamily = errors.New("socket: address family mismatch")
	// ErrClosed reports use of a dead or closed socket.
	ErrClosed = errors.New("socket: closed")
	// ErrRegistered reports a descriptor registered twice.
	ErrRegistered = errors.New("socket: descriptor already registered")
	// ErrNotSupported reports a platform without socket support.
	ErrNotSupported = api.ErrNotSupported
)
