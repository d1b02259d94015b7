//go:build !unix

// File: socket/sys_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platforms without BSD descriptor sockets: every primitive fails.

package socket

import "net/netip"

func sysSocket(bool) (int, error) { return -1, ErrNotSupported }
func sysSetNonblock(int) error { return ErrNotSupported }
func sysSetReuseAddr(int) error { return ErrNotSupported }
func sysConnect(int, netip.AddrPort) error { return ErrNotSupported }
func sysBind(int, netip.AddrPort) error { return ErrNotSupported }
func sysListen(int) error { return ErrNotSupported }
func sysAccept(int) (int, netip.AddrPort, error) { return -1, netip.AddrPort{}, ErrNotSupported }
func sysSocketError(int) error { return ErrNotSupported }
func sysLocalAddr(int) netip.AddrPort { return netip.AddrPort{} }
func sysRead(int, []byte) (int, error) { return 0, ErrNotSupported }
func sysWrite(int, []byte) (int, error) { return 0, ErrNotSupported }
func sysClose(int) error { return ErrNotSupported }
func isWouldBlock(error) bool { return false }
func isInProgress(error) bool { return false }
func isTransientBind(error) bool { return false }
