// File: socket/flags.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import "strings"

// Flag is a socket status bit.
type Flag uint16

const (
	// FlagDead marks a socket that must not be dispatched again.
	FlagDead Flag = 1 << iota
	// FlagWritable marks buffered outbound data waiting for the descriptor.
	FlagWritable
	FlagConnecting
	FlagConnected
	FlagAccepting
	FlagAccepted
	// FlagMXReadable requests read readiness from the multiplexer.
	FlagMXReadable
	// FlagMXWritable requests write readiness from the multiplexer.
	FlagMXWritable
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{FlagDead, "dead"},
	{FlagWritable, "writable"},
	{FlagConnecting, "connecting"},
	{FlagConnected, "connected"},
	{FlagAccepting, "accepting"},
	{FlagAccepted, "accepted"},
	{FlagMXReadable, "mx_readable"},
	{FlagMXWritable, "mx_writable"},
}

// Has reports whether every bit of f is set.
func (s Flag) Has(f Flag) bool { return s&f == f }

func (s Flag) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if s&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Interest is the readiness set requested from a Poller.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Readiness is the readiness set reported by a Poller.
type Readiness uint8

const (
	Readable Readiness = 1 << iota
	Writable
	Errored
)

func interestOf(f Flag) Interest {
	var i Interest
	if f&FlagMXReadable != 0 {
		i |= InterestRead
	}
	if f&FlagMXWritable != 0 {
		i |= InterestWrite
	}
	return i
}
