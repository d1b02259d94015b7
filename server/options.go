// File: server/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/module"
	"github.com/momentics/fluxd/socket"
)

// Option customizes server construction.
type Option func(*Server)

// WithLogger replaces the logger built from Config.
func WithLogger(log api.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithLogOutput sets where the default logger and plugin processes write.
func WithLogOutput(w io.Writer) Option {
	return func(s *Server) { s.logOut = w }
}

// WithRegistry makes the server register its collectors on reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithStatic installs compiled-in plugins.
func WithStatic(static *module.StaticLoader) Option {
	return func(s *Server) { s.static = static }
}

// WithPoller installs a poller before any plugin loads.
func WithPoller(p socket.Poller) Option {
	return func(s *Server) { s.poller = p }
}

// WithLoaders overrides the native and remote plugin loaders. Nil keeps the default.
func WithLoaders(native, remote module.Loader) Option {
	return func(s *Server) {
		s.native = native
		s.remote = remote
	}
}
