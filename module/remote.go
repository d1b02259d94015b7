// File: module/remote.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package module

import (
	"fmt"
	"net/netip"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// RemoteLoader starts plugin executables as child processes speaking the
// go-plugin handshake. A crash in the child only fails the calls made to it.
type RemoteLoader struct {
	// Logger receives the child's log output; nil discards it.
	Logger hclog.Logger
	// StartTimeout bounds the handshake. Zero keeps the go-plugin default.
	StartTimeout time.Duration
}

// Open starts the executable at path and dispenses its Remote.
func (l *RemoteLoader) Open(path string) (Library, error) {
	logger := l.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          map[string]plugin.Plugin{pluginKey: &RemotePlugin{}},
		Cmd:              exec.Command(path),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger:           logger,
		StartTimeout:     l.StartTimeout,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("module: connect to plugin process: %w", err)
	}
	raw, err := rpcClient.Dispense(pluginKey)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("module: dispense plugin: %w", err)
	}
	remote, ok := raw.(Remote)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("module: plugin process served %T", raw)
	}
	lib, err := newRemoteLibrary(remote, client.Kill)
	if err != nil {
		client.Kill()
		return nil, err
	}
	return lib, nil
}

// WrapRemote exposes an already connected Remote as a Library. Closing the
// library does not end the connection.
func WrapRemote(r Remote) (Library, error) {
	return newRemoteLibrary(r, nil)
}

func newRemoteLibrary(r Remote, kill func()) (*remoteLibrary, error) {
	info, err := r.Describe()
	if err != nil {
		return nil, fmt.Errorf("module: describe plugin: %w", err)
	}
	return &remoteLibrary{remote: r, info: info, kill: kill}, nil
}

type remoteLibrary struct {
	remote Remote
	info   RemoteInfo
	kill   func()
}

func (l *remoteLibrary) Lookup(symbol string) (any, error) {
	switch symbol {
	case SymInitialization:
		return InitFunc(l.initialize), nil
	case SymTerminate:
		return TerminateFunc(func(Module) error { return l.remote.Terminate() }), nil
	case SymDependencies:
		if len(l.info.Dependencies) > 0 {
			return l.info.Dependencies, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSymbol, symbol)
}

func (l *remoteLibrary) initialize(host Host, name string) (Module, error) {
	if err := l.remote.Init(name); err != nil {
		return nil, err
	}
	m := &RemoteModule{remote: l.remote, handler: host.Modules()}
	m.SetType(ParseType(l.info.Type))
	m.SetAuthor(l.info.Author)
	m.SetVersion(l.info.Version)
	m.SetDescription(l.info.Description)
	m.SetPermanent(l.info.Permanent)
	return m, nil
}

// Close kills the plugin process.
func (l *remoteLibrary) Close() error {
	if l.kill != nil {
		l.kill()
	}
	return nil
}

// RemoteModule proxies core events to a plugin process. Call failures are
// reported as faults attributed to the plugin.
type RemoteModule struct {
	Base
	remote  Remote
	handler *Handler
}

func (m *RemoteModule) send(event, arg string) EventResult {
	r, err := m.remote.Event(EventArgs{Event: event, Arg: arg})
	if err != nil {
		if m.handler != nil {
			m.handler.fault(m, event, err)
		}
		return Continue
	}
	return r
}

func (m *RemoteModule) OnModuleLoad(other Module) { m.send(EventModuleLoad, other.Name()) }

func (m *RemoteModule) OnModuleUnload(other Module) { m.send(EventModuleUnload, other.Name()) }

func (m *RemoteModule) OnConfigReload() { m.send(EventConfigReload, "") }

func (m *RemoteModule) OnShutdown() { m.send(EventShutdown, "") }

func (m *RemoteModule) OnAcceptFilter(peer netip.AddrPort) EventResult {
	return m.send(EventAcceptFilter, peer.String())
}
