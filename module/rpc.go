// File: module/rpc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// net/rpc plumbing for out-of-process plugins served through hashicorp/go-plugin.

package module

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// pluginKey names the dispensed plugin on both sides of the handshake.
const pluginKey = "module"

// Handshake is shared by the daemon and remote plugin executables.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "FLUXD_PLUGIN",
	MagicCookieValue: "fluxd_module",
}

// RemoteInfo describes a remote plugin.
type RemoteInfo struct {
	Type         string
	Author       string
	Version      string
	Description  string
	Dependencies []string
	Permanent    bool
}

// EventArgs carries one core event to a remote plugin. Arg holds the
// affected plugin name or the peer address, depending on the event.
type EventArgs struct {
	Event string
	Arg   string
}

// Remote is implemented by plugin executables and proxied to the daemon.
type Remote interface {
	Describe() (RemoteInfo, error)
	Init(name string) error
	Event(args EventArgs) (EventResult, error)
	Terminate() error
}

// RemotePlugin is the go-plugin definition of Remote over net/rpc.
type RemotePlugin struct {
	Impl Remote
}

func (p *RemotePlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RemoteRPCServer{Impl: p.Impl}, nil
}

func (*RemotePlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RemoteRPC{client: c}, nil
}

// RemoteRPC is the daemon-side Remote.
type RemoteRPC struct {
	client *rpc.Client
}

func (r *RemoteRPC) Describe() (RemoteInfo, error) {
	var resp RemoteInfo
	err := r.client.Call("Plugin.Describe", new(interface{}), &resp)
	return resp, err
}

func (r *RemoteRPC) Init(name string) error {
	return r.client.Call("Plugin.Init", name, new(bool))
}

func (r *RemoteRPC) Event(args EventArgs) (EventResult, error) {
	var resp EventResult
	err := r.client.Call("Plugin.Event", args, &resp)
	return resp, err
}

func (r *RemoteRPC) Terminate() error {
	return r.client.Call("Plugin.Terminate", new(interface{}), new(bool))
}

// RemoteRPCServer is the plugin-side net/rpc receiver.
type RemoteRPCServer struct {
	Impl Remote
}

func (s *RemoteRPCServer) Describe(_ interface{}, resp *RemoteInfo) error {
	info, err := s.Impl.Describe()
	*resp = info
	return err
}

func (s *RemoteRPCServer) Init(name string, ok *bool) error {
	err := s.Impl.Init(name)
	*ok = err == nil
	return err
}

func (s *RemoteRPCServer) Event(args EventArgs, resp *EventResult) error {
	r, err := s.Impl.Event(args)
	*resp = r
	return err
}

func (s *RemoteRPCServer) Terminate(_ interface{}, ok *bool) error {
	err := s.Impl.Terminate()
	*ok = err == nil
	return err
}

// ServeModule runs a remote plugin executable until the daemon kills it.
func ServeModule(impl Remote) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			pluginKey: &RemotePlugin{Impl: impl},
		},
	})
}
