// File: module/module.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package module loads, tracks and unloads daemon plugins.
//
// A plugin is any value embedding Base that its library's Initialization
// entry point returns. The Handler is the owning registry: it copies plugin
// files into a runtime directory, resolves declared dependencies, contains
// faults raised by plugin code and fans core events out to every plugin.
//
// Lifecycle operations and event dispatch run on the host loop goroutine.
// FindModule, Modules and the fault-attribution probes are safe from any
// goroutine.
package module

import (
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/socket"
	"github.com/momentics/fluxd/timer"
)

// Type classifies a plugin.
type Type int

const (
	TypeUndefined Type = iota
	TypeEncryption
	TypeProtocol
	TypeSocketEngine
	TypeDatabase
	TypeGeneric
)

var typeNames = [...]string{
	TypeUndefined:    "undefined",
	TypeEncryption:   "encryption",
	TypeProtocol:     "protocol",
	TypeSocketEngine: "socket-engine",
	TypeDatabase:     "database",
	TypeGeneric:      "generic",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return typeNames[TypeUndefined]
	}
	return typeNames[t]
}

// ParseType maps a type name back to its Type. Unknown names are undefined.
func ParseType(s string) Type {
	for i, n := range typeNames {
		if strings.EqualFold(n, s) {
			return Type(i)
		}
	}
	return TypeUndefined
}

// Host is the daemon surface handed to plugins at initialization.
type Host interface {
	Logger() api.Logger
	Config() api.ConfigLookup
	Executor() api.Executor
	Timers() *timer.Handler
	Sockets() *socket.Engine
	Modules() *Handler
}

// Module is a loaded plugin. Implementations embed Base.
type Module interface {
	Name() string
	moduleBase() *Base
}

// InitFunc is the Initialization entry point. name is the plugin's base name.
type InitFunc = func(host Host, name string) (Module, error)

// TerminateFunc is the optional Terminate entry point.
type TerminateFunc = func(m Module) error

// Base carries the identity and metadata every plugin shares. The Handler
// fills in identity fields when the plugin is registered; the plugin sets its
// own metadata, usually from its Initialization entry point.
type Base struct {
	name        string
	file        string
	runtimePath string
	id          ulid.ULID
	loadTime    time.Time
	deps        []string
	lib         Library

	typ         Type
	author      string
	version     string
	description string
	permanent   bool
}

func (b *Base) moduleBase() *Base { return b }

// Name returns the registry name (the file base name without extension).
func (b *Base) Name() string { return b.name }

// File returns the path the plugin was loaded from.
func (b *Base) File() string { return b.file }

// RuntimePath returns the runtime copy actually mapped, empty for compiled-in plugins.
func (b *Base) RuntimePath() string { return b.runtimePath }

// ID returns the load id assigned at registration.
func (b *Base) ID() ulid.ULID { return b.id }

// LoadTime returns when the plugin was registered.
func (b *Base) LoadTime() time.Time { return b.loadTime }

// Dependencies returns the declared dependency names.
func (b *Base) Dependencies() []string { return slices.Clone(b.deps) }

// DependsOn reports whether name is a declared dependency.
func (b *Base) DependsOn(name string) bool {
	for _, d := range b.deps {
		if strings.EqualFold(baseName(d), name) {
			return true
		}
	}
	return false
}

func (b *Base) Type() Type { return b.typ }

func (b *Base) SetType(t Type) { b.typ = t }

func (b *Base) Author() string { return b.author }

func (b *Base) SetAuthor(s string) { b.author = s }

func (b *Base) Version() string { return b.version }

func (b *Base) SetVersion(s string) { b.version = s }

func (b *Base) Description() string { return b.description }

func (b *Base) SetDescription(s string) { b.description = s }

// Permanent reports whether unload requests are refused.
func (b *Base) Permanent() bool { return b.permanent }

// SetPermanent marks the plugin as excluded from Unload. UnloadAll still
// removes it at daemon teardown.
func (b *Base) SetPermanent(v bool) { b.permanent = v }

// Info is a JSON-friendly description of a loaded plugin.
type Info struct {
	Name         string    `json:"name"`
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Author       string    `json:"author,omitempty"`
	Version      string    `json:"version,omitempty"`
	Description  string    `json:"description,omitempty"`
	File         string    `json:"file,omitempty"`
	RuntimePath  string    `json:"runtime_path,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Permanent    bool      `json:"permanent"`
	LoadTime     time.Time `json:"load_time"`
}

// Describe snapshots m's metadata.
func Describe(m Module) Info {
	b := m.moduleBase()
	return Info{
		Name:         b.name,
		ID:           b.id.String(),
		Type:         b.typ.String(),
		Author:       b.author,
		Version:      b.version,
		Description:  b.description,
		File:         b.file,
		RuntimePath:  b.runtimePath,
		Dependencies: b.Dependencies(),
		Permanent:    b.permanent,
		LoadTime:     b.loadTime,
	}
}
