// File: module/loader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package module

import (
	"errors"
	"fmt"
	"path/filepath"
	"plugin"
	"slices"
	"strings"
	"sync"
)

// Entry point symbol names.
const (
	SymInitialization = "Initialization"
	SymTerminate      = "Terminate"
	SymDependencies   = "Dependencies"
)

// ErrSymbol reports a symbol the library does not export.
var ErrSymbol = errors.New("module: symbol not found")

// Library is a mapped plugin binary.
type Library interface {
	// Lookup resolves an exported symbol.
	Lookup(symbol string) (any, error)
	// Close releases the library.
	Close() error
}

// Loader maps plugin binaries.
type Loader interface {
	Open(path string) (Library, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (Library, error)

func (f LoaderFunc) Open(path string) (Library, error) { return f(path) }

// StaticLibrary is a plugin compiled into the daemon binary.
type StaticLibrary struct {
	Init         InitFunc
	Terminate    TerminateFunc
	Dependencies []string
}

// Lookup resolves the entry points the library was registered with.
func (l *StaticLibrary) Lookup(symbol string) (any, error) {
	switch symbol {
	case SymInitialization:
		if l.Init != nil {
			return l.Init, nil
		}
	case SymTerminate:
		if l.Terminate != nil {
			return l.Terminate, nil
		}
	case SymDependencies:
		if l.Dependencies != nil {
			return slices.Clone(l.Dependencies), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSymbol, symbol)
}

// Close is a no-op.
func (l *StaticLibrary) Close() error { return nil }

// StaticLoader is the registry of compiled-in plugins, keyed by
// case-insensitive base name. The Handler consults it before the filesystem.
type StaticLoader struct {
	mu   sync.RWMutex
	libs map[string]*StaticLibrary
}

// NewStaticLoader creates an empty registry.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{libs: make(map[string]*StaticLibrary)}
}

// Register adds or replaces a compiled-in plugin.
func (s *StaticLoader) Register(name string, lib *StaticLibrary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libs[strings.ToLower(name)] = lib
}

// Names returns the registered names in order.
func (s *StaticLoader) Names() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.libs))
	for n := range s.libs {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (s *StaticLoader) lookup(name string) (*StaticLibrary, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	lib, ok := s.libs[strings.ToLower(name)]
	return lib, ok
}

// Open resolves path by its base name.
func (s *StaticLoader) Open(path string) (Library, error) {
	lib, ok := s.lookup(baseName(path))
	if !ok {
		return nil, fmt.Errorf("module: no compiled-in plugin %q", baseName(path))
	}
	return lib, nil
}

// NativeLoader maps Go plugins built with -buildmode=plugin.
//
// The Go runtime never unmaps a plugin, so Close only drops the handle and a
// plugin package can be opened once per process.
type NativeLoader struct{}

type nativeLibrary struct {
	p *plugin.Plugin
}

// Open maps the shared object at path.
func (NativeLoader) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &nativeLibrary{p: p}, nil
}

func (l *nativeLibrary) Lookup(symbol string) (any, error) {
	sym, err := l.p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSymbol, symbol)
	}
	return sym, nil
}

func (l *nativeLibrary) Close() error {
	l.p = nil
	return nil
}

// lookupInit resolves the Initialization entry point. Native plugins export
// it as a function; compiled-in and remote libraries return InitFunc values.
func lookupInit(lib Library) (InitFunc, error) {
	sym, err := lib.Lookup(SymInitialization)
	if err != nil {
		return nil, err
	}
	switch fn := sym.(type) {
	case InitFunc:
		return fn, nil
	case *InitFunc:
		return *fn, nil
	default:
		return nil, fmt.Errorf("module: %s has type %T", SymInitialization, sym)
	}
}

// lookupTerminate resolves the optional Terminate entry point.
func lookupTerminate(lib Library) (TerminateFunc, bool) {
	sym, err := lib.Lookup(SymTerminate)
	if err != nil {
		return nil, false
	}
	switch fn := sym.(type) {
	case TerminateFunc:
		return fn, true
	case func(Module):
		return func(m Module) error { fn(m); return nil }, true
	case *TerminateFunc:
		return *fn, true
	default:
		return nil, false
	}
}

// lookupDependencies resolves the optional dependency list.
func lookupDependencies(lib Library) []string {
	sym, err := lib.Lookup(SymDependencies)
	if err != nil {
		return nil
	}
	switch v := sym.(type) {
	case []string:
		return v
	case *[]string:
		return slices.Clone(*v)
	case func() []string:
		return v()
	default:
		return nil
	}
}

// baseName strips directory and extension.
func baseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
