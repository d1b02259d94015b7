// File: module/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package module

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/control"
	"github.com/momentics/fluxd/internal/logging"
)

// Default directories, relative to the daemon's working directory.
const (
	DefaultModulesDir = "modules"
	DefaultRuntimeDir = "runtime"
)

// Options configures a Handler.
type Options struct {
	// ModulesDir is where dependencies and LoadModules look for plugins.
	ModulesDir string
	// RuntimeDir receives the private copies plugins are mapped from.
	RuntimeDir string
	// Static holds compiled-in plugins, consulted before the filesystem.
	Static *StaticLoader
	// Native maps .so files. Nil selects NativeLoader.
	Native Loader
	// Remote starts plugin executables. Nil selects a RemoteLoader.
	Remote  Loader
	Logger  api.Logger
	Metrics *control.Metrics
	Probes  *control.DebugProbes
}

// Handler is the plugin registry and loader.
type Handler struct {
	host       Host
	modulesDir string
	runtimeDir string
	static     *StaticLoader
	native     Loader
	remote     Loader
	log        api.Logger
	metrics    *control.Metrics

	mu      sync.RWMutex
	modules []Module

	loading  map[string]bool
	calls    int
	lastRun  atomic.Pointer[string]
	location atomic.Pointer[string]
	faults   atomic.Int64
}

// NewHandler creates an empty registry. host is handed to every plugin's
// Initialization entry point.
func NewHandler(host Host, opts Options) *Handler {
	h := &Handler{
		host:       host,
		modulesDir: opts.ModulesDir,
		runtimeDir: opts.RuntimeDir,
		static:     opts.Static,
		native:     opts.Native,
		remote:     opts.Remote,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		loading:    make(map[string]bool),
	}
	if h.modulesDir == "" {
		h.modulesDir = DefaultModulesDir
	}
	if h.runtimeDir == "" {
		h.runtimeDir = DefaultRuntimeDir
	}
	if h.native == nil {
		h.native = NativeLoader{}
	}
	if h.remote == nil {
		h.remote = &RemoteLoader{}
	}
	h.log = logging.OrNop(h.log).With(api.LogFields{"component": "module_handler"})

	opts.Probes.RegisterProbe("module.last_run", func() any { return h.LastRunModule() })
	opts.Probes.RegisterProbe("module.location", func() any { return h.Location() })
	opts.Probes.RegisterProbe("module.faults", func() any { return h.Faults() })
	opts.Probes.RegisterProbe("module.loaded", func() any {
		mods := h.Modules()
		names := make([]string, len(mods))
		for i, m := range mods {
			names[i] = m.Name()
		}
		return names
	})
	return h
}

// ModulesDir returns the dependency search directory.
func (h *Handler) ModulesDir() string { return h.modulesDir }

// RuntimeDir returns the runtime copy directory.
func (h *Handler) RuntimeDir() string { return h.runtimeDir }

// FindModule returns the loaded plugin with the case-insensitively equal
// name, or nil.
func (h *Handler) FindModule(name string) Module {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.find(name)
}

func (h *Handler) find(name string) Module {
	for _, m := range h.modules {
		if strings.EqualFold(m.Name(), name) {
			return m
		}
	}
	return nil
}

// Modules returns a snapshot of the registry in load order.
func (h *Handler) Modules() []Module {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.modules)
}

// Len returns the number of loaded plugins.
func (h *Handler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.modules)
}

func (h *Handler) loaded(m Module) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Contains(h.modules, m)
}

func (h *Handler) register(m Module) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.find(m.Name()) != nil {
		return api.NewError(api.ErrCodeExists, m.Name(), "name collision at registration")
	}
	h.modules = append(h.modules, m)
	h.metrics.SetModules(len(h.modules))
	return nil
}

func (h *Handler) deregister(m Module) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := slices.Index(h.modules, m); i >= 0 {
		h.modules = slices.Delete(h.modules, i, i+1)
	}
	h.metrics.SetModules(len(h.modules))
}

// LoadModule loads the plugin at path and every dependency it declares that
// is not loaded yet. path may omit the ".so" extension. Compiled-in plugins
// are matched by base name first.
func (h *Handler) LoadModule(path string) (Module, error) {
	m, err := h.load(path)
	if err != nil {
		h.metrics.ModuleLoaded(resultLabel(api.CodeOf(err)))
		h.log.Warn("plugin load failed", api.LogFields{"path": path, "error": err.Error()})
		return nil, err
	}
	h.metrics.ModuleLoaded(resultLabel(api.ErrCodeOK))
	return m, nil
}

func (h *Handler) load(path string) (Module, error) {
	if path == "" {
		return nil, api.NewError(api.ErrCodeParams, "", "empty plugin path")
	}
	name := baseName(path)
	if h.FindModule(name) != nil {
		return nil, api.NewError(api.ErrCodeExists, name, "")
	}
	key := strings.ToLower(name)
	if h.loading[key] {
		return nil, api.NewError(api.ErrCodeDepends, name, "dependency cycle")
	}
	h.loading[key] = true
	defer delete(h.loading, key)

	lib, origin, runtimePath, err := h.open(path, name)
	if err != nil {
		return nil, err
	}

	// Everything this call loaded is undone on failure.
	var pulled []Module
	abort := func(err error) (Module, error) {
		for i := len(pulled) - 1; i >= 0; i-- {
			if _, uerr := h.unload(pulled[i], true); uerr != nil {
				h.log.Warn("dependency rollback failed", api.LogFields{"module": pulled[i].Name(), "error": uerr.Error()})
			}
		}
		h.release(name, lib, runtimePath)
		return nil, err
	}

	deps := lookupDependencies(lib)
	for _, dep := range deps {
		if h.FindModule(baseName(dep)) != nil {
			continue
		}
		dm, err := h.LoadModule(filepath.Join(h.modulesDir, dep))
		if err != nil {
			return abort(api.Errorf(api.ErrCodeDepends, name, err, "dependency %q", dep))
		}
		pulled = append(pulled, dm)
	}

	initFn, err := lookupInit(lib)
	if err != nil {
		return abort(api.Errorf(api.ErrCodeNoLoad, name, err, "no usable %s entry point", SymInitialization))
	}
	m, err := h.initialize(initFn, name)
	if err != nil {
		return abort(err)
	}

	b := m.moduleBase()
	b.name = name
	b.file = origin
	b.runtimePath = runtimePath
	b.id = ulid.Make()
	b.loadTime = time.Now()
	b.deps = slices.Clone(deps)
	b.lib = lib

	if err := h.register(m); err != nil {
		h.terminate(m, lib)
		return abort(err)
	}
	h.log.Info("plugin loaded", api.LogFields{
		"module":  name,
		"id":      b.id.String(),
		"type":    b.typ.String(),
		"version": b.version,
		"file":    origin,
	})
	FireModuleLoad(h, m)
	return m, nil
}

// open maps the library for name, copying on-disk plugins into the runtime
// directory first.
func (h *Handler) open(path, name string) (lib Library, origin, runtimePath string, err error) {
	if s, err := h.static.Open(path); err == nil {
		return s, path, "", nil
	}

	origin = path
	info, statErr := os.Stat(origin)
	if statErr != nil && filepath.Ext(origin) == "" {
		origin = path + ".so"
		info, statErr = os.Stat(origin)
	}
	if statErr != nil || !info.Mode().IsRegular() {
		return nil, "", "", api.Errorf(api.ErrCodeNoExist, name, statErr, "%s", path)
	}

	runtimePath, err = h.copyToRuntime(origin, name, info.Mode().Perm())
	if err != nil {
		return nil, "", "", api.Errorf(api.ErrCodeFileIO, name, err, "copy to %s", h.runtimeDir)
	}

	loader := h.remote
	if filepath.Ext(origin) == ".so" {
		loader = h.native
	}
	lib, err = loader.Open(runtimePath)
	if err != nil {
		_ = os.Remove(runtimePath)
		return nil, "", "", api.Errorf(api.ErrCodeNoLoad, name, err, "%s", origin)
	}
	return lib, origin, runtimePath, nil
}

// copyToRuntime copies src to RuntimeDir/<name>.<ulid><ext> so the original
// file can be replaced while the copy is mapped.
func (h *Handler) copyToRuntime(src, name string, perm fs.FileMode) (string, error) {
	if err := os.MkdirAll(h.runtimeDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(h.runtimeDir, fmt.Sprintf("%s.%s%s", name, ulid.Make(), filepath.Ext(src)))

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm|0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// initialize runs the Initialization entry point with fault containment.
func (h *Handler) initialize(initFn InitFunc, name string) (m Module, err error) {
	loc := SymInitialization + "@" + name
	prevRun, prevLoc := h.lastRun.Load(), h.location.Load()
	h.lastRun.Store(&name)
	h.location.Store(&loc)
	h.calls++
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = api.Errorf(api.ErrCodeException, name, nil, "%s panicked: %v", SymInitialization, r)
			h.metrics.ModuleFault(name)
			h.faults.Add(1)
		}
		h.calls--
		if h.calls > 0 {
			h.lastRun.Store(prevRun)
			h.location.Store(prevLoc)
		}
	}()
	m, err = initFn(h.host, name)
	if err != nil {
		return nil, api.Errorf(api.ErrCodeException, name, err, "%s failed", SymInitialization)
	}
	if m == nil {
		return nil, api.NewError(api.ErrCodeNoLoad, name, SymInitialization+" returned no plugin")
	}
	// a typed nil plugin panics here and is reported as an exception
	_ = m.moduleBase().name
	return m, nil
}

// terminate runs the Terminate entry point, or closes the plugin directly
// when the library exports none.
func (h *Handler) terminate(m Module, lib Library) {
	h.invoke(m, SymTerminate+"@"+m.Name(), func() {
		if lib != nil {
			if fn, ok := lookupTerminate(lib); ok {
				if err := fn(m); err != nil {
					h.log.Warn("plugin terminate failed", api.LogFields{"module": m.Name(), "error": err.Error()})
				}
				return
			}
		}
		h.log.Warn("plugin exports no Terminate entry point, closing directly", api.LogFields{"module": m.Name()})
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				h.log.Warn("plugin close failed", api.LogFields{"module": m.Name(), "error": err.Error()})
			}
		}
	})
}

// release closes the library and deletes the runtime copy.
func (h *Handler) release(name string, lib Library, runtimePath string) {
	if lib != nil {
		if err := lib.Close(); err != nil {
			h.log.Warn("library close failed", api.LogFields{"module": name, "error": err.Error()})
		}
	}
	if runtimePath != "" {
		if err := os.Remove(runtimePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.log.Warn("runtime copy not removed", api.LogFields{"module": name, "path": runtimePath, "error": err.Error()})
		}
	}
}

// Unload tears m down after unloading every plugin that depends on it,
// directly or transitively. Nothing is unloaded when m or any of those
// dependents is permanent.
func (h *Handler) Unload(m Module) error {
	_, err := h.unload(m, false)
	return err
}

// UnloadByName unloads the plugin registered under name.
func (h *Handler) UnloadByName(name string) error {
	m := h.FindModule(name)
	if m == nil {
		return api.NewError(api.ErrCodeNoExist, name, "not loaded")
	}
	return h.Unload(m)
}

// unload returns the plugins it removed, dependents first.
func (h *Handler) unload(m Module, force bool) ([]Module, error) {
	if m == nil {
		return nil, api.NewError(api.ErrCodeParams, "", "nil plugin")
	}
	if !h.loaded(m) {
		return nil, api.NewError(api.ErrCodeNoExist, m.Name(), "not loaded")
	}
	if !force {
		if m.moduleBase().permanent {
			return nil, api.NewError(api.ErrCodePermanent, m.Name(), "")
		}
		for _, d := range h.dependents(m) {
			if d.moduleBase().permanent {
				return nil, api.NewError(api.ErrCodePermanent, m.Name(), "required by permanent plugin "+d.Name())
			}
		}
	}

	var gone []Module
	for _, d := range h.directDependents(m) {
		if !h.loaded(d) {
			continue
		}
		g, err := h.unload(d, force)
		gone = append(gone, g...)
		if err != nil {
			return gone, err
		}
	}
	h.teardown(m)
	return append(gone, m), nil
}

func (h *Handler) directDependents(m Module) []Module {
	var out []Module
	for _, o := range h.Modules() {
		if o != m && o.moduleBase().DependsOn(m.Name()) {
			out = append(out, o)
		}
	}
	return out
}

// dependents returns the transitive dependents of m.
func (h *Handler) dependents(m Module) []Module {
	var out []Module
	seen := map[Module]bool{m: true}
	queue := []Module{m}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range h.directDependents(cur) {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
				queue = append(queue, d)
			}
		}
	}
	return out
}

func (h *Handler) teardown(m Module) {
	b := m.moduleBase()
	FireModuleUnload(h, m)
	h.deregister(m)
	h.terminate(m, b.lib)
	if t := h.host.Timers(); t != nil {
		if n := t.StopOwned(b.name); n > 0 {
			h.log.Debug("stopped plugin timers", api.LogFields{"module": b.name, "timers": n})
		}
	}
	h.release(b.name, b.lib, b.runtimePath)
	b.lib = nil
	h.log.Info("plugin unloaded", api.LogFields{"module": b.name, "id": b.id.String()})
}

// UnloadAll removes every plugin, permanent ones included, taking the first
// by name each round until the registry is empty.
func (h *Handler) UnloadAll() error {
	var errs []error
	for {
		mods := h.Modules()
		if len(mods) == 0 {
			break
		}
		slices.SortFunc(mods, func(a, b Module) int {
			return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
		})
		if _, err := h.unload(mods[0], true); err != nil {
			errs = append(errs, err)
			h.deregister(mods[0])
		}
	}
	return errors.Join(errs...)
}

// Reload unloads the named plugin with its dependents and loads them again
// from their origin files, dependencies first.
func (h *Handler) Reload(name string) error {
	m := h.FindModule(name)
	if m == nil {
		return api.NewError(api.ErrCodeNoExist, name, "not loaded")
	}
	gone, err := h.unload(m, false)
	if err != nil && len(gone) == 0 {
		return err
	}
	errs := []error{err}
	for i := len(gone) - 1; i >= 0; i-- {
		if _, lerr := h.LoadModule(gone[i].moduleBase().file); lerr != nil && !errors.Is(lerr, api.ErrExists) {
			errs = append(errs, lerr)
		}
	}
	return errors.Join(errs...)
}

// LoadModules loads every .so file and executable in ModulesDir, in name
// order, skipping plugins already loaded. A missing directory is not an error.
func (h *Handler) LoadModules() error {
	paths, err := ScanDir(h.modulesDir)
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range paths {
		if h.FindModule(baseName(path)) != nil {
			continue
		}
		if _, err := h.LoadModule(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScanDir returns the plugin candidates in dir in name order: .so files and
// executables. A missing directory yields no candidates.
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, api.Errorf(api.ErrCodeFileIO, "", err, "read %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if isPluginFile(e) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

func isPluginFile(e fs.DirEntry) bool {
	if !e.Type().IsRegular() {
		return false
	}
	switch filepath.Ext(e.Name()) {
	case ".so":
		return true
	case "", ".exe":
		info, err := e.Info()
		return err == nil && info.Mode().Perm()&0o111 != 0
	default:
		return false
	}
}

// SanitizeRuntime creates RuntimeDir when absent and deletes stale copies
// left by a previous run. Call it before the first load.
func (h *Handler) SanitizeRuntime() error {
	if err := os.MkdirAll(h.runtimeDir, 0o755); err != nil {
		return api.Errorf(api.ErrCodeFileIO, "", err, "create %s", h.runtimeDir)
	}
	entries, err := os.ReadDir(h.runtimeDir)
	if err != nil {
		return api.Errorf(api.ErrCodeFileIO, "", err, "read %s", h.runtimeDir)
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(h.runtimeDir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return api.Errorf(api.ErrCodeFileIO, "", errors.Join(errs...), "clean %s", h.runtimeDir)
	}
	if len(entries) > 0 {
		h.log.Info("removed stale runtime copies", api.LogFields{"dir": h.runtimeDir, "count": len(entries)})
	}
	return nil
}

var resultLabels = [...]string{
	api.ErrCodeOK:        "ok",
	api.ErrCodeMemory:    "memory",
	api.ErrCodeParams:    "params",
	api.ErrCodeExists:    "exists",
	api.ErrCodeNoExist:   "no_exist",
	api.ErrCodeNoLoad:    "no_load",
	api.ErrCodeUnknown:   "unknown",
	api.ErrCodeFileIO:    "file_io",
	api.ErrCodeException: "exception",
	api.ErrCodeDepends:   "depends",
	api.ErrCodePermanent: "permanent",
}

func resultLabel(c api.ErrorCode) string {
	if c < 0 || int(c) >= len(resultLabels) {
		return resultLabels[api.ErrCodeUnknown]
	}
	return resultLabels[c]
}
