package module_test

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/momentics/fluxd/module"
)

func TestForEachContinuesPastFault(t *testing.T) {
	e := newEnv(t, module.Options{})
	e.add("a")
	e.add("b")
	e.add("c")
	e.load("a")
	e.load("b")
	e.load("c")
	e.plugins["b"].onReload = func() { panic("nil map write") }

	module.FireConfigReload(e.h)
	assert.Equal(t, []string{"reload:a", "reload:b", "reload:c"}, filter(e.log, "reload:"))
	assert.EqualValues(t, 1, e.h.Faults())
	assert.Equal(t, "c", e.h.LastRunModule())
	assert.True(t, strings.HasPrefix(e.h.Location(), module.EventConfigReload+"@"), e.h.Location())
}

func TestLocationNamesTriggeringCode(t *testing.T) {
	e := newEnv(t, module.Options{})
	e.add("a")
	e.load("a")

	module.FireConfigReload(e.h)
	assert.True(t, strings.HasPrefix(e.h.Location(), module.EventConfigReload+"@dispatch_test.go:"), e.h.Location())

	module.FilterAccept(e.h, netip.MustParseAddrPort("192.0.2.1:80"))
	assert.True(t, strings.HasPrefix(e.h.Location(), module.EventAcceptFilter+"@dispatch_test.go:"), e.h.Location())

	module.ForEach(e.h, "OnCustom", func(o module.ReloadObserver) { o.OnConfigReload() })
	assert.True(t, strings.HasPrefix(e.h.Location(), "OnCustom@dispatch_test.go:"), e.h.Location())
}

func TestForEachSkipsNonImplementers(t *testing.T) {
	e := newEnv(t, module.Options{})
	e.add("a")
	e.load("a")

	calls := 0
	module.ForEach(e.h, "OnNothing", func(interface{ OnNothing() }) { calls++ })
	assert.Zero(t, calls)
}

func TestForEachResultShortCircuits(t *testing.T) {
	e := newEnv(t, module.Options{})
	peer := netip.MustParseAddrPort("192.0.2.7:4000")

	assert.True(t, module.FilterAccept(e.h, peer))

	e.add("a")
	e.add("b")
	e.add("c")
	e.load("a")
	e.load("b")
	e.load("c")
	assert.True(t, module.FilterAccept(e.h, peer))
	assert.Equal(t, []string{"filter:a", "filter:b", "filter:c"}, filter(e.log, "filter:"))

	e.log = nil
	e.plugins["b"].verdict = module.Stop
	got := module.ForEachResult(e.h, module.EventAcceptFilter, func(f module.AcceptFilter) module.EventResult {
		return f.OnAcceptFilter(peer)
	})
	assert.Equal(t, module.Stop, got)
	assert.Equal(t, []string{"filter:a", "filter:b"}, filter(e.log, "filter:"))
}

func TestUnloadDuringDispatchSkipsRemovedPlugin(t *testing.T) {
	e := newEnv(t, module.Options{})
	e.add("a")
	e.add("b")
	e.load("a")
	e.load("b")
	e.plugins["a"].onReload = func() {
		require.NoError(t, e.h.UnloadByName("b"))
	}

	module.FireConfigReload(e.h)
	assert.Equal(t, []string{"reload:a"}, filter(e.log, "reload:"))
	assert.Contains(t, e.log, "unload:a<b")
	assert.Equal(t, []string{"a"}, e.names())
	assert.Equal(t, "a", e.h.LastRunModule())
}

func TestLoadEventReachesOnlyOtherPlugins(t *testing.T) {
	e := newEnv(t, module.Options{})
	e.add("a")
	e.add("b")
	e.load("a")
	e.load("b")

	assert.Equal(t, []string{"load:a<b"}, filter(e.log, "load:"))
}

// The registry never holds two plugins whose names differ only in case.
func TestRegistryNamesStayUnique(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newEnv(t, module.Options{})
		for _, n := range []string{"alpha", "beta", "gamma"} {
			e.add(n)
		}
		spellings := []string{"alpha", "ALPHA", "Alpha", "beta", "BeTa", "gamma", "GAMMA"}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			name := rapid.SampledFrom(spellings).Draw(rt, "name")
			if rapid.Bool().Draw(rt, "load") {
				_, _ = e.h.LoadModule(name)
			} else if m := e.h.FindModule(name); m != nil {
				if err := e.h.Unload(m); err != nil {
					rt.Fatalf("unload %s: %v", name, err)
				}
			}

			seen := map[string]bool{}
			for _, m := range e.h.Modules() {
				key := strings.ToLower(m.Name())
				if seen[key] {
					rt.Fatalf("duplicate plugin %q after %d steps", m.Name(), i+1)
				}
				seen[key] = true
			}
		}
	})
}
