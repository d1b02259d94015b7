package control

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/fluxd/api"
)

var _ api.ConfigLookup = (*ConfigStore)(nil)

func TestConfigStoreTypedLookups(t *testing.T) {
	cs := NewConfigStore()
	cs.Seed(map[string]any{
		"name":    "fluxd",
		"workers": "8",
		"count":   3,
		"pin":     "true",
		"tick":    "250ms",
		"grace":   "5",
		"ratio":   1.5,
	})

	assert.Equal(t, "fluxd", cs.GetString("name", ""))
	assert.Equal(t, "1.5", cs.GetString("ratio", ""))
	assert.Equal(t, "def", cs.GetString("missing", "def"))
	assert.Equal(t, 8, cs.GetInt("workers", 0))
	assert.Equal(t, 3, cs.GetInt("count", 0))
	assert.Equal(t, 7, cs.GetInt("name", 7))
	assert.True(t, cs.GetBool("pin", false))
	assert.True(t, cs.GetBool("missing", true))
	assert.Equal(t, 250*time.Millisecond, cs.GetDuration("tick", 0))
	assert.Equal(t, 5*time.Second, cs.GetDuration("grace", 0))
	assert.Equal(t, time.Minute, cs.GetDuration("name", time.Minute))
}

func TestConfigStoreReloadListeners(t *testing.T) {
	cs := NewConfigStore()
	calls := 0
	cs.OnReload(func() { calls++ })

	cs.Seed(map[string]any{"a": 1})
	assert.Zero(t, calls)

	cs.SetConfig(map[string]any{"b": 2})
	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, cs.GetSnapshot())
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments([]string{"epoll.max_events=256", "motd = hi=there"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"epoll.max_events": "256", "motd": " hi=there"}, got)

	_, err = ParseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseAssignments([]string{"=x"})
	assert.Error(t, err)
}

func TestMetricsRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	again := NewMetrics(reg)
	require.NoError(t, again.Register())
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.JobsSubmitted(3)
	m.JobExecuted()
	m.ModuleFault("echo")
	m.SetTimers(4)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.jobsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsExecuted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.moduleFaults.WithLabelValues("echo")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.timersActive))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobsSubmitted(1)
		m.SocketEvent("read")
		m.SetModules(2)
	})
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })

	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Contains(t, state, "platform.cpus")
	assert.Contains(t, dp.Names(), "answer")

	dp.RemoveProbe("answer")
	assert.NotContains(t, dp.DumpState(), "answer")
}
