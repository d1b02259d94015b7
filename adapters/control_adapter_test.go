package adapters_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/fluxd/adapters"
	"github.com/momentics/fluxd/control"
	"github.com/momentics/fluxd/internal/concurrency"
)

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter(control.NewConfigStore(), control.NewDebugProbes())
	assert.Empty(t, ctrl.GetConfig())

	called := 0
	ctrl.OnReload(func() { called++ })
	require.NoError(t, ctrl.SetConfig(map[string]any{"k": 1}))
	assert.Equal(t, 1, called)
	assert.Equal(t, map[string]any{"k": 1}, ctrl.GetConfig())

	ctrl.RegisterDebugProbe("answer", func() any { return 42 })
	ctrl.AddStats("jobs", func() map[string]int64 { return map[string]int64{"executed": 7} })

	stats := ctrl.Stats()
	assert.Equal(t, 42, stats["debug.answer"])
	assert.Equal(t, int64(7), stats["jobs.executed"])
}

func TestExecutorAdapter(t *testing.T) {
	engine, err := concurrency.NewThreadEngine(concurrency.EngineConfig{Workers: 2})
	require.NoError(t, err)
	defer engine.Shutdown()

	exec := adapters.NewExecutorAdapter(engine)
	assert.Equal(t, 2, exec.NumWorkers())

	var n atomic.Int32
	require.NoError(t, exec.Submit(func() { n.Add(1) }))
	ok, err := exec.TrySubmit(func() { n.Add(1) }, func() { n.Add(1) })
	require.NoError(t, err)
	if ok {
		require.Eventually(t, func() bool { return n.Load() == 3 }, time.Second, time.Millisecond)
	} else {
		require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)
	}

	require.NoError(t, engine.Shutdown())
	assert.ErrorIs(t, exec.Submit(func() {}), concurrency.ErrEngineClosed)
}
