package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/momentics/fluxd/control"
)

func newEngine(t testing.TB, workers int) *ThreadEngine {
	t.Helper()
	e, err := NewThreadEngine(EngineConfig{Workers: workers})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func TestWorkersFor(t *testing.T) {
	assert.Equal(t, 2, workersFor(0))
	assert.Equal(t, 2, workersFor(1))
	assert.Equal(t, 8, workersFor(4))
	assert.GreaterOrEqual(t, DefaultWorkers(), 2)
}

func TestNewThreadEngineRejectsNegativeWorkers(t *testing.T) {
	_, err := NewThreadEngine(EngineConfig{Workers: -1})
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)
}

func TestAutomaticWorkerCount(t *testing.T) {
	e := newEngine(t, 0)
	assert.Equal(t, DefaultWorkers(), e.NumWorkers())
}

func TestJobsExecuteExactlyOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e, err := NewThreadEngine(EngineConfig{Workers: rapid.IntRange(1, 6).Draw(rt, "workers")})
		if err != nil {
			rt.Fatalf("NewThreadEngine: %v", err)
		}
		defer e.Shutdown()

		n := rapid.IntRange(1, 200).Draw(rt, "jobs")
		counts := make([]atomic.Int32, n)
		var wg sync.WaitGroup
		wg.Add(n)

		var b Batch
		for i := 0; i < n; i++ {
			i := i
			b.Add(func() {
				counts[i].Add(1)
				wg.Done()
			})
			if rapid.Bool().Draw(rt, "flush") {
				if _, err := e.Submit(&b, false); err != nil {
					rt.Fatalf("Submit: %v", err)
				}
			}
		}
		if _, err := e.Submit(&b, false); err != nil {
			rt.Fatalf("Submit: %v", err)
		}
		wg.Wait()

		for i := range counts {
			if got := counts[i].Load(); got != 1 {
				rt.Fatalf("job %d ran %d times", i, got)
			}
		}
	})
}

func TestSingleWorkerKeepsFIFOOrder(t *testing.T) {
	e := newEngine(t, 1)
	var mu sync.Mutex
	var order []int
	var b Batch
	for i := 0; i < 50; i++ {
		i := i
		b.Add(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	ok, err := e.Submit(&b, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, b.Len())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 50
	}, time.Second, time.Millisecond)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestNoStallSubmitDefersWhenLockBusy(t *testing.T) {
	metrics := control.NewMetrics(prometheus.NewRegistry())
	e, err := NewThreadEngine(EngineConfig{Workers: 2, Metrics: metrics})
	require.NoError(t, err)
	defer e.Shutdown()

	var ran atomic.Bool
	var b Batch
	b.Add(func() { ran.Store(true) })

	e.mu.Lock()
	ok, err := e.Submit(&b, true)
	e.mu.Unlock()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, int64(1), e.Stats()["deferred"])

	ok, err = e.Submit(&b, true)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestShutdownDiscardsQueuedJobs(t *testing.T) {
	e, err := NewThreadEngine(EngineConfig{Workers: 2})
	require.NoError(t, err)

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, e.Post(func() {
			started.Done()
			<-release
		}))
	}
	started.Wait()

	var ran atomic.Bool
	require.NoError(t, e.Post(func() { ran.Store(true) }))
	assert.Equal(t, 1, e.Pending())

	done := make(chan struct{})
	go func() {
		_ = e.Shutdown()
		close(done)
	}()
	require.Eventually(t, func() bool {
		for _, w := range e.workers {
			if !w.quitting.Load() {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
	close(release)
	<-done

	assert.False(t, ran.Load())
	assert.Equal(t, int64(1), e.Stats()["discarded"])
	assert.Equal(t, int64(2), e.Stats()["executed"])
	assert.Zero(t, e.Pending())
}

func TestSubmitAfterShutdown(t *testing.T) {
	e, err := NewThreadEngine(EngineConfig{Workers: 2})
	require.NoError(t, err)
	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())

	assert.ErrorIs(t, e.Post(func() {}), ErrEngineClosed)
}

func TestPanickingJobKeepsWorkerAlive(t *testing.T) {
	e := newEngine(t, 1)
	require.NoError(t, e.Post(func() { panic("boom") }))

	var ran atomic.Bool
	require.NoError(t, e.Post(func() { ran.Store(true) }))
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestEmptyAndNilBatch(t *testing.T) {
	e := newEngine(t, 1)
	ok, err := e.Submit(nil, true)
	require.NoError(t, err)
	assert.True(t, ok)

	var b Batch
	b.Add(nil)
	assert.Zero(t, b.Len())
}
