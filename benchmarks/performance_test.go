// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for the fluxd core.

package benchmarks

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/momentics/fluxd/fake"
	"github.com/momentics/fluxd/internal/concurrency"
	"github.com/momentics/fluxd/module"
	"github.com/momentics/fluxd/socket"
	"github.com/momentics/fluxd/timer"
)

// BenchmarkBufferPool measures read buffer recycling.
func BenchmarkBufferPool(b *testing.B) {
	pool := socket.NewBufferPool(socket.DefaultReadBufferSize)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := pool.GetBuffer()
			pool.PutBuffer(buf)
		}
	})
}

// BenchmarkThreadEnginePost measures single-job submission and execution.
func BenchmarkThreadEnginePost(b *testing.B) {
	engine, err := concurrency.NewThreadEngine(concurrency.EngineConfig{Workers: 4})
	if err != nil {
		b.Fatal(err)
	}
	defer engine.Shutdown()

	var wg sync.WaitGroup
	wg.Add(b.N)
	job := func() { wg.Done() }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := engine.Post(job); err != nil {
			b.Fatal(err)
		}
	}
	wg.Wait()
}

// BenchmarkThreadEngineBatch measures batched submission of 64 jobs.
func BenchmarkThreadEngineBatch(b *testing.B) {
	engine, err := concurrency.NewThreadEngine(concurrency.EngineConfig{Workers: 4})
	if err != nil {
		b.Fatal(err)
	}
	defer engine.Shutdown()

	const perBatch = 64
	var wg sync.WaitGroup
	wg.Add(b.N * perBatch)
	job := func() { wg.Done() }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var batch concurrency.Batch
		for j := 0; j < perBatch; j++ {
			batch.Add(job)
		}
		if _, err := engine.Submit(&batch, false); err != nil {
			b.Fatal(err)
		}
	}
	wg.Wait()
}

// BenchmarkTickTimers measures one tick over 1000 repeating timers, half due.
func BenchmarkTickTimers(b *testing.B) {
	clock := fake.NewClock(time.Unix(0, 0))
	h := timer.NewHandler(timer.WithClock(clock.Now))
	for i := 0; i < 1000; i++ {
		interval := time.Second
		if i%2 == 1 {
			interval = time.Hour
		}
		if _, err := h.Every(interval, func(time.Time) {}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Advance(time.Second)
		h.TickTimers()
	}
}

type observer struct{ module.Base }

func (observer) OnConfigReload() {}

// BenchmarkDispatch measures one event dispatch across 32 plugins.
func BenchmarkDispatch(b *testing.B) {
	static := module.NewStaticLoader()
	host := fake.NewHost(module.Options{
		Static:     static,
		ModulesDir: b.TempDir(),
		RuntimeDir: b.TempDir(),
	})
	for i := 0; i < 32; i++ {
		name := fmt.Sprintf("p%02d", i)
		static.Register(name, &module.StaticLibrary{
			Init: func(module.Host, string) (module.Module, error) { return &observer{}, nil },
		})
		if _, err := host.Registry.LoadModule(name); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		module.FireConfigReload(host.Registry)
	}
}
