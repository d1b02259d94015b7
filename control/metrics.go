// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the daemon core. All recording methods are
// nil-receiver safe so subsystems can run without metrics.

package control

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fluxd"

// Metrics owns the daemon's Prometheus collectors.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	modulesLoaded prometheus.Gauge
	moduleLoads   *prometheus.CounterVec
	moduleFaults  *prometheus.CounterVec
	jobsSubmitted prometheus.Counter
	jobsExecuted  prometheus.Counter
	jobsDiscarded prometheus.Counter
	jobsDeferred  prometheus.Counter
	timersActive  prometheus.Gauge
	timersFired   prometheus.Counter
	socketsActive prometheus.Gauge
	socketEvents  *prometheus.CounterVec
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors. A nil registerer selects the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:    registerer,
		modulesLoaded: newGauge("module", "loaded", "Number of plugins currently loaded."),
		moduleLoads:   newCounterVec("module", "loads_total", "Plugin load attempts by result.", []string{"result"}),
		moduleFaults:  newCounterVec("module", "faults_total", "Recovered plugin faults by plugin.", []string{"module"}),
		jobsSubmitted: newCounter("jobs", "submitted_total", "Jobs moved into the shared queue."),
		jobsExecuted:  newCounter("jobs", "executed_total", "Jobs executed by workers."),
		jobsDiscarded: newCounter("jobs", "discarded_total", "Jobs dropped at thread engine shutdown."),
		jobsDeferred:  newCounter("jobs", "deferred_total", "Non-blocking submits that found the queue busy."),
		timersActive:  newGauge("timers", "active", "Registered timers."),
		timersFired:   newCounter("timers", "fired_total", "Timer callbacks invoked."),
		socketsActive: newGauge("sockets", "registered", "Sockets registered with the multiplexer."),
		socketEvents:  newCounterVec("sockets", "events_total", "Socket dispatches by kind.", []string{"kind"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.modulesLoaded, m.moduleLoads, m.moduleFaults,
		m.jobsSubmitted, m.jobsExecuted, m.jobsDiscarded, m.jobsDeferred,
		m.timersActive, m.timersFired,
		m.socketsActive, m.socketEvents,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// ModuleLoaded records a load attempt with its status string.
func (m *Metrics) ModuleLoaded(result string) {
	if m == nil {
		return
	}
	m.moduleLoads.WithLabelValues(result).Inc()
}

// SetModules sets the loaded plugin gauge.
func (m *Metrics) SetModules(n int) {
	if m == nil {
		return
	}
	m.modulesLoaded.Set(float64(n))
}

// ModuleFault counts a recovered fault attributed to name.
func (m *Metrics) ModuleFault(name string) {
	if m == nil {
		return
	}
	m.moduleFaults.WithLabelValues(name).Inc()
}

// JobsSubmitted adds n queued jobs.
func (m *Metrics) JobsSubmitted(n int) {
	if m == nil {
		return
	}
	m.jobsSubmitted.Add(float64(n))
}

// JobExecuted counts one finished job.
func (m *Metrics) JobExecuted() {
	if m == nil {
		return
	}
	m.jobsExecuted.Inc()
}

// JobsDiscarded adds n jobs dropped at shutdown.
func (m *Metrics) JobsDiscarded(n int) {
	if m == nil {
		return
	}
	m.jobsDiscarded.Add(float64(n))
}

// JobDeferred counts a non-blocking submit that did not get the lock.
func (m *Metrics) JobDeferred() {
	if m == nil {
		return
	}
	m.jobsDeferred.Inc()
}

// SetTimers sets the registered timer gauge.
func (m *Metrics) SetTimers(n int) {
	if m == nil {
		return
	}
	m.timersActive.Set(float64(n))
}

// TimerFired counts one timer callback.
func (m *Metrics) TimerFired() {
	if m == nil {
		return
	}
	m.timersFired.Inc()
}

// SetSockets sets the registered socket gauge.
func (m *Metrics) SetSockets(n int) {
	if m == nil {
		return
	}
	m.socketsActive.Set(float64(n))
}

// SocketEvent counts a dispatch of the given kind.
func (m *Metrics) SocketEvent(kind string) {
	if m == nil {
		return
	}
	m.socketEvents.WithLabelValues(kind).Inc()
}
