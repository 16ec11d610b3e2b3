// monitor/monitor.go
package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ConnectedBridges prometheus.Gauge
	Commands         *prometheus.CounterVec
	Clicks           *prometheus.CounterVec
	Failures         prometheus.Counter
	HandleLatency    *prometheus.HistogramVec
	RoundEvents      *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConnectedBridges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_bridges",
			Help:      "Number of connected chat bridges",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Chat commands handled, by name and outcome",
		}, []string{"command", "outcome"}),
		Clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_total",
			Help:      "Button clicks handled, by action kind and outcome",
		}, []string{"kind", "outcome"}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Interactions that failed unexpectedly",
		}),
		HandleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_latency_seconds",
			Help:      "Interaction processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"type"}),
		RoundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_events_total",
			Help:      "Round lifecycle events, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectedBridges,
		m.Commands,
		m.Clicks,
		m.Failures,
		m.HandleLatency,
		m.RoundEvents,
	}
}

// Monitor owns a registry so tests and multiple servers never collide on
// the global one.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time

	mutex    sync.Mutex
	handled  int64
	gaugesOn map[string]bool
}

func NewMonitor(namespace string) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace),
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		gaugesOn:  make(map[string]bool),
	}
	m.registry.MustRegister(m.metrics.collectors()...)
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the monitor started",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	)
	return m
}

// GaugeFunc registers a gauge read from fn at scrape time, once per name.
func (m *Monitor) GaugeFunc(namespace, name, help string, fn func() float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.gaugesOn[name] {
		return
	}
	m.gaugesOn[name] = true
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) IncBridges() {
	m.metrics.ConnectedBridges.Inc()
}

func (m *Monitor) DecBridges() {
	m.metrics.ConnectedBridges.Dec()
}

func outcome(rejected bool) string {
	if rejected {
		return "rejected"
	}
	return "ok"
}

func (m *Monitor) ObserveCommand(name string, rejected bool, took time.Duration) {
	m.metrics.Commands.WithLabelValues(name, outcome(rejected)).Inc()
	m.metrics.HandleLatency.WithLabelValues("command").Observe(took.Seconds())
	m.count()
}

func (m *Monitor) ObserveClick(kind string, rejected bool, took time.Duration) {
	m.metrics.Clicks.WithLabelValues(kind, outcome(rejected)).Inc()
	m.metrics.HandleLatency.WithLabelValues("click").Observe(took.Seconds())
	m.count()
}

func (m *Monitor) IncFailures() {
	m.metrics.Failures.Inc()
}

func (m *Monitor) IncRoundEvent(kind string) {
	m.metrics.RoundEvents.WithLabelValues(kind).Inc()
}

func (m *Monitor) count() {
	m.mutex.Lock()
	m.handled++
	m.mutex.Unlock()
}

// Handled is the number of commands and clicks observed.
func (m *Monitor) Handled() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.handled
}
