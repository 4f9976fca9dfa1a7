// Package metrics exposes the controller's Prometheus metrics.
//
// Every method is safe to call on a nil *Metrics, so components can be
// constructed without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaybus"

// Poll cycle kinds.
const (
	CycleSensors = "sensors"
	CycleRelays  = "relays"
)

// Outcome labels shared by reads and commands.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry            *prometheus.Registry
	pollCycles          *prometheus.CounterVec
	pollCycleDuration   *prometheus.HistogramVec
	channelReads        *prometheus.CounterVec
	commands            *prometheus.CounterVec
	commandAttempts     prometheus.Counter
	triggerFires        prometheus.Counter
	scheduleFires       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics registry with every controller metric registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles by kind",
		}, []string{"kind"}),
		pollCycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of a complete poll cycle across all gateways",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		channelReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_reads_total",
			Help:      "Sensor and relay feedback reads by outcome",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Relay commands by source and final outcome",
		}, []string{"source", "outcome"}),
		commandAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_attempts_total",
			Help:      "Relay write attempts including retries",
		}),
		triggerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_fires_total",
			Help:      "Trigger rules whose command was accepted by the queue",
		}),
		scheduleFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fires_total",
			Help:      "Schedule transitions submitted by action",
		}, []string{"action"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests processed by the API",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests served by the API",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		m.pollCycles,
		m.pollCycleDuration,
		m.channelReads,
		m.commands,
		m.commandAttempts,
		m.triggerFires,
		m.scheduleFires,
		m.httpRequests,
		m.httpRequestDuration,
	)

	return m
}

// ObservePollCycle records one completed poll cycle.
func (m *Metrics) ObservePollCycle(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(kind).Inc()
	m.pollCycleDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncChannelRead counts one channel read.
func (m *Metrics) IncChannelRead(outcome string) {
	if m == nil {
		return
	}
	m.channelReads.WithLabelValues(outcome).Inc()
}

// IncCommand counts a relay command reaching its final outcome.
func (m *Metrics) IncCommand(source, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(source, outcome).Inc()
}

// IncCommandAttempt counts one write attempt on the bus.
func (m *Metrics) IncCommandAttempt() {
	if m == nil {
		return
	}
	m.commandAttempts.Inc()
}

// IncTriggerFire counts a trigger whose command was accepted.
func (m *Metrics) IncTriggerFire() {
	if m == nil {
		return
	}
	m.triggerFires.Inc()
}

// IncScheduleFire counts a schedule transition.
func (m *Metrics) IncScheduleFire(action string) {
	if m == nil {
		return
	}
	m.scheduleFires.WithLabelValues(action).Inc()
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
