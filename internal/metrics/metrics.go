package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homelink"

// Event kinds forwarded to the EventSink.
const (
	eventCommand = "command"
	eventReport  = "report"
)

// EventSink receives activity events. *influxdb.Client satisfies it.
// Events carry the device and outcome only; device state is never
// forwarded.
type EventSink interface {
	WriteEvent(kind, deviceID, outcome string)
}

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry
	sink     EventSink

	commands        *prometheus.CounterVec
	publishFailures prometheus.Counter
	reports         *prometheus.CounterVec
	observers       prometheus.Gauge
	dropped         prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

// New creates and registers the collectors, plus the Go runtime and
// process collectors. sink may be nil.
func New(sink EventSink) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sink:     sink,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Owner commands by outcome.",
		}, []string{"outcome"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_publish_failures_total",
			Help:      "Dispatched commands whose broker publish failed.",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_reports_total",
			Help:      "Device status reports by outcome.",
		}, []string{"outcome"}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_observers",
			Help:      "Open state stream sessions.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_changes_dropped_total",
			Help:      "State changes discarded because a watcher's buffer was full.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		m.commands,
		m.publishFailures,
		m.reports,
		m.observers,
		m.dropped,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CommandOutcome counts a dispatch attempt.
func (m *Metrics) CommandOutcome(deviceID, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
	if m.sink != nil {
		m.sink.WriteEvent(eventCommand, deviceID, outcome)
	}
}

// PublishFailed counts a command whose broker publish failed.
func (m *Metrics) PublishFailed(string) {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

// StatusReport counts a status report.
func (m *Metrics) StatusReport(deviceID, outcome string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(outcome).Inc()
	if m.sink != nil {
		m.sink.WriteEvent(eventReport, deviceID, outcome)
	}
}

// ObserverOpened increments the open session gauge.
func (m *Metrics) ObserverOpened() {
	if m == nil {
		return
	}
	m.observers.Inc()
}

// ObserverClosed decrements the open session gauge.
func (m *Metrics) ObserverClosed() {
	if m == nil {
		return
	}
	m.observers.Dec()
}

// ChangeDropped counts a change discarded by a full watcher buffer.
func (m *Metrics) ChangeDropped(string) {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// HTTPRequest counts a completed request.
func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
