package observability

import (
	"bytes"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/searchktools/crane/core/http"
)

// Connection outcomes, used as the "outcome" label
const (
	OutcomeHandled    = "handled"
	OutcomeUnrouted   = "unrouted"
	OutcomeReadError  = "read_error"
	OutcomeParseError = "parse_error"
	OutcomeWriteError = "write_error"
	OutcomePanic      = "panic"
)

// MetricsConfig selects where the engine's collectors live.
type MetricsConfig struct {
	// Namespace prefixes every metric name (default "crane").
	Namespace string

	// Registry receives the collectors (default prometheus.DefaultRegisterer).
	// app uses a private registry so the metrics route shows only crane.
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metric name prefix.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithRegistry registers the collectors on registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// connectionBuckets spans a single in-memory handler call up to a client
// holding its worker until the read timeout.
var connectionBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics records the dispatcher's connection lifecycle.
//
// All methods are safe on a nil *Metrics, which records nothing; an engine
// without metrics simply carries a nil pointer.
type Metrics struct {
	connectionsTotal   prometheus.Counter
	acceptErrors       prometheus.Counter
	outcomes           *prometheus.CounterVec
	connectionDuration *prometheus.HistogramVec
	busyWorkers        prometheus.Gauge
}

// NewMetrics creates and registers the collectors. It panics if they are
// already registered on the chosen registry, like promauto does.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "crane",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),

		acceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "accept_errors_total",
			Help:      "Total number of failed accepts on the listener",
		}),

		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "requests_total",
			Help:      "Total number of processed connections by outcome",
		}, []string{"outcome"}),

		connectionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "connection_duration_seconds",
			Help:      "Time from worker pickup to connection close",
			Buckets:   connectionBuckets,
		}, []string{"outcome"}),

		busyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "busy_workers",
			Help:      "Number of workers currently processing a connection",
		}),
	}
}

// ConnectionAccepted counts an accepted connection
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
}

// AcceptFailed counts a failed accept
func (m *Metrics) AcceptFailed() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

// WorkerBusy marks a worker as processing a connection
func (m *Metrics) WorkerBusy() {
	if m == nil {
		return
	}
	m.busyWorkers.Inc()
}

// WorkerIdle marks a worker as free again
func (m *Metrics) WorkerIdle() {
	if m == nil {
		return
	}
	m.busyWorkers.Dec()
}

// ConnectionDone records the outcome and duration of one connection
func (m *Metrics) ConnectionDone(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.connectionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// textFormat is the Prometheus text exposition format, version 0.0.4
var textFormat = expfmt.NewFormat(expfmt.TypeTextPlain)

// Handler renders everything gatherer collects in the Prometheus text
// exposition format, so the metrics can be served as an ordinary route.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return http.HandlerFunc(func(_ string, _ http.Query) http.Response {
		families, err := gatherer.Gather()
		if err != nil && len(families) == 0 {
			return http.NewResponse().
				Status(http.StatusInternalServerError).
				Header("Content-Type", "text/plain; charset=utf-8").
				Body(err.Error()).
				Build()
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, textFormat)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return http.NewResponse().
					Status(http.StatusInternalServerError).
					Header("Content-Type", "text/plain; charset=utf-8").
					Body(err.Error()).
					Build()
			}
		}

		return http.NewResponse().
			Status(http.StatusOK).
			Header("Content-Type", string(textFormat)).
			BodyBytes(buf.Bytes()).
			Build()
	})
}
