package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for sync runs. A nil or disabled
// Metrics is safe to call.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	actionsApplied *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec

	errorsByClass *prometheus.CounterVec

	trackedAssignments *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of sync runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of sync runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of sync runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		actionsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of actions executed by type and outcome",
			},
			[]string{"action", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of destination calls per action in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action", "status"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of classified action failures",
			},
			[]string{"class"},
		),
		trackedAssignments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_assignments",
				Help:      "Number of assignments tracked in the state store",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.actionsApplied,
		m.actionDuration,
		m.errorsByClass,
		m.trackedAssignments,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.config.Enabled
}

// CountRunStarted records the start of a sync run.
func (m *Metrics) CountRunStarted() {
	if !m.enabled() {
		return
	}
	m.runsStarted.Inc()
}

// ObserveRun records the completion of a sync run.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveAction records one executed action.
func (m *Metrics) ObserveAction(action, status string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.actionsApplied.WithLabelValues(action, status).Inc()
	m.actionDuration.WithLabelValues(action, status).Observe(d.Seconds())
}

// CountError records a classified action failure.
func (m *Metrics) CountError(class string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// SetTrackedAssignments records store gauge values for status scraping.
func (m *Metrics) SetTrackedAssignments(active, archived int) {
	if !m.enabled() {
		return
	}
	m.trackedAssignments.WithLabelValues("active").Set(float64(active))
	m.trackedAssignments.WithLabelValues("archived").Set(float64(archived))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on the configured listen address. No-op
// when no address is configured; useful when lmsync runs under a
// long-lived scheduler host.
func (m *Metrics) StartServer() error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = m.server.ListenAndServe()
	}()

	return nil
}

// StopServer shuts down the metrics endpoint.
func (m *Metrics) StopServer(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
