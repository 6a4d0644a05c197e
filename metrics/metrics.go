// Package metrics exposes the vault's Prometheus counters and the HTTP server
// that serves them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the vault's counters on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	identityChecks *prometheus.CounterVec
	unlockSessions *prometheus.CounterVec
	shardReleases  *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

// NewMetrics registers the vault counters and the Go runtime collectors.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		identityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_checks_total",
			Help:      "Beneficiary identity verification attempts by result.",
		}, []string{"result"}),
		unlockSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_sessions_total",
			Help:      "Unlock sessions by outcome, counted when opened and when closed.",
		}, []string{"outcome"}),
		shardReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shard_releases_total",
			Help:      "Guardian release decisions.",
		}, []string{"decision"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Out-of-band notifications by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.identityChecks,
		m.unlockSessions,
		m.shardReleases,
		m.notifications,
	)
	return m
}

func (m *Metrics) IdentityCheck(result string) {
	if m != nil {
		m.identityChecks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) UnlockSession(outcome string) {
	if m != nil {
		m.unlockSessions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ShardRelease(decision string) {
	if m != nil {
		m.shardReleases.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) Notification(result string) {
	if m != nil {
		m.notifications.WithLabelValues(result).Inc()
	}
}

// Registry returns the registry backing m, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format. A nil m
// serves the default registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for m listening on addr.
func New(m *Metrics, addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
