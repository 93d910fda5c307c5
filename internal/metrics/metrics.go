// Package metrics holds the Prometheus collectors shared by the secrets
// cache, the database connectors and the HTTP middleware.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional *Metrics without guarding every call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "secretsrefresh"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeRecovered = "recovered"
	OutcomeFailed    = "failed"
)

// Metrics groups every collector exported by secretsrefresh.
type Metrics struct {
	SecretFetches      *prometheus.CounterVec
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	AuthRetries        *prometheus.CounterVec
	KeyRotations       prometheus.Counter
	KeyRefreshFailures prometheus.Counter
}

// New creates the collectors and registers them with reg.
// A nil reg leaves the collectors unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SecretFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_fetches_total",
			Help:      "Remote GetSecretValue calls by secret and outcome.",
		}, []string{"secret", "outcome"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Secret lookups served from the in-memory cache.",
		}, []string{"secret"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Secret lookups that required a remote fetch.",
		}, []string{"secret"}),
		CacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Forced invalidations of cached secrets.",
		}, []string{"secret"}),
		AuthRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_retries_total",
			Help:      "Retries after an authentication failure by source and outcome.",
		}, []string{"source", "outcome"}),
		KeyRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_key_rotations_total",
			Help:      "Signing key changes picked up from Secrets Manager.",
		}),
		KeyRefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_key_refresh_failures_total",
			Help:      "Signing key refresh attempts that failed and were skipped.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SecretFetches,
			m.CacheHits,
			m.CacheMisses,
			m.CacheInvalidations,
			m.AuthRetries,
			m.KeyRotations,
			m.KeyRefreshFailures,
		)
	}

	return m
}

// NewRegistry returns a registry with the Go and process collectors plus the
// secretsrefresh collectors, and the Metrics bound to it.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// Handler exposes reg over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SecretFetched records a remote fetch of secret.
func (m *Metrics) SecretFetched(secret string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.SecretFetches.WithLabelValues(secret, outcome).Inc()
}

// CacheHit records a cache hit for secret.
func (m *Metrics) CacheHit(secret string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(secret).Inc()
}

// CacheMiss records a cache miss for secret.
func (m *Metrics) CacheMiss(secret string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(secret).Inc()
}

// CacheInvalidated records a forced invalidation of secret.
func (m *Metrics) CacheInvalidated(secret string) {
	if m == nil {
		return
	}
	m.CacheInvalidations.WithLabelValues(secret).Inc()
}

// AuthRetried records the outcome of a retry after an authentication failure.
func (m *Metrics) AuthRetried(source string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeRecovered
	if err != nil {
		outcome = OutcomeFailed
	}
	m.AuthRetries.WithLabelValues(source, outcome).Inc()
}

// KeyRotated records a signing key rotation.
func (m *Metrics) KeyRotated() {
	if m == nil {
		return
	}
	m.KeyRotations.Inc()
}

// KeyRefreshFailed records a failed signing key refresh.
func (m *Metrics) KeyRefreshFailed() {
	if m == nil {
		return
	}
	m.KeyRefreshFailures.Inc()
}

// RegisterCacheSize exports size as the secretsrefresh_cache_entries gauge,
// sampled on every scrape.
func RegisterCacheSize(reg prometheus.Registerer, size func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Live entries in the secrets cache.",
	}, func() float64 { return float64(size()) }))
}
