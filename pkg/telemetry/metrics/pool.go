// Package metrics exposes Prometheus collectors for the pool engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Config controls metric naming.
type Config struct {
	// Namespace is the metric namespace (default "stratus").
	Namespace string

	// Subsystem is the metric subsystem (default "pool").
	Subsystem string
}

// PoolMetrics tracks scheduler, failover, and health activity.
//
// Metrics:
//   - stratus_pool_selections_total: account selections by platform and tier
//   - stratus_pool_selection_errors_total: pool-exhaustion errors
//   - stratus_pool_failover_retries_total: cross-account retries by reason
//   - stratus_pool_health_marks_total: degraded-state marks by status
//   - stratus_pool_account_healthy: per-account health gauge
//   - stratus_pool_session_affinity_total: sticky-session hits and misses
//   - stratus_pool_refresh_lock_wait_seconds: time spent waiting on the
//     credential refresh lock
//
// All methods are safe on a nil receiver so components can run without a
// registry wired in.
type PoolMetrics struct {
	selections      *prometheus.CounterVec
	selectionErrors *prometheus.CounterVec
	failoverRetries *prometheus.CounterVec
	healthMarks     *prometheus.CounterVec
	accountHealthy  *prometheus.GaugeVec
	sessionAffinity *prometheus.CounterVec
	refreshLockWait prometheus.Histogram
}

// NewPoolMetrics creates and registers the pool collectors.
func NewPoolMetrics(cfg Config, registry *prometheus.Registry) *PoolMetrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "stratus"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "pool"
	}

	pm := &PoolMetrics{
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "selections_total",
				Help:      "Account selections by platform and pool tier",
			},
			[]string{"platform", "tier"},
		),

		selectionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "selection_errors_total",
				Help:      "Selections that exhausted every pool tier",
			},
			[]string{"platform"},
		),

		failoverRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "failover_retries_total",
				Help:      "Cross-account retries by platform and failure reason",
			},
			[]string{"platform", "reason"},
		),

		healthMarks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "health_marks_total",
				Help:      "Degraded-state marks by platform and status",
			},
			[]string{"platform", "status"},
		),

		accountHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "account_healthy",
				Help:      "Account health status (1=healthy, 0=unhealthy)",
			},
			[]string{"platform", "account"},
		),

		sessionAffinity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "session_affinity_total",
				Help:      "Sticky-session lookups by platform and result (hit/miss/invalid)",
			},
			[]string{"platform", "result"},
		),

		refreshLockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "refresh_lock_wait_seconds",
				Help:      "Time spent waiting on a contended credential refresh lock",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
	}

	registry.MustRegister(
		pm.selections,
		pm.selectionErrors,
		pm.failoverRetries,
		pm.healthMarks,
		pm.accountHealthy,
		pm.sessionAffinity,
		pm.refreshLockWait,
	)

	return pm
}

// RecordSelection records a successful account selection.
func (pm *PoolMetrics) RecordSelection(platform, tier string) {
	if pm == nil {
		return
	}
	pm.selections.WithLabelValues(platform, tier).Inc()
}

// RecordSelectionError records a pool-exhaustion error.
func (pm *PoolMetrics) RecordSelectionError(platform string) {
	if pm == nil {
		return
	}
	pm.selectionErrors.WithLabelValues(platform).Inc()
}

// RecordFailoverRetry records a cross-account retry.
//
// Common reasons: "rate_limit", "auth", "blocked", "server_error",
// "overloaded", "network".
func (pm *PoolMetrics) RecordFailoverRetry(platform, reason string) {
	if pm == nil {
		return
	}
	pm.failoverRetries.WithLabelValues(platform, reason).Inc()
}

// RecordHealthMark records an account being marked with a degraded status.
func (pm *PoolMetrics) RecordHealthMark(platform, status string) {
	if pm == nil {
		return
	}
	pm.healthMarks.WithLabelValues(platform, status).Inc()
}

// UpdateAccountHealth updates the per-account health gauge.
func (pm *PoolMetrics) UpdateAccountHealth(platform, account string, healthy bool) {
	if pm == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	pm.accountHealthy.WithLabelValues(platform, account).Set(value)
}

// RecordSessionLookup records a sticky-session lookup result.
func (pm *PoolMetrics) RecordSessionLookup(platform, result string) {
	if pm == nil {
		return
	}
	pm.sessionAffinity.WithLabelValues(platform, result).Inc()
}

// ObserveRefreshLockWait records time spent waiting on the refresh lock.
func (pm *PoolMetrics) ObserveRefreshLockWait(seconds float64) {
	if pm == nil {
		return
	}
	pm.refreshLockWait.Observe(seconds)
}
