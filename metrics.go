package guardspan

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricAdmitAllowed counts admitted rate-limit checks.
	MetricAdmitAllowed MetricID = iota
	// MetricAdmitDenied counts rejected rate-limit checks.
	MetricAdmitDenied
	// MetricTokenIssued counts issued verification and email-change tokens.
	MetricTokenIssued
	// MetricTokenConsumed counts successful confirmations.
	MetricTokenConsumed
	// MetricTokenExpired counts confirm/resend attempts on lapsed tokens.
	MetricTokenExpired
	// MetricTokenNotFound counts confirm/resend attempts on unknown tokens.
	MetricTokenNotFound
	// MetricTokenSuperseded counts tokens invalidated by a newer issue.
	MetricTokenSuperseded
	// MetricTokenResent counts resends of a live token.
	MetricTokenResent
	// MetricEmailConflict counts change-email requests rejected for a
	// colliding address.
	MetricEmailConflict
	// MetricMailSendFailure counts best-effort mail dispatches that failed.
	MetricMailSendFailure
	// MetricIdentityNotifyFailure counts best-effort identity updates that
	// failed after confirmation.
	MetricIdentityNotifyFailure

	metricCount
)

// Metrics is a fixed set of atomic counters. All methods are safe for
// concurrent use; a nil *Metrics (metrics disabled) is a no-op receiver.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{}
}

// Inc bumps the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricCount))}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
