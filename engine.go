package guardspan

import (
	"context"
	"time"

	"github.com/merchantsec/guardspan/internal/stores"
	"github.com/merchantsec/guardspan/mail"
	"go.uber.org/zap"
)

// Engine is the server-side security-state core: the fixed-window rate
// limiter and the verification token flows. Configure it through [Builder];
// after Build it is immutable and safe for concurrent use.
type Engine struct {
	config   Config
	counters stores.CounterStore
	tokens   stores.TokenStore
	identity IdentityProvider
	mailer   mail.Sender
	audit    *auditDispatcher
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// Close flushes the audit dispatcher and stops store background work.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.counters != nil {
		e.counters.Close()
	}
	if e.tokens != nil {
		e.tokens.Close()
	}
}

// MetricsSnapshot returns a copy of the engine counters. Empty when metrics
// are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events the dispatcher shed under load.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, ownerID, tenantID string, cause error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:  e.now(),
		EventType:  eventType,
		OwnerID:    ownerID,
		TenantID:   tenantID,
		ClientAddr: clientAddrFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	e.audit.Emit(ctx, event)
}
