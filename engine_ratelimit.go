package guardspan

import (
	"context"
	"fmt"
	"time"
)

// RateKey derives the limiter key for a caller. Authenticated identities are
// counted per tenant+user; unauthenticated traffic falls back to the tenant
// plus client address, and to an anonymous bucket when no tenant resolved.
// The fallback chain keeps an anonymous caller from draining an
// authenticated tenant's quota.
func RateKey(id Identity, clientAddr string) string {
	if clientAddr == "" {
		clientAddr = "unknown"
	}
	switch {
	case id.TenantID != "" && id.UserID != "":
		return id.TenantID + ":" + id.UserID
	case id.TenantID != "":
		return id.TenantID + ":" + clientAddr
	default:
		return "anonymous:" + clientAddr
	}
}

// Admit checks the caller attached to ctx (via [WithIdentity] and
// [WithClientAddr]) against the fixed-window budget.
func (e *Engine) Admit(ctx context.Context) (Decision, error) {
	id, _ := IdentityFromContext(ctx)
	return e.AdmitKey(ctx, RateKey(id, clientAddrFromContext(ctx)))
}

// AdmitKey checks an explicit key against the fixed-window budget. The
// increment-and-compare is a single atomic step inside the counter store, so
// two callers racing on the same key can never both observe an under-limit
// count.
func (e *Engine) AdmitKey(ctx context.Context, key string) (Decision, error) {
	if e == nil || e.counters == nil {
		return Decision{}, ErrEngineNotReady
	}
	cfg := e.config.RateLimit
	if !cfg.Enabled {
		return Decision{Allowed: true, Limit: cfg.Max, Remaining: cfg.Max}, nil
	}

	count, resetAt, err := e.counters.Incr(ctx, key, cfg.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	decision := Decision{
		Allowed:   count <= int64(cfg.Max),
		Limit:     cfg.Max,
		Remaining: cfg.Max - int(count),
		ResetAt:   resetAt,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	if decision.Allowed {
		e.metricInc(MetricAdmitAllowed)
		return decision, nil
	}

	decision.RetryAfter = ceilSeconds(resetAt.Sub(e.now()))
	e.metricInc(MetricAdmitDenied)
	id, _ := IdentityFromContext(ctx)
	e.emitAudit(ctx, auditEventRateDenied, false, id.UserID, id.TenantID, ErrRateLimited, map[string]string{
		"key": key,
	})
	return decision, nil
}

// RetryAfterSeconds renders the decision's retry hint as whole seconds, the
// unit the Retry-After header speaks.
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
