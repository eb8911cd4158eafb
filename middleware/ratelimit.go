package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/merchantsec/guardspan"
)

// RateLimit returns middleware that runs every request through the engine's
// fixed-window admission check. Budget headers go on every response, allowed
// or denied, so well-behaved clients can pace themselves before hitting 429.
func RateLimit(engine *guardspan.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := engine.Admit(r.Context())
			if err != nil {
				// Counter store down. Failing open here would expose the
				// platform to unmetered traffic during an outage.
				if errors.Is(err, guardspan.ErrStoreUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			writeBudgetHeaders(w, decision)

			if !decision.Allowed {
				retry := decision.RetryAfterSeconds()
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":       "rate_limited",
					"retry_after": retry,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeBudgetHeaders(w http.ResponseWriter, d guardspan.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}
