package guardspan

import (
	"fmt"
	"time"
)

// Config defines the tunable surface of the engine. Zero values are replaced
// by [DefaultConfig] defaults during [Builder.Build]; out-of-range values
// fail validation with [ErrConfigInvalid].
type Config struct {
	RateLimit RateLimitConfig
	Token     TokenConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig tunes the fixed-window request limiter.
type RateLimitConfig struct {
	Enabled bool
	// Window is the fixed counting interval. A request arriving at or after
	// an entry's reset deadline starts a fresh window.
	Window time.Duration
	// Max is the number of requests admitted per key per window.
	Max int
}

/*
====================================
VERIFICATION TOKEN CONFIG
====================================
*/

// TokenConfig tunes verification and email-change tokens.
type TokenConfig struct {
	// TTL is how long an issued token stays confirmable.
	TTL time.Duration
	// VerifyURLBase is the absolute URL of the confirmation endpoint; the
	// issued token is appended as the token query parameter when building
	// the link placed in outbound mail.
	VerifyURLBase string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking: events beyond the buffer are
	// counted and discarded instead of back-pressuring the caller.
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration the platform ships with:
// 100 requests per 60s window, 24h token TTL, audit and metrics on.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Enabled: true,
			Window:  60 * time.Second,
			Max:     100,
		},
		Token: TokenConfig{
			TTL: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func fillConfigDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}
	if cfg.RateLimit.Max == 0 {
		cfg.RateLimit.Max = def.RateLimit.Max
	}
	if cfg.Token.TTL == 0 {
		cfg.Token.TTL = def.Token.TTL
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}
}

func validateConfig(cfg Config) error {
	if cfg.RateLimit.Window < time.Second {
		return fmt.Errorf("%w: rate limit window %v below 1s", ErrConfigInvalid, cfg.RateLimit.Window)
	}
	if cfg.RateLimit.Max < 1 {
		return fmt.Errorf("%w: rate limit max %d below 1", ErrConfigInvalid, cfg.RateLimit.Max)
	}
	if cfg.Token.TTL < time.Minute {
		return fmt.Errorf("%w: token ttl %v below 1m", ErrConfigInvalid, cfg.Token.TTL)
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize < 1 {
		return fmt.Errorf("%w: audit buffer size %d below 1", ErrConfigInvalid, cfg.Audit.BufferSize)
	}
	return nil
}
