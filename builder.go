package guardspan

import (
	"errors"
	"time"

	"github.com/merchantsec/guardspan/internal/stores"
	"github.com/merchantsec/guardspan/mail"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. With no store configured it builds the
// in-memory single-process variant; WithRedis switches both stores to their
// Redis implementations without changing any call site.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	counters stores.CounterStore
	tokens   stores.TokenStore

	identity  IdentityProvider
	mailer    mail.Sender
	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New creates a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis backs both stores with the given client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCounterStore injects a custom counter store, overriding WithRedis for
// the rate limiter.
func (b *Builder) WithCounterStore(s stores.CounterStore) *Builder {
	b.counters = s
	return b
}

// WithTokenStore injects a custom token store, overriding WithRedis for
// verification records.
func (b *Builder) WithTokenStore(s stores.TokenStore) *Builder {
	b.tokens = s
	return b
}

// WithIdentityProvider sets the identity collaborator used by the
// verification flows.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identity = p
	return b
}

// WithMailer sets the outbound mail collaborator.
func (b *Builder) WithMailer(m mail.Sender) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the audit destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the engine's time source. Test hook.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and assembles the Engine. A Builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	fillConfigDefaults(&b.config)
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	counters := b.counters
	if counters == nil {
		if b.redis != nil {
			counters = stores.NewRedisCounterStore(b.redis, "gsrl")
		} else {
			counters = stores.NewMemoryCounterStore(b.config.RateLimit.Window, now)
		}
	}

	tokens := b.tokens
	if tokens == nil {
		if b.redis != nil {
			tokens = stores.NewRedisTokenStore(b.redis, "gsvt")
		} else {
			tokens = stores.NewMemoryTokenStore(now)
		}
	}

	return &Engine{
		config:   b.config,
		counters: counters,
		tokens:   tokens,
		identity: b.identity,
		mailer:   b.mailer,
		audit:    newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:  newMetrics(b.config.Metrics),
		logger:   logger,
		now:      now,
	}, nil
}
