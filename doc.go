// Package guardspan provides the time-bounded security-state engine for a
// multi-tenant commerce platform: fixed-window request rate limiting,
// single-use email verification and email-change tokens with supersession,
// and the shared plumbing (audit, metrics, key derivation) those mechanisms
// need. The client-side companions, the OTP challenge state machine and the
// idle-session monitor, live in the otp and idle sub-packages.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// guardspan is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (Decision, Confirmation, MetricsSnapshot). Store
// implementations (the in-memory maps used by a single-process deployment
// and their Redis-backed equivalents) live under internal/stores behind the
// CounterStore and TokenStore interfaces, so call sites never change when the
// backing store does.
//
// # What this package must NOT do
//
//   - Render UI or speak SMTP. Mail delivery goes through the mail
//     sub-package's Sender interface; HTTP handling lives in middleware and
//     web.
//   - Store user identities or hash passwords. Identity lookups go through
//     the [IdentityProvider] collaborator.
//   - Expose Redis clients or store internals in its public API.
package guardspan
