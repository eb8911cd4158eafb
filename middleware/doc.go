// Package middleware exposes HTTP adapters that sit in front of
// guardspan.Engine: caller identification and per-caller admission.
//
// # Adapters
//
//   - [Identity] — reads the Authorization bearer token, extracts the
//     tenant and user claims, and attaches them to the request context.
//   - [RateLimit] — calls Engine.Admit for each request and translates the
//     decision into X-RateLimit-* headers and 429 responses.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// make admission decisions itself; the Engine owns the counters.
//
// # What this package must NOT do
//
//   - Verify token signatures against an identity provider's full policy
//     (audience, issuer rotation); it extracts claims for keying only.
//   - Access the counter store directly (Engine handles I/O).
//   - Reject unauthenticated requests: a missing or malformed token
//     downgrades the caller to the anonymous bucket, it does not 401.
package middleware
