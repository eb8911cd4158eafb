// Package web serves the browser-facing confirmation endpoint that
// verification and email-change links point at. It consumes the token
// through guardspan.Engine and renders a small status page that forwards
// the user back into the frontend.
//
// # Architecture boundaries
//
// This package owns HTTP status mapping and HTML rendering only. Token
// semantics (single use, expiry, supersession) live in the Engine.
//
// # What this package must NOT do
//
//   - Touch the token store directly.
//   - Redirect to caller-supplied absolute URLs. return_to is reduced to a
//     path and resolved against the configured frontend origin, so a
//     crafted link cannot bounce the user to an attacker's site.
package web
