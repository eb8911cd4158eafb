// Package stores contains the backing stores for the security-state engine:
// keyed fixed-window counters and single-use verification token records.
//
// Each store is an interface with two implementations. The memory variants
// are correct for a single-process deployment and guard every
// read-modify-write with a mutex so two racing callers can never both
// observe an under-limit count. The Redis variants move the same atomicity
// onto the backend (INCR, WATCH/MULTI) and are the path to horizontal
// scaling without touching call sites.
//
// # What this package must NOT do
//
//   - Implement admission policy (thresholds, key derivation — those live in
//     the root package).
//   - Be imported outside the guardspan module.
package stores
