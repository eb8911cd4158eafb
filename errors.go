package guardspan

import "errors"

var (
	// ErrRateLimited indicates the caller exhausted its window quota.
	// Retryable after the Decision's RetryAfter has elapsed.
	ErrRateLimited = errors.New("rate limited")
	// ErrTokenNotFound indicates an unknown, already-consumed, or superseded
	// verification token. Terminal for that token; the flow must restart.
	ErrTokenNotFound = errors.New("verification token not found")
	// ErrTokenExpired indicates the token existed but its deadline had
	// passed. The record is deleted before this error is returned.
	ErrTokenExpired = errors.New("verification token expired")
	// ErrEmailConflict indicates the requested email is already claimed by a
	// different owner, either in the identity backend or by a pending
	// verification. Terminal; the user must pick another address.
	ErrEmailConflict = errors.New("email already in use")
	// ErrStoreUnavailable wraps backend failures from the counter or token
	// store.
	ErrStoreUnavailable = errors.New("state store unavailable")
	// ErrEngineNotReady indicates a method was called on an Engine missing a
	// required dependency.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidInput indicates an empty or malformed argument.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConfigInvalid is returned by Build when the configuration fails
	// validation.
	ErrConfigInvalid = errors.New("invalid configuration")
)
