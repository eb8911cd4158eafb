package guardspan

import (
	"context"
	"time"
)

// Identity is the authenticated caller attached to a request, when present.
// Either field may be empty for anonymous traffic.
type Identity struct {
	TenantID string
	UserID   string
}

// Decision is the outcome of a rate-limit admission check. Limit, Remaining
// and ResetAt are populated on every call so the HTTP boundary can annotate
// allowed and rejected responses alike; RetryAfter is meaningful only when
// Allowed is false.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// TokenKind distinguishes the two verification flows that share the token
// store. At most one live token exists per (owner, kind) pair.
type TokenKind uint8

const (
	// KindVerification is an initial email-ownership verification token.
	KindVerification TokenKind = iota
	// KindEmailChange is a token confirming a change to a new address.
	KindEmailChange
)

// String returns the wire name of the kind.
func (k TokenKind) String() string {
	switch k {
	case KindVerification:
		return "verification"
	case KindEmailChange:
		return "email_change"
	}
	return "unknown"
}

// Confirmation is the result of consuming a verification token.
type Confirmation struct {
	OwnerID      string
	SubjectEmail string
	Kind         TokenKind
}

// Owner is the identity collaborator's view of an account.
type Owner struct {
	OwnerID       string
	Email         string
	EmailVerified bool
}

// IdentityProvider is the external identity collaborator. The engine treats
// it as best-effort on the confirmation path: failures are logged and the
// local state transition still commits, to be reconciled out-of-band.
type IdentityProvider interface {
	// EmailTaken reports whether email is already associated with an account
	// other than excludeOwnerID.
	EmailTaken(ctx context.Context, email, excludeOwnerID string) (bool, error)
	// UpdateOwnerEmail persists the now-verified email against the owner.
	UpdateOwnerEmail(ctx context.Context, ownerID, email string) error
	// Owner returns the current account state for ownerID.
	Owner(ctx context.Context, ownerID string) (Owner, error)
}
