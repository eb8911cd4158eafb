package guardspan

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/merchantsec/guardspan/internal"
	"github.com/merchantsec/guardspan/internal/stores"
	"github.com/merchantsec/guardspan/mail"
	"go.uber.org/zap"
)

const (
	templateVerifyEmail = "verify_email"
	templateChangeEmail = "change_email"
)

// RequestVerification issues a fresh email-ownership token for ownerID and
// dispatches the verification mail. Any prior live verification token for
// the owner is superseded, never stacked, so exactly one link can succeed.
// The mail send is best-effort: a failure is logged and the token kept,
// since Resend is the recovery path.
func (e *Engine) RequestVerification(ctx context.Context, ownerID, email, tenantID string) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	if ownerID == "" || email == "" {
		return "", fmt.Errorf("%w: owner id and email required", ErrInvalidInput)
	}

	return e.issueToken(ctx, ownerID, KindVerification, email, tenantID)
}

// ConfirmVerification consumes a token: the record is deleted the instant it
// matches, so a second confirm of the same link fails with
// [ErrTokenNotFound]. On success the identity collaborator is notified of
// the now-verified address; a failure there is logged and does not roll back
// the consumption. Confirmation is the source of truth and propagation is
// reconciled out-of-band.
func (e *Engine) ConfirmVerification(ctx context.Context, token string) (Confirmation, error) {
	if e == nil || e.tokens == nil {
		return Confirmation{}, ErrEngineNotReady
	}
	if token == "" {
		return Confirmation{}, fmt.Errorf("%w: empty token", ErrInvalidInput)
	}

	rec, err := e.tokens.Consume(ctx, token)
	if err != nil {
		mapped := mapTokenStoreError(err)
		switch {
		case errors.Is(mapped, ErrTokenNotFound):
			e.metricInc(MetricTokenNotFound)
			e.emitAudit(ctx, auditEventTokenConsumed, false, "", "", mapped, nil)
		case errors.Is(mapped, ErrTokenExpired):
			e.metricInc(MetricTokenExpired)
			e.emitAudit(ctx, auditEventTokenExpired, false, "", "", mapped, nil)
		}
		return Confirmation{}, mapped
	}

	conf := Confirmation{
		OwnerID:      rec.OwnerID,
		SubjectEmail: rec.SubjectEmail,
		Kind:         TokenKind(rec.Kind),
	}

	if e.identity != nil {
		if err := e.identity.UpdateOwnerEmail(ctx, conf.OwnerID, conf.SubjectEmail); err != nil {
			e.metricInc(MetricIdentityNotifyFailure)
			e.logger.Error("identity update failed after confirmation, reconcile out-of-band",
				zap.String("owner_id", conf.OwnerID),
				zap.String("kind", conf.Kind.String()),
				zap.Error(err),
			)
		}
	}

	e.metricInc(MetricTokenConsumed)
	e.emitAudit(ctx, auditEventTokenConsumed, true, conf.OwnerID, rec.TenantID, nil, map[string]string{
		"kind": conf.Kind.String(),
	})
	return conf, nil
}

// ResendVerification re-sends the owner's live token for email. The token is
// deliberately NOT reissued: a user who clicked the original link seconds
// earlier in another tab must not find it invalidated by the resend.
func (e *Engine) ResendVerification(ctx context.Context, ownerID, email string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	if ownerID == "" || email == "" {
		return fmt.Errorf("%w: owner id and email required", ErrInvalidInput)
	}

	// Both kinds can be live at once (a pending verification on the old
	// address alongside a pending change to a new one), so the match is on
	// subject email across both, not on kind order.
	var (
		match      *stores.TokenRecord
		sawExpired bool
		sawLive    bool
	)
	for _, kind := range []TokenKind{KindVerification, KindEmailChange} {
		rec, err := e.tokens.GetByOwner(ctx, ownerID, uint8(kind))
		switch {
		case err == nil:
			sawLive = true
			if match == nil && rec.SubjectEmail == email {
				match = rec
			}
		case errors.Is(err, stores.ErrTokenExpired):
			sawExpired = true
		case errors.Is(err, stores.ErrTokenNotFound):
		default:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if match == nil {
		switch {
		case sawExpired:
			e.metricInc(MetricTokenExpired)
			e.emitAudit(ctx, auditEventTokenResent, false, ownerID, "", ErrTokenExpired, nil)
			return ErrTokenExpired
		case sawLive:
			e.emitAudit(ctx, auditEventTokenResent, false, ownerID, "", ErrTokenNotFound, map[string]string{
				"reason": "subject_mismatch",
			})
			return ErrTokenNotFound
		default:
			e.emitAudit(ctx, auditEventTokenResent, false, ownerID, "", ErrTokenNotFound, nil)
			return ErrTokenNotFound
		}
	}

	e.dispatchTokenMail(ctx, TokenKind(match.Kind), match.SubjectEmail, match.Token)
	e.metricInc(MetricTokenResent)
	e.emitAudit(ctx, auditEventTokenResent, true, ownerID, match.TenantID, nil, map[string]string{
		"kind": TokenKind(match.Kind).String(),
	})
	return nil
}

// ChangeEmail starts an email change for ownerID. Two collision checks must
// pass first: the identity backend must not know newEmail under another
// account, and no other owner may hold a live verification on it. A network
// failure during the identity check is logged and tolerated, since a final
// uniqueness constraint exists downstream, but a positive answer is a hard
// [ErrEmailConflict]. Any prior pending change for this owner is superseded.
func (e *Engine) ChangeEmail(ctx context.Context, ownerID, newEmail, tenantID string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	if ownerID == "" || newEmail == "" {
		return fmt.Errorf("%w: owner id and email required", ErrInvalidInput)
	}

	if e.identity != nil {
		taken, err := e.identity.EmailTaken(ctx, newEmail, ownerID)
		if err != nil {
			e.logger.Warn("email-taken pre-check unavailable, proceeding",
				zap.String("owner_id", ownerID),
				zap.Error(err),
			)
		} else if taken {
			e.metricInc(MetricEmailConflict)
			e.emitAudit(ctx, auditEventEmailConflict, false, ownerID, tenantID, ErrEmailConflict, map[string]string{
				"source": "identity",
			})
			return ErrEmailConflict
		}
	}

	live, err := e.tokens.LiveBySubject(ctx, newEmail)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, rec := range live {
		if rec.OwnerID != ownerID {
			e.metricInc(MetricEmailConflict)
			e.emitAudit(ctx, auditEventEmailConflict, false, ownerID, tenantID, ErrEmailConflict, map[string]string{
				"source": "pending_verification",
			})
			return ErrEmailConflict
		}
	}

	_, err = e.issueToken(ctx, ownerID, KindEmailChange, newEmail, tenantID)
	return err
}

func (e *Engine) issueToken(ctx context.Context, ownerID string, kind TokenKind, email, tenantID string) (string, error) {
	token, err := internal.NewToken()
	if err != nil {
		return "", fmt.Errorf("token generation: %w", err)
	}

	now := e.now()
	rec := stores.TokenRecord{
		Token:        token,
		OwnerID:      ownerID,
		TenantID:     tenantID,
		SubjectEmail: email,
		Kind:         uint8(kind),
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(e.config.Token.TTL).Unix(),
	}

	superseded, err := e.tokens.Put(ctx, rec, e.config.Token.TTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if superseded {
		e.metricInc(MetricTokenSuperseded)
		e.emitAudit(ctx, auditEventTokenSuperseded, true, ownerID, tenantID, nil, map[string]string{
			"kind": kind.String(),
		})
	}

	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, ownerID, tenantID, nil, map[string]string{
		"kind": kind.String(),
	})

	e.dispatchTokenMail(ctx, kind, email, token)
	return token, nil
}

func (e *Engine) dispatchTokenMail(ctx context.Context, kind TokenKind, email, token string) {
	if e.mailer == nil {
		return
	}

	template := templateVerifyEmail
	subject := "Verify your email address"
	if kind == KindEmailChange {
		template = templateChangeEmail
		subject = "Confirm your new email address"
	}

	msg := mail.Message{
		To:       email,
		Subject:  subject,
		Template: template,
		Data: map[string]string{
			"verifyUrl":   e.verifyURL(token),
			"expiryHours": strconv.Itoa(int(e.config.Token.TTL.Hours())),
			"email":       email,
		},
	}

	if _, err := e.mailer.Send(ctx, msg); err != nil {
		e.metricInc(MetricMailSendFailure)
		e.logger.Error("verification mail send failed, token kept for resend",
			zap.String("template", template),
			zap.Error(err),
		)
	}
}

func (e *Engine) verifyURL(token string) string {
	base := e.config.Token.VerifyURLBase
	if base == "" {
		return ""
	}
	return base + "?token=" + url.QueryEscape(token)
}

func mapTokenStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrTokenNotFound):
		return ErrTokenNotFound
	case errors.Is(err, stores.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
