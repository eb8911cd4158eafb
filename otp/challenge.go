// Package otp implements the one-time-passcode challenge state machine used
// by the sign-in flows: Pending → Verified, with an attempt cap, a timed
// lockout, and a capped resend budget.
//
// A Challenge is client-side, cooperative state: it is driven by UI events
// on a single goroutine and is not safe for concurrent use. Both the resend
// cooldown and the lockout are deadlines compared against the injected
// clock, never armed timers, so there is no stale timer to fire after a
// newer state has superseded it, and the whole machine tests against
// clock.NewMock.
//
// Every branch is a tagged result ([SendResult], [VerifyResult]) rather than
// an error or an implicit fall-through, so callers handle each outcome
// exhaustively.
package otp

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/merchantsec/guardspan/internal"
)

// Phase is the challenge lifecycle state.
type Phase int

const (
	// PhaseNone means no code has been sent yet.
	PhaseNone Phase = iota
	// PhasePending means a code is out and awaiting verification.
	PhasePending
	// PhaseVerified is terminal success.
	PhaseVerified
	// PhaseLocked rejects all input until the lockout deadline, then
	// implicitly returns to Pending with attempts reset.
	PhaseLocked
)

// Config tunes a challenge. DefaultConfig gives the platform values.
type Config struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	MaxResends      int
	ResendCooldown  time.Duration
	Digits          int
	// ClearInput, when set, runs after every mismatch so the UI can empty
	// the code boxes and refocus the first one.
	ClearInput func()
}

// DefaultConfig returns the platform defaults: 3 attempts, 10 minute
// lockout, 3 resends, 60 second cooldown, 6-digit codes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		LockoutDuration: 10 * time.Minute,
		MaxResends:      3,
		ResendCooldown:  60 * time.Second,
		Digits:          6,
	}
}

// Sender delivers a code to an identifier (phone number, email). Delivery is
// fire-and-forget from the machine's perspective beyond the returned error.
type Sender interface {
	SendCode(ctx context.Context, identifier, code string) error
}

// SendStatus tags the outcome of Send.
type SendStatus int

const (
	// SendOK means a fresh code went out.
	SendOK SendStatus = iota
	// SendTooSoon means the resend cooldown has not elapsed. Retryable.
	SendTooSoon
	// SendResendLimitExceeded means the resend budget is spent. Terminal
	// for this challenge instance; the caller starts a new flow after an
	// out-of-band cooldown.
	SendResendLimitExceeded
	// SendDeliveryFailed means the sender collaborator errored. The resend
	// budget is not charged for a failed delivery.
	SendDeliveryFailed
)

// SendResult is the outcome of Send. RetryIn is set for SendTooSoon; Err for
// SendDeliveryFailed.
type SendResult struct {
	Status      SendStatus
	RetryIn     time.Duration
	ResendsLeft int
	Err         error
}

// VerifyStatus tags the outcome of Verify.
type VerifyStatus int

const (
	// VerifyMismatch is a wrong code with more than one attempt left.
	VerifyMismatch VerifyStatus = iota
	// VerifyLastAttempt is a wrong code with exactly one attempt left; the
	// UI shows a distinct warning.
	VerifyLastAttempt
	// VerifyLocked means the challenge is in lockout. The code is NOT
	// evaluated in this state, so response timing cannot leak whether the
	// lockout has lifted.
	VerifyLocked
	// VerifyOK is terminal success.
	VerifyOK
	// VerifyNoChallenge means Verify was called before any Send.
	VerifyNoChallenge
)

// VerifyResult is the outcome of Verify. AttemptsLeft accompanies mismatch
// outcomes; LockedUntil accompanies VerifyLocked.
type VerifyResult struct {
	Status       VerifyStatus
	AttemptsLeft int
	LockedUntil  time.Time
}

// Challenge is the per-identifier OTP state machine.
type Challenge struct {
	cfg        Config
	clk        clock.Clock
	sender     Sender
	identifier string

	phase         Phase
	code          string
	attempts      int
	resendCount   int
	cooldownUntil time.Time
	lockoutUntil  time.Time
}

// NewChallenge creates a challenge for identifier. A nil clk uses the real
// clock; zero config fields fall back to DefaultConfig values.
func NewChallenge(identifier string, cfg Config, sender Sender, clk clock.Clock) *Challenge {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = def.LockoutDuration
	}
	if cfg.MaxResends <= 0 {
		cfg.MaxResends = def.MaxResends
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = def.ResendCooldown
	}
	if cfg.Digits <= 0 {
		cfg.Digits = def.Digits
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Challenge{
		cfg:        cfg,
		clk:        clk,
		sender:     sender,
		identifier: identifier,
	}
}

// Phase reports the current lifecycle state, folding an elapsed lockout back
// to Pending.
func (c *Challenge) Phase() Phase {
	if c.phase == PhaseLocked && !c.clk.Now().Before(c.lockoutUntil) {
		return PhasePending
	}
	return c.phase
}

// Send delivers a fresh code, charging the resend budget and starting the
// cooldown. Attempts reset on every successful send.
func (c *Challenge) Send(ctx context.Context) SendResult {
	if c.resendCount >= c.cfg.MaxResends {
		return SendResult{Status: SendResendLimitExceeded}
	}

	now := c.clk.Now()
	if now.Before(c.cooldownUntil) {
		return SendResult{
			Status:      SendTooSoon,
			RetryIn:     c.cooldownUntil.Sub(now),
			ResendsLeft: c.cfg.MaxResends - c.resendCount,
		}
	}

	code, err := internal.NewOTP(c.cfg.Digits)
	if err != nil {
		return SendResult{Status: SendDeliveryFailed, Err: err}
	}
	if err := c.sender.SendCode(ctx, c.identifier, code); err != nil {
		return SendResult{Status: SendDeliveryFailed, Err: err}
	}

	c.code = code
	c.resendCount++
	c.attempts = 0
	c.cooldownUntil = now.Add(c.cfg.ResendCooldown)
	c.phase = PhasePending

	return SendResult{
		Status:      SendOK,
		ResendsLeft: c.cfg.MaxResends - c.resendCount,
	}
}

// Verify checks a submitted code. While locked it rejects unconditionally
// before touching the code; once the lockout deadline passes the attempt
// counter starts fresh.
func (c *Challenge) Verify(code string) VerifyResult {
	if c.phase == PhaseNone {
		return VerifyResult{Status: VerifyNoChallenge}
	}
	// Verified is terminal: late submissions must not charge attempts or
	// lock a challenge that already succeeded.
	if c.phase == PhaseVerified {
		return VerifyResult{Status: VerifyOK}
	}

	now := c.clk.Now()
	if c.phase == PhaseLocked {
		if now.Before(c.lockoutUntil) {
			return VerifyResult{Status: VerifyLocked, LockedUntil: c.lockoutUntil}
		}
		c.phase = PhasePending
		c.attempts = 0
		c.lockoutUntil = time.Time{}
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(c.code)) == 1 {
		c.phase = PhaseVerified
		c.attempts = 0
		return VerifyResult{Status: VerifyOK}
	}

	c.attempts++
	if c.cfg.ClearInput != nil {
		c.cfg.ClearInput()
	}

	switch {
	case c.attempts >= c.cfg.MaxAttempts:
		c.phase = PhaseLocked
		c.lockoutUntil = now.Add(c.cfg.LockoutDuration)
		return VerifyResult{Status: VerifyLocked, LockedUntil: c.lockoutUntil}
	case c.attempts == c.cfg.MaxAttempts-1:
		return VerifyResult{Status: VerifyLastAttempt, AttemptsLeft: 1}
	default:
		return VerifyResult{
			Status:       VerifyMismatch,
			AttemptsLeft: c.cfg.MaxAttempts - c.attempts,
		}
	}
}

// ResendsLeft reports the remaining resend budget.
func (c *Challenge) ResendsLeft() int {
	left := c.cfg.MaxResends - c.resendCount
	if left < 0 {
		return 0
	}
	return left
}
