package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type captureSender struct {
	identifier string
	codes      []string
	err        error
}

func (s *captureSender) SendCode(_ context.Context, identifier, code string) error {
	if s.err != nil {
		return s.err
	}
	s.identifier = identifier
	s.codes = append(s.codes, code)
	return nil
}

func (s *captureSender) lastCode() string {
	if len(s.codes) == 0 {
		return ""
	}
	return s.codes[len(s.codes)-1]
}

func wrongCode(right string) string {
	if right == "0000" {
		return "9999"
	}
	return "0000"
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Digits = 4
	return cfg
}

func newTestChallenge(t *testing.T) (*Challenge, *captureSender, *clock.Mock) {
	t.Helper()

	sender := &captureSender{}
	mock := clock.NewMock()
	c := NewChallenge("+15551234567", testConfig(), sender, mock)

	if res := c.Send(context.Background()); res.Status != SendOK {
		t.Fatalf("initial Send status = %v, want SendOK", res.Status)
	}
	return c, sender, mock
}

func TestVerifyNoChallenge(t *testing.T) {
	c := NewChallenge("+15551234567", testConfig(), &captureSender{}, clock.NewMock())
	if res := c.Verify("1234"); res.Status != VerifyNoChallenge {
		t.Fatalf("status = %v, want VerifyNoChallenge", res.Status)
	}
}

func TestVerifyCorrectCode(t *testing.T) {
	c, sender, _ := newTestChallenge(t)

	res := c.Verify(sender.lastCode())
	if res.Status != VerifyOK {
		t.Fatalf("status = %v, want VerifyOK", res.Status)
	}
	if c.Phase() != PhaseVerified {
		t.Fatalf("phase = %v, want PhaseVerified", c.Phase())
	}
}

func TestVerifiedIsTerminal(t *testing.T) {
	cleared := 0
	cfg := testConfig()
	cfg.ClearInput = func() { cleared++ }

	sender := &captureSender{}
	c := NewChallenge("+15551234567", cfg, sender, clock.NewMock())
	if res := c.Send(context.Background()); res.Status != SendOK {
		t.Fatalf("Send = %+v, want SendOK", res)
	}
	if res := c.Verify(sender.lastCode()); res.Status != VerifyOK {
		t.Fatalf("verify = %+v, want VerifyOK", res)
	}

	// Late submissions after success neither charge attempts nor lock the
	// challenge, wrong code or not.
	wrong := wrongCode(sender.lastCode())
	for i := 0; i < 4; i++ {
		if res := c.Verify(wrong); res.Status != VerifyOK {
			t.Fatalf("post-success submission %d = %+v, want VerifyOK", i+1, res)
		}
	}
	if c.Phase() != PhaseVerified {
		t.Fatalf("phase = %v, want PhaseVerified", c.Phase())
	}
	if cleared != 0 {
		t.Fatalf("ClearInput fired %d times after success, want 0", cleared)
	}
}

func TestLockoutDeterminism(t *testing.T) {
	c, sender, mock := newTestChallenge(t)
	wrong := wrongCode(sender.lastCode())

	// Three consecutive wrong submissions: mismatch, last-attempt warning,
	// lockout.
	if res := c.Verify(wrong); res.Status != VerifyMismatch || res.AttemptsLeft != 2 {
		t.Fatalf("attempt 1 = %+v, want mismatch with 2 left", res)
	}
	if res := c.Verify(wrong); res.Status != VerifyLastAttempt {
		t.Fatalf("attempt 2 = %+v, want last-attempt warning", res)
	}
	res := c.Verify(wrong)
	if res.Status != VerifyLocked {
		t.Fatalf("attempt 3 = %+v, want lockout", res)
	}
	wantUntil := mock.Now().Add(10 * time.Minute)
	if !res.LockedUntil.Equal(wantUntil) {
		t.Fatalf("LockedUntil = %v, want %v", res.LockedUntil, wantUntil)
	}

	// The correct code is rejected while locked.
	if res := c.Verify(sender.lastCode()); res.Status != VerifyLocked {
		t.Fatalf("correct code while locked = %+v, want VerifyLocked", res)
	}

	// After the lockout elapses the correct code succeeds with attempts
	// reset.
	mock.Add(10 * time.Minute)
	if res := c.Verify(sender.lastCode()); res.Status != VerifyOK {
		t.Fatalf("post-lockout verify = %+v, want VerifyOK", res)
	}
}

func TestLockoutLiftGivesFreshAttempts(t *testing.T) {
	c, sender, mock := newTestChallenge(t)
	wrong := wrongCode(sender.lastCode())

	for i := 0; i < 3; i++ {
		c.Verify(wrong)
	}
	mock.Add(10 * time.Minute)

	// First wrong attempt after the lift counts from zero again.
	if res := c.Verify(wrong); res.Status != VerifyMismatch || res.AttemptsLeft != 2 {
		t.Fatalf("post-lift attempt = %+v, want mismatch with 2 left", res)
	}
}

func TestResendCooldown(t *testing.T) {
	c, _, mock := newTestChallenge(t)
	ctx := context.Background()

	res := c.Send(ctx)
	if res.Status != SendTooSoon {
		t.Fatalf("immediate resend = %+v, want SendTooSoon", res)
	}
	if res.RetryIn <= 0 || res.RetryIn > 60*time.Second {
		t.Fatalf("RetryIn = %v, want within cooldown", res.RetryIn)
	}

	mock.Add(60 * time.Second)
	if res := c.Send(ctx); res.Status != SendOK {
		t.Fatalf("post-cooldown resend = %+v, want SendOK", res)
	}
}

func TestResendCap(t *testing.T) {
	c, _, mock := newTestChallenge(t)
	ctx := context.Background()

	// Budget is 3 and the initial send spent one.
	for i := 0; i < 2; i++ {
		mock.Add(60 * time.Second)
		if res := c.Send(ctx); res.Status != SendOK {
			t.Fatalf("resend %d = %+v, want SendOK", i+1, res)
		}
	}

	mock.Add(60 * time.Second)
	if res := c.Send(ctx); res.Status != SendResendLimitExceeded {
		t.Fatalf("over-budget resend = %+v, want SendResendLimitExceeded", res)
	}

	// The cap holds no matter how long the caller waits.
	mock.Add(time.Hour)
	if res := c.Send(ctx); res.Status != SendResendLimitExceeded {
		t.Fatalf("late resend = %+v, want SendResendLimitExceeded", res)
	}
}

func TestResendResetsAttempts(t *testing.T) {
	c, sender, mock := newTestChallenge(t)
	wrong := wrongCode(sender.lastCode())

	c.Verify(wrong)
	c.Verify(wrong)

	mock.Add(60 * time.Second)
	if res := c.Send(context.Background()); res.Status != SendOK {
		t.Fatalf("resend = %+v, want SendOK", res)
	}

	// Fresh code, fresh attempt budget.
	if res := c.Verify(wrongCode(sender.lastCode())); res.Status != VerifyMismatch || res.AttemptsLeft != 2 {
		t.Fatalf("post-resend attempt = %+v, want mismatch with 2 left", res)
	}
}

func TestDeliveryFailureDoesNotChargeBudget(t *testing.T) {
	sender := &captureSender{}
	mock := clock.NewMock()
	c := NewChallenge("+15551234567", testConfig(), sender, mock)

	sender.err = errors.New("sms gateway down")
	if res := c.Send(context.Background()); res.Status != SendDeliveryFailed || res.Err == nil {
		t.Fatalf("failed send = %+v, want SendDeliveryFailed", res)
	}
	if c.ResendsLeft() != 3 {
		t.Fatalf("ResendsLeft = %d after failed delivery, want 3", c.ResendsLeft())
	}

	sender.err = nil
	if res := c.Send(context.Background()); res.Status != SendOK {
		t.Fatalf("retry send = %+v, want SendOK", res)
	}
}

func TestClearInputFiresOnEveryMismatch(t *testing.T) {
	cleared := 0
	cfg := testConfig()
	cfg.ClearInput = func() { cleared++ }

	sender := &captureSender{}
	c := NewChallenge("+15551234567", cfg, sender, clock.NewMock())
	if res := c.Send(context.Background()); res.Status != SendOK {
		t.Fatalf("Send = %+v, want SendOK", res)
	}

	wrong := wrongCode(sender.lastCode())
	c.Verify(wrong)
	c.Verify(wrong)
	c.Verify(wrong)

	if cleared != 3 {
		t.Fatalf("ClearInput fired %d times, want 3", cleared)
	}
}

func TestScenarioEndToEnd(t *testing.T) {
	// Identifier +15551234567, three wrong submissions, then the correct
	// code rejected while locked, then accepted after the lockout window.
	sender := &captureSender{}
	mock := clock.NewMock()
	c := NewChallenge("+15551234567", testConfig(), sender, mock)

	if res := c.Send(context.Background()); res.Status != SendOK {
		t.Fatalf("Send = %+v", res)
	}
	if sender.identifier != "+15551234567" {
		t.Fatalf("sender saw identifier %q", sender.identifier)
	}
	code := sender.lastCode()
	wrong := wrongCode(code)

	var res VerifyResult
	for i := 0; i < 3; i++ {
		res = c.Verify(wrong)
	}
	if res.Status != VerifyLocked {
		t.Fatalf("third submission = %+v, want lockout", res)
	}
	if got := res.LockedUntil.Sub(mock.Now()); got != 10*time.Minute {
		t.Fatalf("lockout window = %v, want 10m", got)
	}

	if res := c.Verify(code); res.Status != VerifyLocked {
		t.Fatalf("correct code while locked = %+v", res)
	}

	mock.Add(600 * time.Second)
	if res := c.Verify(code); res.Status != VerifyOK {
		t.Fatalf("post-lockout correct code = %+v, want VerifyOK", res)
	}
}
