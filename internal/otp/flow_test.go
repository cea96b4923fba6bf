package otp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthport/healthport/internal/identity"
)

type fakeProvider struct {
	sendCalls   int
	sendErr     error
	verifyErr   error
	lastPhone   string
	lastCode    string
	sessionUser uuid.UUID
}

func (p *fakeProvider) SendCode(_ context.Context, phone string) error {
	p.sendCalls++
	p.lastPhone = phone
	return p.sendErr
}

func (p *fakeProvider) Verify(_ context.Context, phone, code string) (*identity.Session, error) {
	p.lastPhone = phone
	p.lastCode = code
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	return &identity.Session{
		AccessToken: "token-" + code,
		UserID:      p.sessionUser,
		Phone:       phone,
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

type fakeReconciler struct {
	userID uuid.UUID
	phone  string
	err    error
}

func (r *fakeReconciler) ReconcilePhone(_ context.Context, userID uuid.UUID, phone string) error {
	r.userID = userID
	r.phone = phone
	return r.err
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestFlow(provider *fakeProvider, profiles *fakeReconciler) (*Flow, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	f := NewFlow(provider, profiles, 60*time.Second)
	f.SetClock(clock.now)
	return f, clock
}

func TestFlow_SendCodeHappyPath(t *testing.T) {
	provider := &fakeProvider{}
	f, _ := newTestFlow(provider, nil)

	if err := f.SendCode(context.Background(), "0612345678", "+31"); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	if f.State() != StateCodeSent {
		t.Errorf("state = %s, want code_sent", f.State())
	}
	if provider.lastPhone != "+31612345678" {
		t.Errorf("provider phone = %q, want normalized", provider.lastPhone)
	}
}

func TestFlow_SendCodeValidationSkipsProvider(t *testing.T) {
	provider := &fakeProvider{}
	f, _ := newTestFlow(provider, nil)

	if err := f.SendCode(context.Background(), "123", "+31"); err == nil {
		t.Fatal("expected validation error")
	}
	if provider.sendCalls != 0 {
		t.Error("validation failure must not call the provider")
	}
	if f.State() != StateEnteringPhone {
		t.Errorf("state = %s, want entering_phone", f.State())
	}
}

func TestFlow_SendFailureReturnsToEnteringPhone(t *testing.T) {
	provider := &fakeProvider{sendErr: fmt.Errorf("gateway down")}
	f, _ := newTestFlow(provider, nil)

	if err := f.SendCode(context.Background(), "0612345678", "+31"); err == nil {
		t.Fatal("expected send error")
	}
	if f.State() != StateEnteringPhone {
		t.Errorf("state = %s, want entering_phone", f.State())
	}
}

func TestFlow_ResendCooldown(t *testing.T) {
	provider := &fakeProvider{}
	f, clock := newTestFlow(provider, nil)
	ctx := context.Background()

	if err := f.SendCode(ctx, "0612345678", "+31"); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	if provider.sendCalls != 1 {
		t.Fatalf("sendCalls = %d", provider.sendCalls)
	}

	// Before the cooldown elapses: no-op, no provider call.
	clock.advance(59 * time.Second)
	if err := f.Resend(ctx); err != ErrCooldown {
		t.Fatalf("Resend before cooldown: err = %v, want ErrCooldown", err)
	}
	if provider.sendCalls != 1 {
		t.Errorf("provider called during cooldown, sendCalls = %d", provider.sendCalls)
	}

	// After the cooldown: resend succeeds and resets the window.
	clock.advance(2 * time.Second)
	if err := f.Resend(ctx); err != nil {
		t.Fatalf("Resend after cooldown: %v", err)
	}
	if provider.sendCalls != 2 {
		t.Errorf("sendCalls = %d, want 2", provider.sendCalls)
	}
	if err := f.Resend(ctx); err != ErrCooldown {
		t.Error("cooldown not reset after resend")
	}
	if remaining := f.CooldownRemaining(); remaining != 60*time.Second {
		t.Errorf("CooldownRemaining = %v, want 60s", remaining)
	}
}

func TestFlow_VerifyHappyPath(t *testing.T) {
	userID := uuid.New()
	provider := &fakeProvider{sessionUser: userID}
	profiles := &fakeReconciler{}
	f, _ := newTestFlow(provider, profiles)
	ctx := context.Background()

	f.SendCode(ctx, "0612345678", "+31")
	session, err := f.Verify(ctx, "123456")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if f.State() != StateAuthenticated {
		t.Errorf("state = %s, want authenticated", f.State())
	}
	if session.UserID != userID {
		t.Error("wrong session user")
	}

	// The verified phone is written to the profile.
	if profiles.userID != userID || profiles.phone != "+31612345678" {
		t.Errorf("reconciled (%s, %q)", profiles.userID, profiles.phone)
	}
}

func TestFlow_VerifyWrongLengthIsLocal(t *testing.T) {
	provider := &fakeProvider{}
	f, _ := newTestFlow(provider, nil)
	ctx := context.Background()

	f.SendCode(ctx, "0612345678", "+31")
	if _, err := f.Verify(ctx, "123"); err == nil {
		t.Fatal("expected length validation error")
	}
	if provider.lastCode != "" {
		t.Error("short code must not reach the provider")
	}
	if f.State() != StateVerifying {
		t.Errorf("state = %s, want verifying", f.State())
	}
}

func TestFlow_VerifyInvalidCodeStaysVerifying(t *testing.T) {
	provider := &fakeProvider{verifyErr: identity.ErrCodeInvalid}
	f, _ := newTestFlow(provider, nil)
	ctx := context.Background()

	f.SendCode(ctx, "0612345678", "+31")
	if _, err := f.Verify(ctx, "000000"); err != identity.ErrCodeInvalid {
		t.Fatalf("err = %v, want ErrCodeInvalid", err)
	}
	if f.State() != StateVerifying {
		t.Errorf("state = %s, want verifying", f.State())
	}

	// "Change phone number" is the way out.
	f.ChangeNumber()
	if f.State() != StateEnteringPhone {
		t.Errorf("state after ChangeNumber = %s", f.State())
	}
	if f.Phone() != "" {
		t.Error("phone not cleared")
	}
}

func TestFlow_ReconcileFailureKeepsSession(t *testing.T) {
	provider := &fakeProvider{sessionUser: uuid.New()}
	profiles := &fakeReconciler{err: fmt.Errorf("profile store down")}
	f, _ := newTestFlow(provider, profiles)
	ctx := context.Background()

	f.SendCode(ctx, "0612345678", "+31")
	session, err := f.Verify(ctx, "123456")
	if err == nil {
		t.Fatal("expected reconciliation error to surface")
	}
	if session == nil {
		t.Fatal("authentication must survive reconciliation failure")
	}
	if f.State() != StateAuthenticated {
		t.Errorf("state = %s, want authenticated", f.State())
	}
}

func TestDistributeDigits(t *testing.T) {
	got := DistributeDigits("123456", 0, 6)
	want := []string{"1", "2", "3", "4", "5", "6"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DistributeDigits = %v, want %v", got, want)
		}
	}

	// Paste into the middle: remaining cells only.
	got = DistributeDigits("9876", 4, 6)
	if got[4] != "9" || got[5] != "8" {
		t.Errorf("partial paste = %v", got)
	}

	// Non-digits are dropped.
	got = DistributeDigits("1a2b3c", 0, 6)
	if got[0] != "1" || got[1] != "2" || got[2] != "3" || got[3] != "" {
		t.Errorf("filtered paste = %v", got)
	}
}
