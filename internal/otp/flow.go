// Package otp implements the phone sign-in flow as an explicit state
// machine: EnteringPhone → CodeSent → Verifying → Authenticated.
package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthport/healthport/internal/identity"
)

// State is the sign-in flow state. Transitions out of each state are fixed;
// illegal combinations (a cooldown without a sent code) are unrepresentable.
type State int

const (
	StateEnteringPhone State = iota
	StateCodeSent
	StateVerifying
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateEnteringPhone:
		return "entering_phone"
	case StateCodeSent:
		return "code_sent"
	case StateVerifying:
		return "verifying"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

var (
	// ErrCooldown: a resend was attempted before the cooldown elapsed. The
	// provider is not called.
	ErrCooldown = errors.New("resend cooldown active")
	// ErrBusy: a send or verify is already in flight.
	ErrBusy = errors.New("operation already in flight")
	// ErrBadState: the operation is not legal in the current state.
	ErrBadState = errors.New("operation not valid in current state")
)

// codeSender is the slice of the identity provider the flow drives.
type codeSender interface {
	SendCode(ctx context.Context, phone string) error
	Verify(ctx context.Context, phone, code string) (*identity.Session, error)
}

// profileReconciler writes the verified phone into the profile record, since
// reports may have been pre-associated with a bare phone number before the
// patient ever created an account.
type profileReconciler interface {
	ReconcilePhone(ctx context.Context, userID uuid.UUID, phone string) error
}

// Flow drives one user's OTP sign-in. Safe for concurrent use; duplicate
// submissions while a call is in flight are rejected with ErrBusy.
type Flow struct {
	provider codeSender
	profiles profileReconciler
	cooldown time.Duration
	now      func() time.Time

	mu            sync.Mutex
	state         State
	phone         string
	cooldownUntil time.Time
	inflight      bool
	session       *identity.Session
}

func NewFlow(provider codeSender, profiles profileReconciler, cooldown time.Duration) *Flow {
	return &Flow{
		provider: provider,
		profiles: profiles,
		cooldown: cooldown,
		now:      time.Now,
		state:    StateEnteringPhone,
	}
}

// SetClock overrides the time source. Tests only.
func (f *Flow) SetClock(now func() time.Time) { f.now = now }

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Phone returns the normalized number the flow is operating on.
func (f *Flow) Phone() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phone
}

// Session returns the established session, non-nil only once Authenticated.
func (f *Flow) Session() *identity.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// CooldownRemaining reports how long until a resend is allowed.
func (f *Flow) CooldownRemaining() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	remaining := f.cooldownUntil.Sub(f.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SendCode normalizes and validates the number, then requests a one-time
// code. Validation failures never reach the provider. On provider failure
// the flow returns to EnteringPhone.
func (f *Flow) SendCode(ctx context.Context, rawPhone, countryCode string) error {
	f.mu.Lock()
	if f.inflight {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.state == StateAuthenticated {
		f.mu.Unlock()
		return ErrBadState
	}

	phone := identity.NormalizePhone(rawPhone, countryCode)
	if err := identity.ValidatePhone(phone); err != nil {
		f.mu.Unlock()
		return err
	}

	// Same number within the cooldown window: a no-op, the provider must
	// not be called again.
	if phone == f.phone && f.state != StateEnteringPhone && f.now().Before(f.cooldownUntil) {
		f.mu.Unlock()
		return ErrCooldown
	}

	f.inflight = true
	f.mu.Unlock()

	err := f.provider.SendCode(ctx, phone)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight = false
	if err != nil {
		f.state = StateEnteringPhone
		return fmt.Errorf("send code: %w", err)
	}

	f.phone = phone
	f.state = StateCodeSent
	f.cooldownUntil = f.now().Add(f.cooldown)
	return nil
}

// Resend re-dispatches a code to the number already on the flow, enforcing
// the cooldown. A successful resend resets the cooldown.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateCodeSent && f.state != StateVerifying {
		f.mu.Unlock()
		return ErrBadState
	}
	if f.inflight {
		f.mu.Unlock()
		return ErrBusy
	}
	if f.now().Before(f.cooldownUntil) {
		f.mu.Unlock()
		return ErrCooldown
	}
	phone := f.phone
	f.inflight = true
	f.mu.Unlock()

	err := f.provider.SendCode(ctx, phone)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight = false
	if err != nil {
		return fmt.Errorf("resend code: %w", err)
	}
	f.state = StateCodeSent
	f.cooldownUntil = f.now().Add(f.cooldown)
	return nil
}

// Verify exchanges the collected code for a session and reconciles the
// verified phone into the profile. An invalid or expired code keeps the flow
// in Verifying so the user can retry or change the number.
func (f *Flow) Verify(ctx context.Context, code string) (*identity.Session, error) {
	f.mu.Lock()
	if f.state != StateCodeSent && f.state != StateVerifying {
		f.mu.Unlock()
		return nil, ErrBadState
	}
	if f.inflight {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	if len(code) != identity.CodeLength {
		f.state = StateVerifying
		f.mu.Unlock()
		return nil, fmt.Errorf("code must be %d digits", identity.CodeLength)
	}
	phone := f.phone
	f.state = StateVerifying
	f.inflight = true
	f.mu.Unlock()

	session, err := f.provider.Verify(ctx, phone, code)

	f.mu.Lock()
	f.inflight = false
	if err != nil {
		// Stay in Verifying: the user can retry the code or change number.
		f.mu.Unlock()
		return nil, err
	}
	f.state = StateAuthenticated
	f.session = session
	f.mu.Unlock()

	if f.profiles != nil {
		if err := f.profiles.ReconcilePhone(ctx, session.UserID, phone); err != nil {
			// Reconciliation failure must not undo authentication; the
			// profile write is retried on next protected-route entry.
			return session, fmt.Errorf("reconcile profile phone: %w", err)
		}
	}
	return session, nil
}

// ChangeNumber abandons the current challenge and returns to EnteringPhone.
func (f *Flow) ChangeNumber() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateAuthenticated {
		return
	}
	f.state = StateEnteringPhone
	f.phone = ""
	f.cooldownUntil = time.Time{}
}

// DistributeDigits spreads a multi-character paste across the remaining code
// input cells, one digit per cell starting at the given index.
func DistributeDigits(paste string, startIndex, cells int) []string {
	out := make([]string, cells)
	i := startIndex
	for _, r := range paste {
		if r < '0' || r > '9' {
			continue
		}
		if i >= cells {
			break
		}
		out[i] = string(r)
		i++
	}
	return out
}
