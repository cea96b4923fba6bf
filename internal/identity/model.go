package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// User is a unique identity. Created on first successful authentication.
// The id is immutable; contact fields are mutable.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Session is the credential bundle issued on successful authentication.
type Session struct {
	AccessToken string    `json:"access_token"`
	SessionID   string    `json:"session_id"`
	UserID      uuid.UUID `json:"user_id"`
	Phone       string    `json:"phone,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// EventType classifies auth-state transitions.
type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
)

// Event is delivered to subscribers on every auth-state transition, in order.
type Event struct {
	Type    EventType
	Session *Session
}

// Registration is the advisory result of a contact pre-check. It informs the
// log-in vs create-account framing only; it is not a security gate.
type Registration struct {
	Registered bool      `json:"registered"`
	UserID     uuid.UUID `json:"user_id,omitempty"`
	Capacity   string    `json:"capacity,omitempty"` // "lab" or "patient" when known
}

var (
	ErrCodeInvalid     = errors.New("invalid code")
	ErrCodeExpired     = errors.New("code expired or not found")
	ErrTooManyAttempts = errors.New("too many failed attempts")
	ErrUserNotFound    = errors.New("user not found")
)
