package family

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Member is a relative added by a patient. The relative does not need an
// account yet; LinkedUserID stays nil until an invite is redeemed.
type Member struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	OwnerUserID  uuid.UUID  `db:"owner_user_id" json:"owner_user_id"`
	Name         string     `db:"name" json:"name"`
	Relation     string     `db:"relation" json:"relation"`
	Phone        string     `db:"phone" json:"phone"`
	LinkedUserID *uuid.UUID `db:"linked_user_id" json:"linked_user_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Invite is a single-use token tied to one family member. Redemption links
// the invitee's user id to the member record.
type Invite struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	MemberID   uuid.UUID  `db:"member_id" json:"member_id"`
	Token      string     `db:"token" json:"-"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	RedeemedBy *uuid.UUID `db:"redeemed_by" json:"redeemed_by,omitempty"`
	RedeemedAt *time.Time `db:"redeemed_at" json:"redeemed_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the invite is past its expiry. The boundary is
// inclusive: at exactly expires_at the invite is already expired.
func (i *Invite) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// InboxEntry is a pending invite addressed to the caller's phone, carried
// with enough member context to render an accept prompt.
type InboxEntry struct {
	InviteID    uuid.UUID `json:"invite_id"`
	MemberName  string    `json:"member_name"`
	Relation    string    `json:"relation"`
	InviterID   uuid.UUID `json:"inviter_id"`
	InviterName string    `json:"inviter_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var (
	// ErrInviteInvalid covers expired, malformed, and consumed-by-another-user
	// tokens. The three are deliberately indistinguishable to the caller.
	ErrInviteInvalid  = errors.New("invalid or expired invite")
	ErrMemberNotFound = errors.New("family member not found")
	ErrNotOwner       = errors.New("not the owner of this family member")
)
