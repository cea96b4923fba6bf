package profile

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Profile holds display and preference fields, one-to-one with a user. It is
// created lazily: a row must exist (even if empty) before patient pages can
// render meaningfully.
type Profile struct {
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	FullName      string    `db:"full_name" json:"full_name"`
	Phone         string    `db:"phone" json:"phone"`
	AvatarPath    *string   `db:"avatar_path" json:"avatar_path,omitempty"`
	Language      string    `db:"language" json:"language"`
	NotifySMS     bool      `db:"notify_sms" json:"notify_sms"`
	NotifyEmail   bool      `db:"notify_email" json:"notify_email"`
	ShareActivity bool      `db:"share_activity" json:"share_activity"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Complete reports whether the profile carries the fields required before
// patient routes may render.
func (p *Profile) Complete() bool {
	return p != nil && p.FullName != "" && p.Phone != ""
}

var ErrNotFound = errors.New("profile not found")
