package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthport/healthport/internal/identity"
)

const DefaultLanguage = "en"

// accountUpdater syncs a verified phone onto the login record, so signing in
// with the new number reaches the same account.
type accountUpdater interface {
	UpdatePhone(ctx context.Context, userID uuid.UUID, phone string) error
}

// Service owns profile lifecycle. Profiles are created lazily so a user who
// signed in moments ago always has a row by the time a patient page loads.
type Service struct {
	repo     Repository
	accounts accountUpdater
	logger   zerolog.Logger
}

func NewService(repo Repository, accounts accountUpdater, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		logger:   logger.With().Str("component", "profile").Logger(),
	}
}

// Ensure returns the user's profile, creating an empty one if none exists.
func (s *Service) Ensure(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	p, err := s.repo.GetByUser(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	p = &Profile{
		UserID:    userID,
		Language:  DefaultLanguage,
		NotifySMS: true,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		// A concurrent first request may have won the insert.
		if existing, getErr := s.repo.GetByUser(ctx, userID); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}
	s.logger.Info().Str("user_id", userID.String()).Msg("Profile created")
	return p, nil
}

// Get returns the profile without creating one.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	return s.repo.GetByUser(ctx, userID)
}

// UpdateInput carries the owner-editable fields. Nil pointers leave the
// stored value untouched.
type UpdateInput struct {
	FullName      *string `json:"full_name"`
	Phone         *string `json:"phone"`
	AvatarPath    *string `json:"avatar_path"`
	Language      *string `json:"language"`
	NotifySMS     *bool   `json:"notify_sms"`
	NotifyEmail   *bool   `json:"notify_email"`
	ShareActivity *bool   `json:"share_activity"`
}

// Update applies the input to the caller's own profile. Only the owner can
// reach this path; the handler derives userID from the session, never from
// the request body.
func (s *Service) Update(ctx context.Context, userID uuid.UUID, in UpdateInput) (*Profile, error) {
	p, err := s.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.FullName != nil {
		p.FullName = *in.FullName
	}
	phoneChanged := false
	if in.Phone != nil {
		phone := identity.NormalizePhone(*in.Phone, "")
		if err := identity.ValidatePhone(phone); err != nil {
			return nil, err
		}
		phoneChanged = phone != p.Phone
		p.Phone = phone
	}
	if in.AvatarPath != nil {
		p.AvatarPath = in.AvatarPath
	}
	if in.Language != nil {
		p.Language = *in.Language
	}
	if in.NotifySMS != nil {
		p.NotifySMS = *in.NotifySMS
	}
	if in.NotifyEmail != nil {
		p.NotifyEmail = *in.NotifyEmail
	}
	if in.ShareActivity != nil {
		p.ShareActivity = *in.ShareActivity
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	if phoneChanged && s.accounts != nil {
		if err := s.accounts.UpdatePhone(ctx, userID, p.Phone); err != nil {
			// The profile write already landed; sign-in with the old number
			// still works until the next successful sync.
			s.logger.Warn().Err(err).Str("user_id", userID.String()).
				Msg("Login phone sync failed")
		}
	}
	return p, nil
}

// ReconcilePhone writes a freshly verified phone number into the profile,
// creating the profile if needed. Reports and invites may reference a bare
// phone number from before the account existed; keeping the profile phone in
// sync is what makes those show up.
func (s *Service) ReconcilePhone(ctx context.Context, userID uuid.UUID, phone string) error {
	p, err := s.Ensure(ctx, userID)
	if err != nil {
		return err
	}
	if p.Phone == phone {
		return nil
	}
	p.Phone = phone
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("reconcile phone: %w", err)
	}
	s.logger.Debug().Str("user_id", userID.String()).Msg("Profile phone reconciled")
	return nil
}

// IsComplete reports whether the user's profile has the required fields. A
// missing profile counts as incomplete, not as an error.
func (s *Service) IsComplete(ctx context.Context, userID uuid.UUID) (bool, error) {
	p, err := s.repo.GetByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Complete(), nil
}

// PhoneOf returns the phone on the user's profile, empty when the profile
// is missing or has no phone yet.
func (s *Service) PhoneOf(ctx context.Context, userID uuid.UUID) (string, error) {
	p, err := s.repo.GetByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.Phone, nil
}

// FindByPhone looks a profile up by its normalized phone number.
func (s *Service) FindByPhone(ctx context.Context, phone string) (*Profile, error) {
	return s.repo.GetByPhone(ctx, phone)
}
