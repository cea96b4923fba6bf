package family

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthport/healthport/internal/identity"
)

// AccessGranter opens the inviter's reports to a newly linked user. The
// report domain implements it; redemption is the only caller.
type AccessGranter interface {
	GrantAll(ctx context.Context, ownerUserID, granteeUserID uuid.UUID) error
}

// phoneDirectory resolves a user to the phone on their profile, for the
// received-invite inbox match.
type phoneDirectory interface {
	PhoneOf(ctx context.Context, userID uuid.UUID) (string, error)
}

// Service owns the family link lifecycle: member records, invite issuing,
// and redemption.
type Service struct {
	members  MemberRepository
	invites  InviteRepository
	granter  AccessGranter
	profiles phoneDirectory
	baseURL  string
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(members MemberRepository, invites InviteRepository, granter AccessGranter,
	profiles phoneDirectory, baseURL string, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		members:  members,
		invites:  invites,
		granter:  granter,
		profiles: profiles,
		baseURL:  strings.TrimRight(baseURL, "/"),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With().Str("component", "family").Logger(),
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// AddMember records a relative for the owner. The relative may not have an
// account yet; only the phone is required for the later invite match.
func (s *Service) AddMember(ctx context.Context, ownerUserID uuid.UUID, name, relation, rawPhone string) (*Member, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}
	phone := identity.NormalizePhone(rawPhone, "")
	if err := identity.ValidatePhone(phone); err != nil {
		return nil, err
	}

	m := &Member{
		OwnerUserID: ownerUserID,
		Name:        name,
		Relation:    relation,
		Phone:       phone,
	}
	if err := s.members.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create family member: %w", err)
	}
	return m, nil
}

// ListMembers returns the owner's family member records.
func (s *Service) ListMembers(ctx context.Context, ownerUserID uuid.UUID) ([]*Member, error) {
	return s.members.ListByOwner(ctx, ownerUserID)
}

// IssuedInvite is what the inviter gets back: the invite plus a shareable
// URL embedding the token.
type IssuedInvite struct {
	Invite   *Invite `json:"invite"`
	ShareURL string  `json:"share_url"`
	Token    string  `json:"token"`
}

// IssueInvite mints an invite for a member the caller owns. Re-issuing
// replaces any pending invite: the new token is valid, the old one is not.
func (s *Service) IssueInvite(ctx context.Context, callerID, memberID uuid.UUID) (*IssuedInvite, error) {
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.OwnerUserID != callerID {
		return nil, ErrNotOwner
	}

	if err := s.invites.DeletePending(ctx, memberID); err != nil {
		return nil, fmt.Errorf("replace pending invite: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	inv := &Invite{
		MemberID:  memberID,
		Token:     token,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}

	s.logger.Info().
		Str("member_id", memberID.String()).
		Time("expires_at", inv.ExpiresAt).
		Msg("Family invite issued")

	return &IssuedInvite{
		Invite:   inv,
		Token:    token,
		ShareURL: s.baseURL + "/invite/" + token,
	}, nil
}

// Redeem links the authenticated caller to the member record behind the
// token and grants them access to the owner's reports. Expired, malformed,
// and consumed-by-another-user tokens all fail with ErrInviteInvalid.
// Re-redeeming by the already linked user succeeds idempotently.
func (s *Service) Redeem(ctx context.Context, userID uuid.UUID, token string) (*Member, error) {
	if token == "" {
		return nil, ErrInviteInvalid
	}
	inv, err := s.invites.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInviteInvalid) {
			return nil, ErrInviteInvalid
		}
		return nil, fmt.Errorf("lookup invite: %w", err)
	}
	return s.redeem(ctx, userID, inv)
}

func (s *Service) redeem(ctx context.Context, userID uuid.UUID, inv *Invite) (*Member, error) {
	if inv.RedeemedBy != nil {
		if *inv.RedeemedBy == userID {
			return s.members.GetByID(ctx, inv.MemberID)
		}
		return nil, ErrInviteInvalid
	}
	if inv.Expired(s.now()) {
		return nil, ErrInviteInvalid
	}

	m, err := s.members.GetByID(ctx, inv.MemberID)
	if err != nil {
		return nil, err
	}
	if m.OwnerUserID == userID {
		return nil, errors.New("cannot redeem your own invite")
	}

	// The store only marks an unconsumed invite; losing the race to another
	// redeemer is the same terminal failure as any consumed token.
	if err := s.invites.MarkRedeemed(ctx, inv.ID, userID); err != nil {
		if errors.Is(err, ErrInviteInvalid) {
			return nil, ErrInviteInvalid
		}
		return nil, fmt.Errorf("mark invite redeemed: %w", err)
	}
	m.LinkedUserID = &userID
	if err := s.members.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("link member: %w", err)
	}

	if s.granter != nil {
		if err := s.granter.GrantAll(ctx, m.OwnerUserID, userID); err != nil {
			// The link stands; grants are retried by re-accepting or by an
			// explicit share. Log for operators.
			s.logger.Error().Err(err).
				Str("owner", m.OwnerUserID.String()).
				Str("grantee", userID.String()).
				Msg("Report grant after redemption failed")
		}
	}

	s.logger.Info().
		Str("member_id", m.ID.String()).
		Str("linked_user", userID.String()).
		Msg("Family invite redeemed")
	return m, nil
}

// Inbox lists pending invites addressed to the caller's profile phone. The
// match is server-side; no token is involved.
func (s *Service) Inbox(ctx context.Context, userID uuid.UUID) ([]*InboxEntry, error) {
	phone, err := s.profiles.PhoneOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve caller phone: %w", err)
	}
	if phone == "" {
		return nil, nil
	}
	return s.invites.ListPendingByPhone(ctx, phone)
}

// Accept redeems an inbox invite by id, for invitees who lost or never
// received the link. The invite must be addressed to the caller's phone.
func (s *Service) Accept(ctx context.Context, userID uuid.UUID, inviteID uuid.UUID) (*Member, error) {
	inv, err := s.invites.GetByID(ctx, inviteID)
	if err != nil {
		return nil, err
	}
	m, err := s.members.GetByID(ctx, inv.MemberID)
	if err != nil {
		return nil, err
	}
	phone, err := s.profiles.PhoneOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve caller phone: %w", err)
	}
	if phone == "" || m.Phone != phone {
		return nil, ErrInviteInvalid
	}
	return s.redeem(ctx, userID, inv)
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
