package family

import (
	"context"

	"github.com/google/uuid"
)

type MemberRepository interface {
	Create(ctx context.Context, m *Member) error
	GetByID(ctx context.Context, id uuid.UUID) (*Member, error)
	ListByOwner(ctx context.Context, ownerUserID uuid.UUID) ([]*Member, error)
	Update(ctx context.Context, m *Member) error
}

type InviteRepository interface {
	Create(ctx context.Context, inv *Invite) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invite, error)
	GetByToken(ctx context.Context, token string) (*Invite, error)
	// DeletePending removes the unredeemed invite for a member, if any.
	// Used by the replace-on-reissue policy.
	DeletePending(ctx context.Context, memberID uuid.UUID) error
	MarkRedeemed(ctx context.Context, id, userID uuid.UUID) error
	// ListPendingByPhone returns unredeemed, unexpired invites whose member
	// record carries the given phone.
	ListPendingByPhone(ctx context.Context, phone string) ([]*InboxEntry, error)
}
