package profile

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Profile) error
	GetByUser(ctx context.Context, userID uuid.UUID) (*Profile, error)
	GetByPhone(ctx context.Context, phone string) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
}
