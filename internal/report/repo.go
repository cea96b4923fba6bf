package report

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	// ListByLab returns one page of the lab's reports plus the total count.
	ListByLab(ctx context.Context, labID uuid.UUID, limit, offset int) ([]*Report, int, error)
	// ListVisible returns reports the user may see: associated by user id,
	// by profile-phone match, or through an access grant.
	ListVisible(ctx context.Context, userID uuid.UUID, phone string) ([]*Report, error)
	// ListOwnedByPatient returns reports associated to the patient directly,
	// by user id or phone. Grant fan-out on invite redemption uses this.
	ListOwnedByPatient(ctx context.Context, userID uuid.UUID, phone string) ([]*Report, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}

type GrantRepository interface {
	// CreateIfAbsent inserts the grant unless an identical one exists.
	CreateIfAbsent(ctx context.Context, reportID, userID uuid.UUID) error
	Exists(ctx context.Context, reportID, userID uuid.UUID) (bool, error)
}
