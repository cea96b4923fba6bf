package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthport/healthport/internal/platform/db"
)

// Membership associates a user with a lab tenant in a staff capacity. A user
// with no memberships is a patient.
type Membership struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	LabID     uuid.UUID `db:"lab_id" json:"lab_id"`
	Role      string    `db:"role" json:"role"` // admin or staff
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type MembershipRepository interface {
	Create(ctx context.Context, m *Membership) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error)
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type membershipRepoPG struct{ pool *pgxpool.Pool }

func NewMembershipRepoPG(pool *pgxpool.Pool) MembershipRepository {
	return &membershipRepoPG{pool: pool}
}

func (r *membershipRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *membershipRepoPG) Create(ctx context.Context, m *Membership) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_membership (id, user_id, lab_id, role)
		VALUES ($1,$2,$3,$4)`,
		m.ID, m.UserID, m.LabID, m.Role)
	return err
}

func (r *membershipRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, lab_id, role, created_at
		FROM lab_membership WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.LabID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
