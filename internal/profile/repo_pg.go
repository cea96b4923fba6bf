package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthport/healthport/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `user_id, full_name, phone, avatar_path, language, notify_sms,
	notify_email, share_activity, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.FullName, &p.Phone, &p.AvatarPath, &p.Language,
		&p.NotifySMS, &p.NotifyEmail, &p.ShareActivity, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Profile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO profile (user_id, full_name, phone, avatar_path, language,
			notify_sms, notify_email, share_activity)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.UserID, p.FullName, p.Phone, p.AvatarPath, p.Language,
		p.NotifySMS, p.NotifyEmail, p.ShareActivity)
	return err
}

func (r *repoPG) GetByUser(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM profile WHERE user_id = $1`, userID))
}

func (r *repoPG) GetByPhone(ctx context.Context, phone string) (*Profile, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM profile WHERE phone = $1`, phone))
}

func (r *repoPG) Update(ctx context.Context, p *Profile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE profile SET full_name=$2, phone=$3, avatar_path=$4, language=$5,
			notify_sms=$6, notify_email=$7, share_activity=$8, updated_at=NOW()
		WHERE user_id = $1`,
		p.UserID, p.FullName, p.Phone, p.AvatarPath, p.Language,
		p.NotifySMS, p.NotifyEmail, p.ShareActivity)
	return err
}
