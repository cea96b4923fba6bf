package family

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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

type memberRepoPG struct{ pool *pgxpool.Pool }

func NewMemberRepoPG(pool *pgxpool.Pool) MemberRepository {
	return &memberRepoPG{pool: pool}
}

const memberCols = `id, owner_user_id, name, relation, phone, linked_user_id, created_at, updated_at`

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.OwnerUserID, &m.Name, &m.Relation, &m.Phone,
		&m.LinkedUserID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	return &m, err
}

func (r *memberRepoPG) Create(ctx context.Context, m *Member) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO family_member (id, owner_user_id, name, relation, phone, linked_user_id)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.OwnerUserID, m.Name, m.Relation, m.Phone, m.LinkedUserID)
	return err
}

func (r *memberRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	return scanMember(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+memberCols+` FROM family_member WHERE id = $1`, id))
}

func (r *memberRepoPG) ListByOwner(ctx context.Context, ownerUserID uuid.UUID) ([]*Member, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+memberCols+` FROM family_member WHERE owner_user_id = $1 ORDER BY created_at`, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *memberRepoPG) Update(ctx context.Context, m *Member) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE family_member SET name=$2, relation=$3, phone=$4, linked_user_id=$5, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.Name, m.Relation, m.Phone, m.LinkedUserID)
	return err
}

type inviteRepoPG struct{ pool *pgxpool.Pool }

func NewInviteRepoPG(pool *pgxpool.Pool) InviteRepository {
	return &inviteRepoPG{pool: pool}
}

const inviteCols = `id, member_id, token, expires_at, redeemed_by, redeemed_at, created_at`

func scanInvite(row pgx.Row) (*Invite, error) {
	var inv Invite
	err := row.Scan(&inv.ID, &inv.MemberID, &inv.Token, &inv.ExpiresAt,
		&inv.RedeemedBy, &inv.RedeemedAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInviteInvalid
	}
	return &inv, err
}

func (r *inviteRepoPG) Create(ctx context.Context, inv *Invite) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO family_invite (id, member_id, token, expires_at)
		VALUES ($1,$2,$3,$4)`,
		inv.ID, inv.MemberID, inv.Token, inv.ExpiresAt)
	return err
}

func (r *inviteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invite, error) {
	return scanInvite(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+inviteCols+` FROM family_invite WHERE id = $1`, id))
}

func (r *inviteRepoPG) GetByToken(ctx context.Context, token string) (*Invite, error) {
	return scanInvite(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+inviteCols+` FROM family_invite WHERE token = $1`, token))
}

func (r *inviteRepoPG) DeletePending(ctx context.Context, memberID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM family_invite WHERE member_id = $1 AND redeemed_by IS NULL`, memberID)
	return err
}

func (r *inviteRepoPG) MarkRedeemed(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE family_invite SET redeemed_by=$2, redeemed_at=NOW()
		WHERE id = $1 AND redeemed_by IS NULL`, id, userID)
	if err != nil {
		return err
	}
	// Zero rows means a concurrent redeemer won; the invite is consumed.
	if tag.RowsAffected() == 0 {
		return ErrInviteInvalid
	}
	return nil
}

func (r *inviteRepoPG) ListPendingByPhone(ctx context.Context, phone string) ([]*InboxEntry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT i.id, m.name, m.relation, m.owner_user_id, COALESCE(p.full_name, ''), i.expires_at
		FROM family_invite i
		JOIN family_member m ON m.id = i.member_id
		LEFT JOIN profile p ON p.user_id = m.owner_user_id
		WHERE m.phone = $1 AND i.redeemed_by IS NULL AND i.expires_at > NOW()
		ORDER BY i.created_at DESC`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*InboxEntry
	for rows.Next() {
		var e InboxEntry
		if err := rows.Scan(&e.InviteID, &e.MemberName, &e.Relation,
			&e.InviterID, &e.InviterName, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
