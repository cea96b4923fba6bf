package report

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, lab_id, patient_user_id, patient_phone, title, storage_path, status, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	err := row.Scan(&r.ID, &r.LabID, &r.PatientUserID, &r.PatientPhone,
		&r.Title, &r.StoragePath, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &r, err
}

func collect(rows pgx.Rows, err error) ([]*Report, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, rep *Report) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	if rep.Status == "" {
		rep.Status = StatusPending
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO report (id, lab_id, patient_user_id, patient_phone, title, storage_path, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rep.ID, rep.LabID, rep.PatientUserID, rep.PatientPhone, rep.Title, rep.StoragePath, rep.Status)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReport(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+` FROM report WHERE id = $1`, id))
}

func (r *repoPG) ListByLab(ctx context.Context, labID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM report WHERE lab_id = $1`, labID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx, `
		SELECT `+cols+` FROM report WHERE lab_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, labID, limit, offset)
	reports, err := collect(rows, err)
	if err != nil {
		return nil, 0, err
	}
	return reports, total, nil
}

func (r *repoPG) ListVisible(ctx context.Context, userID uuid.UUID, phone string) ([]*Report, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT DISTINCT r.id, r.lab_id, r.patient_user_id, r.patient_phone,
			r.title, r.storage_path, r.status, r.created_at, r.updated_at
		FROM report r
		LEFT JOIN report_access_grant g ON g.report_id = r.id AND g.user_id = $1
		WHERE r.patient_user_id = $1
		   OR (r.patient_phone <> '' AND r.patient_phone = $2)
		   OR g.user_id IS NOT NULL
		ORDER BY r.created_at DESC`, userID, phone)
	return collect(rows, err)
}

func (r *repoPG) ListOwnedByPatient(ctx context.Context, userID uuid.UUID, phone string) ([]*Report, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+cols+` FROM report
		WHERE patient_user_id = $1 OR (patient_phone <> '' AND patient_phone = $2)
		ORDER BY created_at DESC`, userID, phone)
	return collect(rows, err)
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE report SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type grantRepoPG struct{ pool *pgxpool.Pool }

func NewGrantRepoPG(pool *pgxpool.Pool) GrantRepository {
	return &grantRepoPG{pool: pool}
}

func (r *grantRepoPG) CreateIfAbsent(ctx context.Context, reportID, userID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO report_access_grant (id, report_id, user_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (report_id, user_id) DO NOTHING`,
		uuid.New(), reportID, userID)
	return err
}

func (r *grantRepoPG) Exists(ctx context.Context, reportID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM report_access_grant WHERE report_id=$1 AND user_id=$2)`,
		reportID, userID).Scan(&exists)
	return exists, err
}
