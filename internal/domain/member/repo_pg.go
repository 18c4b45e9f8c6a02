package member

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medscheme/medscheme/internal/platform/apperror"
	"github.com/medscheme/medscheme/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `id, company_id, scheme_id, first_name, last_name, national_id, gender,
	relationship, parent_id, date_of_birth, card_number, phone, email,
	status, is_deleted, deleted_at, created_at, updated_at`

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.CompanyID, &m.SchemeID, &m.FirstName, &m.LastName,
		&m.NationalID, &m.Gender, &m.Relationship, &m.ParentID, &m.DateOfBirth,
		&m.CardNumber, &m.Phone, &m.Email, &m.Status, &m.IsDeleted, &m.DeletedAt,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("member", "")
	}
	return &m, err
}

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperror.NewDuplicate("member", pgErr.ConstraintName)
	}
	return err
}

func (r *repoPG) Create(ctx context.Context, m *Member) error {
	m.ID = uuid.New()
	if m.Status == "" {
		m.Status = StatusActive
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO member (id, company_id, scheme_id, first_name, last_name, national_id,
			gender, relationship, parent_id, date_of_birth, card_number, phone, email, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		m.ID, m.CompanyID, m.SchemeID, m.FirstName, m.LastName, m.NationalID,
		m.Gender, m.Relationship, m.ParentID, m.DateOfBirth, m.CardNumber,
		m.Phone, m.Email, m.Status)
	return mapPGError(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	return scanMember(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM member WHERE id = $1`, id))
}

func (r *repoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Member, error) {
	return scanMember(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM member WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, m *Member) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE member SET first_name=$2, last_name=$3, national_id=$4, gender=$5,
			date_of_birth=$6, card_number=$7, phone=$8, email=$9, status=$10, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.FirstName, m.LastName, m.NationalID, m.Gender, m.DateOfBirth,
		m.CardNumber, m.Phone, m.Email, m.Status)
	return mapPGError(err)
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE member SET is_deleted=TRUE, deleted_at=NOW(), status=$2, updated_at=NOW()
		WHERE id = $1 AND NOT is_deleted`, id, StatusInactive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("member", id.String())
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Member, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR company_id = $1)
		AND ($2::uuid IS NULL OR scheme_id = $2)`
	if !filter.IncludeDeleted {
		where += ` AND NOT is_deleted`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM member`+where,
		filter.CompanyID, filter.SchemeID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM member`+where+` ORDER BY card_number LIMIT $3 OFFSET $4`,
		filter.CompanyID, filter.SchemeID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListCardNumbersByScheme(ctx context.Context, schemeID uuid.UUID) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT card_number FROM member
		WHERE scheme_id = $1 AND relationship = $2 AND NOT is_deleted`,
		schemeID, RelationshipSelf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

func (r *repoPG) ListCardNumbersByParent(ctx context.Context, parentID uuid.UUID) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT card_number FROM member
		WHERE parent_id = $1 AND NOT is_deleted`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) CountActiveByCompany(ctx context.Context, companyID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM member
		WHERE company_id = $1 AND status = $2 AND NOT is_deleted`,
		companyID, StatusActive).Scan(&n)
	return n, err
}

func (r *repoPG) CountActiveByScheme(ctx context.Context, schemeID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM member
		WHERE scheme_id = $1 AND status = $2 AND NOT is_deleted`,
		schemeID, StatusActive).Scan(&n)
	return n, err
}
