package company

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

const cols = `id, name, registration_no, industry, contact_email, contact_phone,
	status, is_deleted, deleted_at, created_at, updated_at`

func scanCompany(row pgx.Row) (*Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.RegistrationNo, &c.Industry, &c.ContactEmail, &c.ContactPhone,
		&c.Status, &c.IsDeleted, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("company", "")
	}
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Company) error {
	c.ID = uuid.New()
	if c.Status == "" {
		c.Status = StatusActive
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO company (id, name, registration_no, industry, contact_email, contact_phone, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.Name, c.RegistrationNo, c.Industry, c.ContactEmail, c.ContactPhone, c.Status)
	return mapPGError(err, "company")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Company, error) {
	return scanCompany(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM company WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Company) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE company SET name=$2, registration_no=$3, industry=$4, contact_email=$5,
			contact_phone=$6, status=$7, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.RegistrationNo, c.Industry, c.ContactEmail, c.ContactPhone, c.Status)
	return mapPGError(err, "company")
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE company SET is_deleted=TRUE, deleted_at=NOW(), status=$2, updated_at=NOW()
		WHERE id = $1 AND NOT is_deleted`, id, StatusInactive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("company", id.String())
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, includeDeleted bool, limit, offset int) ([]*Company, int, error) {
	where := ``
	if !includeDeleted {
		where = ` WHERE NOT is_deleted`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM company`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM company`+where+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// mapPGError converts unique-constraint violations into DuplicateError so
// that duplicates are always surfaced after the database, never guessed.
func mapPGError(err error, entity string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperror.NewDuplicate(entity, pgErr.ConstraintName)
	}
	return err
}
