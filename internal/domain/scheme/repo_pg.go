package scheme

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medscheme/medscheme/internal/platform/apperror"
	"github.com/medscheme/medscheme/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

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

// --- schemes ---

type schemeRepoPG struct{ pool *pgxpool.Pool }

func NewSchemeRepoPG(pool *pgxpool.Pool) SchemeRepository { return &schemeRepoPG{pool: pool} }

const schemeCols = `id, company_id, name, card_code, remark, is_renewable, family_applicable,
	status, is_deleted, deleted_at, created_at, updated_at`

func scanScheme(row pgx.Row) (*Scheme, error) {
	var s Scheme
	err := row.Scan(&s.ID, &s.CompanyID, &s.Name, &s.CardCode, &s.Remark, &s.IsRenewable,
		&s.FamilyApplicable, &s.Status, &s.IsDeleted, &s.DeletedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("scheme", "")
	}
	return &s, err
}

func (r *schemeRepoPG) Create(ctx context.Context, s *Scheme) error {
	s.ID = uuid.New()
	if s.Status == "" {
		s.Status = StatusActive
	}
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO scheme (id, company_id, name, card_code, remark, is_renewable, family_applicable, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.CompanyID, s.Name, s.CardCode, s.Remark, s.IsRenewable, s.FamilyApplicable, s.Status)
	return mapPGError(err, "scheme")
}

func (r *schemeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Scheme, error) {
	return scanScheme(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+schemeCols+` FROM scheme WHERE id = $1`, id))
}

func (r *schemeRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Scheme, error) {
	return scanScheme(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+schemeCols+` FROM scheme WHERE id = $1 FOR UPDATE`, id))
}

func (r *schemeRepoPG) GetByCardCode(ctx context.Context, code string) (*Scheme, error) {
	return scanScheme(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+schemeCols+` FROM scheme WHERE card_code = $1`, code))
}

func (r *schemeRepoPG) Update(ctx context.Context, s *Scheme) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE scheme SET name=$2, remark=$3, is_renewable=$4, family_applicable=$5,
			status=$6, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Name, s.Remark, s.IsRenewable, s.FamilyApplicable, s.Status)
	return mapPGError(err, "scheme")
}

func (r *schemeRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE scheme SET is_deleted=TRUE, deleted_at=NOW(), status=$2, updated_at=NOW()
		WHERE id = $1 AND NOT is_deleted`, id, StatusInactive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("scheme", id.String())
	}
	return nil
}

func (r *schemeRepoPG) List(ctx context.Context, companyID *uuid.UUID, includeDeleted bool, limit, offset int) ([]*Scheme, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR company_id = $1)`
	if !includeDeleted {
		where += ` AND NOT is_deleted`
	}

	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM scheme`+where, companyID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+schemeCols+` FROM scheme`+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		companyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Scheme
	for rows.Next() {
		s, err := scanScheme(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// --- periods ---

type periodRepoPG struct{ pool *pgxpool.Pool }

func NewPeriodRepoPG(pool *pgxpool.Pool) PeriodRepository { return &periodRepoPG{pool: pool} }

// limit_amount travels as text so NUMERIC round-trips through
// shopspring/decimal without precision loss.
const periodCols = `id, scheme_id, period_number, start_date, end_date, termination_date,
	limit_amount::text, renewed_from_id, renewal_date, is_current, changes_summary,
	remark, status, is_deleted, deleted_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (*SchemePeriod, error) {
	var (
		p       SchemePeriod
		limit   string
		summary []byte
	)
	err := row.Scan(&p.ID, &p.SchemeID, &p.PeriodNumber, &p.StartDate, &p.EndDate,
		&p.TerminationDate, &limit, &p.RenewedFromID, &p.RenewalDate, &p.IsCurrent,
		&summary, &p.Remark, &p.Status, &p.IsDeleted, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NewNotFound("scheme period", "")
	}
	if err != nil {
		return nil, err
	}
	if p.LimitAmount, err = decimal.NewFromString(limit); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &p.ChangesSummary); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func marshalSummary(p *SchemePeriod) ([]byte, error) {
	if p.ChangesSummary == nil {
		return nil, nil
	}
	return json.Marshal(p.ChangesSummary)
}

func (r *periodRepoPG) Create(ctx context.Context, p *SchemePeriod) error {
	p.ID = uuid.New()
	if p.Status == "" {
		p.Status = StatusActive
	}
	summary, err := marshalSummary(p)
	if err != nil {
		return err
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO scheme_period (id, scheme_id, period_number, start_date, end_date,
			termination_date, limit_amount, renewed_from_id, renewal_date, is_current,
			changes_summary, remark, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.SchemeID, p.PeriodNumber, p.StartDate, p.EndDate, p.TerminationDate,
		p.LimitAmount.String(), p.RenewedFromID, p.RenewalDate, p.IsCurrent,
		summary, p.Remark, p.Status)
	return mapPGError(err, "scheme period")
}

func (r *periodRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SchemePeriod, error) {
	return scanPeriod(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+periodCols+` FROM scheme_period WHERE id = $1`, id))
}

func (r *periodRepoPG) GetCurrent(ctx context.Context, schemeID uuid.UUID) (*SchemePeriod, error) {
	p, err := scanPeriod(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+periodCols+` FROM scheme_period
		 WHERE scheme_id = $1 AND is_current AND NOT is_deleted`, schemeID))
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NewNotFound("current period", schemeID.String())
	}
	return p, err
}

func (r *periodRepoPG) GetCurrentForUpdate(ctx context.Context, schemeID uuid.UUID) (*SchemePeriod, error) {
	p, err := scanPeriod(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+periodCols+` FROM scheme_period
		 WHERE scheme_id = $1 AND is_current AND NOT is_deleted FOR UPDATE`, schemeID))
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NewNotFound("current period", schemeID.String())
	}
	return p, err
}

func (r *periodRepoPG) SetCurrent(ctx context.Context, id uuid.UUID, current bool) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE scheme_period SET is_current=$2, updated_at=NOW() WHERE id = $1`, id, current)
	if err != nil {
		return mapPGError(err, "scheme period")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("scheme period", id.String())
	}
	return nil
}

func (r *periodRepoPG) Update(ctx context.Context, p *SchemePeriod) error {
	summary, err := marshalSummary(p)
	if err != nil {
		return err
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		UPDATE scheme_period SET start_date=$2, end_date=$3, termination_date=$4,
			limit_amount=$5::numeric, is_current=$6, changes_summary=$7, remark=$8,
			status=$9, is_deleted=$10, deleted_at=$11, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.StartDate, p.EndDate, p.TerminationDate, p.LimitAmount.String(),
		p.IsCurrent, summary, p.Remark, p.Status, p.IsDeleted, p.DeletedAt)
	return mapPGError(err, "scheme period")
}

func (r *periodRepoPG) ListByScheme(ctx context.Context, schemeID uuid.UUID) ([]*SchemePeriod, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+periodCols+` FROM scheme_period
		 WHERE scheme_id = $1 AND NOT is_deleted ORDER BY period_number`, schemeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SchemePeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *periodRepoPG) ListActiveOverlapping(ctx context.Context, schemeID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]*SchemePeriod, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+periodCols+` FROM scheme_period
		 WHERE scheme_id = $1 AND id <> $2 AND NOT is_deleted AND status = $3
		   AND (termination_date IS NULL OR termination_date > $4)
		   AND start_date <= $5 AND end_date >= $4
		 ORDER BY period_number`,
		schemeID, excludeID, StatusActive, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SchemePeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *periodRepoPG) Expiring(ctx context.Context, withinDays int, asOf time.Time) ([]*SchemePeriod, error) {
	cutoff := asOf.AddDate(0, 0, withinDays)
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+periodCols+` FROM scheme_period
		 WHERE is_current AND NOT is_deleted AND status = $1
		   AND end_date >= $2 AND end_date <= $3
		 ORDER BY end_date`, StatusActive, asOf, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SchemePeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// --- items ---

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

const itemCols = `id, scheme_period_id, item_type, item_ref_id, name, remark, created_at, updated_at`

func (r *itemRepoPG) CreateItem(ctx context.Context, it *SchemeItem) error {
	it.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO scheme_item (id, scheme_period_id, item_type, item_ref_id, name, remark)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		it.ID, it.SchemePeriodID, it.ItemType, it.ItemRefID, it.Name, it.Remark)
	return mapPGError(err, "scheme item")
}

func (r *itemRepoPG) ListItems(ctx context.Context, periodID uuid.UUID) ([]*SchemeItem, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+itemCols+` FROM scheme_item WHERE scheme_period_id = $1 ORDER BY created_at`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SchemeItem
	for rows.Next() {
		var it SchemeItem
		if err := rows.Scan(&it.ID, &it.SchemePeriodID, &it.ItemType, &it.ItemRefID,
			&it.Name, &it.Remark, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *itemRepoPG) CountItemsByScheme(ctx context.Context, schemeID uuid.UUID) (int, error) {
	var n int
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM scheme_item si
		JOIN scheme_period sp ON sp.id = si.scheme_period_id
		WHERE sp.scheme_id = $1 AND NOT sp.is_deleted`, schemeID).Scan(&n)
	return n, err
}
