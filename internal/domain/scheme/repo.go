package scheme

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SchemeRepository interface {
	Create(ctx context.Context, s *Scheme) error
	GetByID(ctx context.Context, id uuid.UUID) (*Scheme, error)
	// GetByIDForUpdate takes a row lock so concurrent renewals of the
	// same scheme serialize.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Scheme, error)
	GetByCardCode(ctx context.Context, code string) (*Scheme, error)
	Update(ctx context.Context, s *Scheme) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, companyID *uuid.UUID, includeDeleted bool, limit, offset int) ([]*Scheme, int, error)
}

type PeriodRepository interface {
	Create(ctx context.Context, p *SchemePeriod) error
	GetByID(ctx context.Context, id uuid.UUID) (*SchemePeriod, error)
	GetCurrent(ctx context.Context, schemeID uuid.UUID) (*SchemePeriod, error)
	GetCurrentForUpdate(ctx context.Context, schemeID uuid.UUID) (*SchemePeriod, error)
	SetCurrent(ctx context.Context, id uuid.UUID, current bool) error
	Update(ctx context.Context, p *SchemePeriod) error
	ListByScheme(ctx context.Context, schemeID uuid.UUID) ([]*SchemePeriod, error)
	// ListActiveOverlapping returns non-terminated ACTIVE periods of the
	// scheme whose range intersects [start, end], excluding one period id.
	ListActiveOverlapping(ctx context.Context, schemeID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]*SchemePeriod, error)
	Expiring(ctx context.Context, withinDays int, asOf time.Time) ([]*SchemePeriod, error)
}

type ItemRepository interface {
	CreateItem(ctx context.Context, it *SchemeItem) error
	ListItems(ctx context.Context, periodID uuid.UUID) ([]*SchemeItem, error)
	CountItemsByScheme(ctx context.Context, schemeID uuid.UUID) (int, error)
}
