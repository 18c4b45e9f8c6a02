package member

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows member listings. Nil fields are ignored.
type ListFilter struct {
	CompanyID      *uuid.UUID
	SchemeID       *uuid.UUID
	IncludeDeleted bool
}

type Repository interface {
	Create(ctx context.Context, m *Member) error
	GetByID(ctx context.Context, id uuid.UUID) (*Member, error)
	// GetByIDForUpdate locks the parent row during dependant card-number
	// assignment so concurrent dependant creation serializes.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Member, error)
	Update(ctx context.Context, m *Member) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Member, int, error)

	// ListCardNumbersByScheme returns card numbers of non-deleted SELF
	// members in the scheme; the generator scans these for the next
	// principal sequence.
	ListCardNumbersByScheme(ctx context.Context, schemeID uuid.UUID) ([]string, error)
	// ListCardNumbersByParent returns card numbers of non-deleted members
	// whose parent is the given principal.
	ListCardNumbersByParent(ctx context.Context, parentID uuid.UUID) ([]string, error)

	CountActiveByCompany(ctx context.Context, companyID uuid.UUID) (int, error)
	CountActiveByScheme(ctx context.Context, schemeID uuid.UUID) (int, error)
}
