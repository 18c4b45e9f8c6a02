package company

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Company) error
	GetByID(ctx context.Context, id uuid.UUID) (*Company, error)
	Update(ctx context.Context, c *Company) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, includeDeleted bool, limit, offset int) ([]*Company, int, error)
}
