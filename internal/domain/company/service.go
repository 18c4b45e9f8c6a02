package company

import (
	"context"

	"github.com/google/uuid"

	"github.com/medscheme/medscheme/internal/platform/apperror"
)

// MemberCounter reports how many active members a company still has. The
// member repository satisfies it; the indirection avoids a package cycle.
type MemberCounter interface {
	CountActiveByCompany(ctx context.Context, companyID uuid.UUID) (int, error)
}

type Service struct {
	companies Repository
	members   MemberCounter
}

func NewService(companies Repository, members MemberCounter) *Service {
	return &Service{companies: companies, members: members}
}

func (s *Service) Create(ctx context.Context, c *Company) error {
	if c.Name == "" {
		return apperror.NewRequiredField("name")
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.Status != StatusActive && c.Status != StatusInactive && c.Status != StatusSuspended {
		return apperror.NewInvalidValue("status", "unknown company status "+c.Status)
	}
	return s.companies.Create(ctx, c)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Company, error) {
	return s.companies.GetByID(ctx, id)
}

// GetActive fetches a company and verifies it can gate scheme and member
// creation.
func (s *Service) GetActive(ctx context.Context, id uuid.UUID) (*Company, error) {
	c, err := s.companies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive() {
		return nil, apperror.NewInactiveEntity("company", c.Name)
	}
	return c, nil
}

func (s *Service) Update(ctx context.Context, c *Company) error {
	existing, err := s.companies.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing.IsDeleted {
		return apperror.NewInactiveEntity("company", existing.Name)
	}
	if c.Name == "" {
		return apperror.NewRequiredField("name")
	}
	return s.companies.Update(ctx, c)
}

// Deactivate soft-deletes a company. Refused while the company still has
// active members, since their coverage would silently dangle.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if s.members != nil {
		n, err := s.members.CountActiveByCompany(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperror.NewValidation("company has %d active member(s); deactivate them first", n)
		}
	}
	return s.companies.SoftDelete(ctx, id)
}

func (s *Service) List(ctx context.Context, includeDeleted bool, limit, offset int) ([]*Company, int, error) {
	return s.companies.List(ctx, includeDeleted, limit, offset)
}
