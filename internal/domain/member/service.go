package member

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medscheme/medscheme/internal/domain/company"
	"github.com/medscheme/medscheme/internal/domain/scheme"
	"github.com/medscheme/medscheme/internal/platform/apperror"
	"github.com/medscheme/medscheme/internal/platform/db"
	"github.com/medscheme/medscheme/pkg/cardcode"
)

const (
	maxPrincipalSeq = 999
	maxDependantSeq = 99
)

// CompanyDirectory resolves the owning company and verifies it is active.
type CompanyDirectory interface {
	GetActive(ctx context.Context, id uuid.UUID) (*company.Company, error)
}

// SchemeStore is the slice of the scheme repository the member service
// needs: resolution plus a row lock during principal number assignment.
type SchemeStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheme.Scheme, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*scheme.Scheme, error)
}

type Service struct {
	members   Repository
	companies CompanyDirectory
	schemes   SchemeStore
	pool      *pgxpool.Pool
	log       zerolog.Logger
}

func NewService(members Repository, companies CompanyDirectory, schemes SchemeStore,
	pool *pgxpool.Pool, log zerolog.Logger) *Service {
	return &Service{members: members, companies: companies, schemes: schemes, pool: pool, log: log}
}

// validateChain runs the cross-entity checks: company active, scheme
// active and owned by the company, and for dependants a resolvable,
// active SELF parent in the same company and scheme. It returns the
// resolved scheme so callers can reuse its card code.
func (s *Service) validateChain(ctx context.Context, m *Member) (*scheme.Scheme, error) {
	if m.FirstName == "" {
		return nil, apperror.NewRequiredField("first_name")
	}
	if m.Relationship == "" {
		m.Relationship = RelationshipSelf
	}
	if !m.Relationship.Valid() {
		return nil, apperror.NewInvalidValue("relationship", "must be SELF, SPOUSE or CHILD")
	}

	if _, err := s.companies.GetActive(ctx, m.CompanyID); err != nil {
		return nil, err
	}
	sch, err := s.schemes.GetByID(ctx, m.SchemeID)
	if err != nil {
		return nil, err
	}
	if !sch.IsActive() {
		return nil, apperror.NewInactiveEntity("scheme", sch.Name)
	}
	if sch.CompanyID != m.CompanyID {
		return nil, apperror.NewInvalidValue("scheme_id", "scheme belongs to a different company")
	}

	if m.Relationship.IsPrincipal() {
		if m.ParentID != nil {
			return nil, apperror.NewInvalidValue("parent_id", "a SELF member cannot have a parent")
		}
		return sch, nil
	}

	if m.ParentID == nil {
		return nil, apperror.NewRequiredField("parent_id")
	}
	parent, err := s.members.GetByID(ctx, *m.ParentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsActive() {
		return nil, apperror.NewInactiveEntity("parent member", parent.CardNumber)
	}
	if parent.CompanyID != m.CompanyID {
		return nil, apperror.NewInvalidValue("parent_id", "parent belongs to a different company")
	}
	if parent.SchemeID != m.SchemeID {
		return nil, apperror.NewInvalidValue("parent_id", "parent belongs to a different scheme")
	}
	if !parent.Relationship.IsPrincipal() {
		return nil, apperror.NewInvalidValue("parent_id", "parent must be a SELF member")
	}
	return sch, nil
}

// Create inserts a member, generating a card number when none was
// supplied. Generation and insert happen in one transaction with the
// scheme row (principals) or parent row (dependants) locked, so two
// concurrent creations in the same scope serialize instead of racing to
// the same number. Explicitly supplied card numbers bypass the generator.
func (s *Service) Create(ctx context.Context, m *Member) error {
	sch, err := s.validateChain(ctx, m)
	if err != nil {
		return err
	}

	err = db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		if m.CardNumber == "" {
			number, err := s.generateLocked(ctx, sch, m)
			if err != nil {
				return err
			}
			m.CardNumber = number
		}
		return s.members.Create(ctx, m)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("card_number", m.CardNumber).Str("relationship", string(m.Relationship)).
		Msg("member created")
	return nil
}

// generateLocked computes the next card number while holding a row lock
// on the sequence scope.
func (s *Service) generateLocked(ctx context.Context, sch *scheme.Scheme, m *Member) (string, error) {
	if m.Relationship.IsPrincipal() {
		if _, err := s.schemes.GetByIDForUpdate(ctx, sch.ID); err != nil {
			return "", err
		}
		numbers, err := s.members.ListCardNumbersByScheme(ctx, sch.ID)
		if err != nil {
			return "", err
		}
		return nextPrincipalNumber(sch.CardCode, numbers)
	}

	parent, err := s.members.GetByIDForUpdate(ctx, *m.ParentID)
	if err != nil {
		return "", err
	}
	siblings, err := s.members.ListCardNumbersByParent(ctx, parent.ID)
	if err != nil {
		return "", err
	}
	return nextDependantNumber(sch.CardCode, parent.CardNumber, siblings)
}

func nextPrincipalNumber(code string, existing []string) (string, error) {
	next := cardcode.MaxPrincipalSeq(code, existing) + 1
	if next > maxPrincipalSeq {
		return "", apperror.NewValidation("scheme %s has no principal card numbers left", code)
	}
	return cardcode.Format(code, next, 0), nil
}

func nextDependantNumber(code, parentCard string, existing []string) (string, error) {
	principalSeq, ok := cardcode.PrincipalSeq(code, parentCard)
	if !ok {
		return "", apperror.NewInvalidValue("parent_id",
			fmt.Sprintf("parent card number %s does not match the scheme format", parentCard))
	}
	next := cardcode.MaxDependantSeq(code, principalSeq, existing) + 1
	if next > maxDependantSeq {
		return "", apperror.NewValidation("principal %s has no dependant card numbers left", parentCard)
	}
	return cardcode.Format(code, principalSeq, next), nil
}

// NextCardNumber previews the number the generator would assign, without
// locking or persisting anything. Concurrent creations can invalidate the
// preview.
func (s *Service) NextCardNumber(ctx context.Context, schemeID uuid.UUID, rel Relationship, parentID *uuid.UUID) (string, error) {
	sch, err := s.schemes.GetByID(ctx, schemeID)
	if err != nil {
		return "", err
	}
	if rel == "" {
		rel = RelationshipSelf
	}
	if !rel.Valid() {
		return "", apperror.NewInvalidValue("relationship", "must be SELF, SPOUSE or CHILD")
	}

	if rel.IsPrincipal() {
		numbers, err := s.members.ListCardNumbersByScheme(ctx, schemeID)
		if err != nil {
			return "", err
		}
		return nextPrincipalNumber(sch.CardCode, numbers)
	}

	if parentID == nil {
		return "", apperror.NewRequiredField("parent_id")
	}
	parent, err := s.members.GetByID(ctx, *parentID)
	if err != nil {
		return "", err
	}
	siblings, err := s.members.ListCardNumbersByParent(ctx, parent.ID)
	if err != nil {
		return "", err
	}
	return nextDependantNumber(sch.CardCode, parent.CardNumber, siblings)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.members.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Member, int, error) {
	return s.members.List(ctx, filter, limit, offset)
}

// Update re-runs the validation chain before persisting changes.
func (s *Service) Update(ctx context.Context, m *Member) error {
	existing, err := s.members.GetByID(ctx, m.ID)
	if err != nil {
		return err
	}
	if existing.IsDeleted {
		return apperror.NewInactiveEntity("member", existing.CardNumber)
	}
	m.CompanyID = existing.CompanyID
	m.SchemeID = existing.SchemeID
	m.Relationship = existing.Relationship
	m.ParentID = existing.ParentID
	if m.CardNumber == "" {
		m.CardNumber = existing.CardNumber
	}
	if _, err := s.validateChain(ctx, m); err != nil {
		return err
	}
	return s.members.Update(ctx, m)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.members.SoftDelete(ctx, id)
}
