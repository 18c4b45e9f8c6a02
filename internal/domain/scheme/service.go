package scheme

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medscheme/medscheme/internal/domain/company"
	"github.com/medscheme/medscheme/internal/platform/apperror"
	"github.com/medscheme/medscheme/internal/platform/db"
	"github.com/medscheme/medscheme/pkg/cardcode"
)

// CompanyDirectory resolves the owning company and verifies it is active.
type CompanyDirectory interface {
	GetActive(ctx context.Context, id uuid.UUID) (*company.Company, error)
}

// MemberCounter reports active members per scheme, gating deactivation.
type MemberCounter interface {
	CountActiveByScheme(ctx context.Context, schemeID uuid.UUID) (int, error)
}

type Service struct {
	schemes   SchemeRepository
	periods   PeriodRepository
	items     ItemRepository
	companies CompanyDirectory
	members   MemberCounter
	pool      *pgxpool.Pool
	log       zerolog.Logger

	// now is swappable for deterministic date logic in tests.
	now func() time.Time
}

func NewService(schemes SchemeRepository, periods PeriodRepository, items ItemRepository,
	companies CompanyDirectory, members MemberCounter, pool *pgxpool.Pool, log zerolog.Logger) *Service {
	return &Service{
		schemes:   schemes,
		periods:   periods,
		items:     items,
		companies: companies,
		members:   members,
		pool:      pool,
		log:       log,
		now:       time.Now,
	}
}

func (s *Service) today() time.Time {
	t := s.now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodInput carries the caller-supplied fields for a new or renewed
// period. LimitAmount and PeriodNumber are optional; renewal defaults the
// limit to the prior period's amount.
type PeriodInput struct {
	StartDate    time.Time        `json:"start_date"`
	EndDate      time.Time        `json:"end_date"`
	LimitAmount  *decimal.Decimal `json:"limit_amount,omitempty"`
	PeriodNumber *int             `json:"period_number,omitempty"`
	Remark       string           `json:"remark,omitempty"`
}

func validateDates(start, end time.Time) error {
	if start.IsZero() {
		return apperror.NewRequiredField("start_date")
	}
	if end.IsZero() {
		return apperror.NewRequiredField("end_date")
	}
	if !start.Before(end) {
		return apperror.NewInvalidValue("end_date", "must be after start_date")
	}
	return nil
}

// CreateScheme creates the scheme together with its initial period
// (number 1, current) in one transaction.
func (s *Service) CreateScheme(ctx context.Context, sch *Scheme, initial PeriodInput) (*SchemePeriod, error) {
	if sch.Name == "" {
		return nil, apperror.NewRequiredField("name")
	}
	code, err := cardcode.NormalizeCode(sch.CardCode)
	if err != nil {
		return nil, err
	}
	sch.CardCode = code

	if _, err := s.companies.GetActive(ctx, sch.CompanyID); err != nil {
		return nil, err
	}
	if err := validateDates(initial.StartDate, initial.EndDate); err != nil {
		return nil, err
	}
	if initial.LimitAmount == nil {
		return nil, apperror.NewRequiredField("limit_amount")
	}
	if !initial.LimitAmount.IsPositive() {
		return nil, apperror.NewInvalidValue("limit_amount", "must be greater than zero")
	}

	var period *SchemePeriod
	err = db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		if sch.Status == "" {
			sch.Status = StatusActive
		}
		if err := s.schemes.Create(ctx, sch); err != nil {
			return err
		}
		period = &SchemePeriod{
			SchemeID:     sch.ID,
			PeriodNumber: 1,
			StartDate:    initial.StartDate,
			EndDate:      initial.EndDate,
			LimitAmount:  *initial.LimitAmount,
			IsCurrent:    true,
			Remark:       initial.Remark,
			Status:       StatusActive,
		}
		return s.periods.Create(ctx, period)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("scheme", sch.Name).Str("card_code", sch.CardCode).Msg("scheme created")
	return period, nil
}

// CreateInitialPeriod opens period 1 for a scheme that has none yet. Used
// when a scheme row exists without a period, which only happens through
// data repair.
func (s *Service) CreateInitialPeriod(ctx context.Context, schemeID uuid.UUID, input PeriodInput) (*SchemePeriod, error) {
	if err := validateDates(input.StartDate, input.EndDate); err != nil {
		return nil, err
	}
	if input.LimitAmount == nil {
		return nil, apperror.NewRequiredField("limit_amount")
	}
	if !input.LimitAmount.IsPositive() {
		return nil, apperror.NewInvalidValue("limit_amount", "must be greater than zero")
	}

	var period *SchemePeriod
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		sch, err := s.schemes.GetByIDForUpdate(ctx, schemeID)
		if err != nil {
			return err
		}
		if !sch.IsActive() {
			return apperror.NewInactiveEntity("scheme", sch.Name)
		}
		existing, err := s.periods.ListByScheme(ctx, schemeID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperror.NewValidation("scheme %s already has %d period(s); use renew", sch.Name, len(existing))
		}
		period = &SchemePeriod{
			SchemeID:     schemeID,
			PeriodNumber: 1,
			StartDate:    input.StartDate,
			EndDate:      input.EndDate,
			LimitAmount:  *input.LimitAmount,
			IsCurrent:    true,
			Remark:       input.Remark,
			Status:       StatusActive,
		}
		return s.periods.Create(ctx, period)
	})
	if err != nil {
		return nil, err
	}
	return period, nil
}

// Renew closes the current period and opens its successor. Both the
// scheme row and the current period row are locked first so concurrent
// renewals serialize; the loser then sees the already-renewed state and
// fails its own validation.
func (s *Service) Renew(ctx context.Context, schemeID uuid.UUID, input PeriodInput) (*SchemePeriod, error) {
	var period *SchemePeriod
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		sch, err := s.schemes.GetByIDForUpdate(ctx, schemeID)
		if err != nil {
			return err
		}
		if !sch.IsActive() {
			return apperror.NewInactiveEntity("scheme", sch.Name)
		}
		if !sch.IsRenewable {
			return apperror.NewValidation("scheme %s is not renewable", sch.Name)
		}
		cur, err := s.periods.GetCurrentForUpdate(ctx, schemeID)
		if err != nil {
			return err
		}

		next := cur.PeriodNumber + 1
		if input.PeriodNumber != nil && *input.PeriodNumber != next {
			return apperror.NewInvalidValue("period_number",
				fmt.Sprintf("must be %d, the next in sequence", next))
		}
		if err := validateDates(input.StartDate, input.EndDate); err != nil {
			return err
		}

		limit := cur.LimitAmount
		if input.LimitAmount != nil {
			limit = *input.LimitAmount
		}
		if !limit.IsPositive() {
			return apperror.NewInvalidValue("limit_amount", "must be greater than zero")
		}

		remark := input.Remark
		expectedStart := cur.EndDate.AddDate(0, 0, 1)
		if input.StartDate.After(expectedStart) {
			gapDays := daysBetween(expectedStart, input.StartDate)
			remark = appendRemark(remark,
				fmt.Sprintf("Warning: %d day coverage gap after period %d ends", gapDays, cur.PeriodNumber))
		} else if !input.StartDate.After(cur.EndDate) {
			remark = appendRemark(remark,
				fmt.Sprintf("Warning: renewal starts before period %d ends", cur.PeriodNumber))
		}

		// The new range must not intersect any non-terminated ACTIVE
		// period, the current one included. Renewing mid-term requires
		// shortening the current period's end date first.
		overlapping, err := s.periods.ListActiveOverlapping(ctx, schemeID, input.StartDate, input.EndDate, uuid.Nil)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return apperror.NewValidation("new period overlaps period %d (%s to %s)",
				overlapping[0].PeriodNumber,
				overlapping[0].StartDate.Format("2006-01-02"),
				overlapping[0].EndDate.Format("2006-01-02"))
		}

		if err := s.periods.SetCurrent(ctx, cur.ID, false); err != nil {
			return err
		}
		today := s.today()
		period = &SchemePeriod{
			SchemeID:       schemeID,
			PeriodNumber:   next,
			StartDate:      input.StartDate,
			EndDate:        input.EndDate,
			LimitAmount:    limit,
			RenewedFromID:  &cur.ID,
			RenewalDate:    &today,
			IsCurrent:      true,
			ChangesSummary: diffPeriods(cur, input.StartDate, input.EndDate, limit),
			Remark:         remark,
			Status:         StatusActive,
		}
		return s.periods.Create(ctx, period)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Stringer("scheme_id", schemeID).Int("period_number", period.PeriodNumber).Msg("scheme renewed")
	return period, nil
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func appendRemark(remark, note string) string {
	if remark == "" {
		return note
	}
	return remark + "; " + note
}

func diffPeriods(prior *SchemePeriod, start, end time.Time, limit decimal.Decimal) map[string]FieldChange {
	summary := make(map[string]FieldChange)
	if !prior.LimitAmount.Equal(limit) {
		summary["limit_amount"] = FieldChange{From: prior.LimitAmount.String(), To: limit.String()}
	}
	if !prior.StartDate.Equal(start) {
		summary["start_date"] = FieldChange{From: prior.StartDate.Format("2006-01-02"), To: start.Format("2006-01-02")}
	}
	if !prior.EndDate.Equal(end) {
		summary["end_date"] = FieldChange{From: prior.EndDate.Format("2006-01-02"), To: end.Format("2006-01-02")}
	}
	if len(summary) == 0 {
		return nil
	}
	return summary
}

// PeriodUpdate lists the editable fields of a period. Fields outside this
// set are protected; supplying them is rejected rather than ignored.
type PeriodUpdate struct {
	StartDate       *time.Time       `json:"start_date,omitempty"`
	EndDate         *time.Time       `json:"end_date,omitempty"`
	TerminationDate *time.Time       `json:"termination_date,omitempty"`
	LimitAmount     *decimal.Decimal `json:"limit_amount,omitempty"`
	Remark          *string          `json:"remark,omitempty"`
	Status          *string          `json:"status,omitempty"`
	IsCurrent       *bool            `json:"is_current,omitempty"`

	PeriodNumber  *int       `json:"period_number,omitempty"`
	SchemeID      *uuid.UUID `json:"scheme_id,omitempty"`
	RenewedFromID *uuid.UUID `json:"renewed_from_id,omitempty"`
	RenewalDate   *time.Time `json:"renewal_date,omitempty"`
}

func (s *Service) UpdatePeriod(ctx context.Context, id uuid.UUID, upd PeriodUpdate) (*SchemePeriod, error) {
	switch {
	case upd.PeriodNumber != nil:
		return nil, apperror.NewInvalidValue("period_number", "cannot be changed after creation")
	case upd.SchemeID != nil:
		return nil, apperror.NewInvalidValue("scheme_id", "cannot be changed after creation")
	case upd.RenewedFromID != nil:
		return nil, apperror.NewInvalidValue("renewed_from", "cannot be changed after creation")
	case upd.RenewalDate != nil:
		return nil, apperror.NewInvalidValue("renewal_date", "cannot be changed after creation")
	}

	var period *SchemePeriod
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		p, err := s.periods.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if upd.IsCurrent != nil {
			if !*upd.IsCurrent {
				if p.IsCurrent {
					return apperror.NewInvalidValue("is_current", "use terminate or renew to retire the current period")
				}
			} else if !p.IsCurrent {
				cur, err := s.periods.GetCurrent(ctx, p.SchemeID)
				if err == nil && cur.ID != p.ID {
					return apperror.NewValidation(
						"another period (Period %d) is already marked as current for this scheme", cur.PeriodNumber)
				}
				if err != nil && !apperror.IsNotFound(err) {
					return err
				}
				p.IsCurrent = true
			}
		}

		datesChanged := false
		if upd.StartDate != nil && !upd.StartDate.Equal(p.StartDate) {
			p.StartDate = *upd.StartDate
			datesChanged = true
		}
		if upd.EndDate != nil && !upd.EndDate.Equal(p.EndDate) {
			p.EndDate = *upd.EndDate
			datesChanged = true
		}
		if err := validateDates(p.StartDate, p.EndDate); err != nil {
			return err
		}
		if datesChanged {
			overlapping, err := s.periods.ListActiveOverlapping(ctx, p.SchemeID, p.StartDate, p.EndDate, p.ID)
			if err != nil {
				return err
			}
			if len(overlapping) > 0 {
				return apperror.NewValidation("new dates overlap period %d", overlapping[0].PeriodNumber)
			}
		}
		if upd.TerminationDate != nil {
			if !upd.TerminationDate.After(p.EndDate) {
				return apperror.NewInvalidValue("termination_date", "must be after end_date")
			}
			p.TerminationDate = upd.TerminationDate
		}
		if upd.LimitAmount != nil {
			if !upd.LimitAmount.IsPositive() {
				return apperror.NewInvalidValue("limit_amount", "must be greater than zero")
			}
			p.LimitAmount = *upd.LimitAmount
		}
		if upd.Remark != nil {
			p.Remark = *upd.Remark
		}
		if upd.Status != nil {
			if *upd.Status != StatusActive && *upd.Status != StatusInactive && *upd.Status != StatusSuspended {
				return apperror.NewInvalidValue("status", "unknown period status "+*upd.Status)
			}
			p.Status = *upd.Status
		}

		period = p
		return s.periods.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return period, nil
}

// TerminatePeriod marks a period INACTIVE and non-current, stamping an
// effective termination date. No successor is created.
func (s *Service) TerminatePeriod(ctx context.Context, id uuid.UUID, reason string) (*SchemePeriod, error) {
	var period *SchemePeriod
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		p, err := s.periods.GetByID(ctx, id)
		if err != nil {
			return err
		}
		p.Status = StatusInactive
		p.IsCurrent = false
		if p.TerminationDate == nil {
			td := p.EndDate.AddDate(0, 0, 1)
			p.TerminationDate = &td
		}
		if reason != "" {
			p.Remark = appendRemark(p.Remark, "Terminated: "+reason)
		}
		period = p
		return s.periods.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Stringer("period_id", id).Str("reason", reason).Msg("period terminated")
	return period, nil
}

// ActivatePeriod restores a period to ACTIVE and clears soft-delete
// markers. It never touches is_current; restoring currency goes through
// Renew or UpdatePeriod.
func (s *Service) ActivatePeriod(ctx context.Context, id uuid.UUID) (*SchemePeriod, error) {
	var period *SchemePeriod
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		p, err := s.periods.GetByID(ctx, id)
		if err != nil {
			return err
		}
		p.Status = StatusActive
		p.IsDeleted = false
		p.DeletedAt = nil
		period = p
		return s.periods.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return period, nil
}

// DeactivateScheme soft-deletes a scheme after terminating its current
// period. Refused while the scheme still has items or active members.
func (s *Service) DeactivateScheme(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		sch, err := s.schemes.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if itemCount, err := s.items.CountItemsByScheme(ctx, id); err != nil {
			return err
		} else if itemCount > 0 {
			return apperror.NewValidation("scheme %s has %d item(s); remove them first", sch.Name, itemCount)
		}
		if s.members != nil {
			n, err := s.members.CountActiveByScheme(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return apperror.NewValidation("scheme %s has %d active member(s); deactivate them first", sch.Name, n)
			}
		}

		cur, err := s.periods.GetCurrentForUpdate(ctx, id)
		switch {
		case err == nil:
			if _, err := s.TerminatePeriod(ctx, cur.ID, "scheme deactivated"); err != nil {
				return err
			}
		case !apperror.IsNotFound(err):
			return err
		}
		return s.schemes.SoftDelete(ctx, id)
	})
}

func (s *Service) GetScheme(ctx context.Context, id uuid.UUID) (*Scheme, error) {
	return s.schemes.GetByID(ctx, id)
}

func (s *Service) ListSchemes(ctx context.Context, companyID *uuid.UUID, includeDeleted bool, limit, offset int) ([]*Scheme, int, error) {
	return s.schemes.List(ctx, companyID, includeDeleted, limit, offset)
}

func (s *Service) UpdateScheme(ctx context.Context, sch *Scheme) error {
	existing, err := s.schemes.GetByID(ctx, sch.ID)
	if err != nil {
		return err
	}
	if existing.IsDeleted {
		return apperror.NewInactiveEntity("scheme", existing.Name)
	}
	if sch.Name == "" {
		return apperror.NewRequiredField("name")
	}
	if sch.CardCode != "" && sch.CardCode != existing.CardCode {
		return apperror.NewInvalidValue("card_code", "cannot be changed after creation")
	}
	sch.CardCode = existing.CardCode
	sch.CompanyID = existing.CompanyID
	return s.schemes.Update(ctx, sch)
}

func (s *Service) ListPeriods(ctx context.Context, schemeID uuid.UUID) ([]*SchemePeriod, error) {
	return s.periods.ListByScheme(ctx, schemeID)
}

func (s *Service) GetPeriod(ctx context.Context, id uuid.UUID) (*SchemePeriod, error) {
	return s.periods.GetByID(ctx, id)
}

// AddItem attaches a coverage entity to a period.
func (s *Service) AddItem(ctx context.Context, it *SchemeItem) error {
	if !it.ItemType.Valid() {
		return apperror.NewInvalidValue("item_type", "unknown item type "+string(it.ItemType))
	}
	if it.Name == "" {
		return apperror.NewRequiredField("name")
	}
	if _, err := s.periods.GetByID(ctx, it.SchemePeriodID); err != nil {
		return err
	}
	return s.items.CreateItem(ctx, it)
}

func (s *Service) ListItems(ctx context.Context, periodID uuid.UUID) ([]*SchemeItem, error) {
	return s.items.ListItems(ctx, periodID)
}
