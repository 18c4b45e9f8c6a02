package scheme

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medscheme/medscheme/internal/platform/apperror"
	"github.com/medscheme/medscheme/internal/platform/db"
)

// ReadinessReport tells a caller whether a scheme can be renewed now and
// flags timing concerns that do not block the renewal.
type ReadinessReport struct {
	SchemeID        uuid.UUID `json:"scheme_id"`
	Ready           bool      `json:"ready"`
	Reasons         []string  `json:"reasons,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
}

const (
	earlyRenewalDays  = 90
	urgentRenewalDays = 7
)

func (s *Service) ValidateRenewalReadiness(ctx context.Context, schemeID uuid.UUID) (*ReadinessReport, error) {
	sch, err := s.schemes.GetByID(ctx, schemeID)
	if err != nil {
		return nil, err
	}

	report := &ReadinessReport{SchemeID: schemeID, Ready: true}
	if !sch.IsActive() {
		report.Ready = false
		report.Reasons = append(report.Reasons, fmt.Sprintf("scheme %s is not active", sch.Name))
	}
	if !sch.IsRenewable {
		report.Ready = false
		report.Reasons = append(report.Reasons, fmt.Sprintf("scheme %s is not renewable", sch.Name))
	}

	cur, err := s.periods.GetCurrent(ctx, schemeID)
	if err != nil {
		if apperror.IsNotFound(err) {
			report.Ready = false
			report.Reasons = append(report.Reasons, "scheme has no current period")
			return report, nil
		}
		return nil, err
	}
	if !report.Ready {
		return report, nil
	}

	days := daysBetween(s.today(), cur.EndDate)
	report.DaysUntilExpiry = days
	switch {
	case days > earlyRenewalDays:
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("renewing %d days before expiry; more than %d days early", days, earlyRenewalDays))
	case days < 0:
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("late renewal; period expired %d days ago", -days))
	case days <= urgentRenewalDays:
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("urgent; period expires in %d days", days))
	}
	if cur.Status != StatusActive {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("current period status is %s, not ACTIVE", cur.Status))
	}
	items, err := s.items.ListItems(ctx, cur.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		report.Warnings = append(report.Warnings, "current period has no attached items")
	}
	return report, nil
}

// SuggestNextRenewalDates proposes the successor period's date range,
// starting the day after the current period ends.
func (s *Service) SuggestNextRenewalDates(ctx context.Context, schemeID uuid.UUID, durationDays int) (start, end time.Time, err error) {
	if durationDays <= 0 {
		durationDays = 365
	}
	cur, err := s.periods.GetCurrent(ctx, schemeID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = cur.EndDate.AddDate(0, 0, 1)
	end = start.AddDate(0, 0, durationDays-1)
	return start, end, nil
}

// IsRenewalOverdue reports whether the current period has already expired
// and by how many days.
func (s *Service) IsRenewalOverdue(ctx context.Context, schemeID uuid.UUID) (bool, int, error) {
	cur, err := s.periods.GetCurrent(ctx, schemeID)
	if err != nil {
		return false, 0, err
	}
	today := s.today()
	if !today.After(cur.EndDate) {
		return false, 0, nil
	}
	return true, daysBetween(cur.EndDate, today), nil
}

// BulkRenewResult collects per-scheme outcomes of a batch renewal. One
// scheme's failure never aborts the batch.
type BulkRenewResult struct {
	Total     int                 `json:"total"`
	Succeeded []BulkRenewOutcome  `json:"succeeded"`
	Failed    []BulkRenewFailure  `json:"failed"`
}

type BulkRenewOutcome struct {
	SchemeID     uuid.UUID `json:"scheme_id"`
	PeriodID     uuid.UUID `json:"period_id"`
	PeriodNumber int       `json:"period_number"`
}

type BulkRenewFailure struct {
	SchemeID uuid.UUID `json:"scheme_id"`
	Error    string    `json:"error"`
}

func (s *Service) BulkRenew(ctx context.Context, schemeIDs []uuid.UUID, template PeriodInput) (*BulkRenewResult, error) {
	if len(schemeIDs) == 0 {
		return nil, apperror.NewRequiredField("scheme_ids")
	}
	result := &BulkRenewResult{Total: len(schemeIDs)}
	for _, id := range schemeIDs {
		p, err := s.Renew(ctx, id, template)
		if err != nil {
			s.log.Warn().Stringer("scheme_id", id).Err(err).Msg("bulk renew: scheme failed")
			result.Failed = append(result.Failed, BulkRenewFailure{SchemeID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, BulkRenewOutcome{
			SchemeID:     id,
			PeriodID:     p.ID,
			PeriodNumber: p.PeriodNumber,
		})
	}
	s.log.Info().Int("total", result.Total).Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).Msg("bulk renew finished")
	return result, nil
}

// CloneOptions controls which of the prior period's items are carried onto
// the renewed period.
type CloneOptions struct {
	CloneItems        bool        `json:"clone_items"`
	ItemTypes         []ItemType  `json:"item_types,omitempty"`
	ExcludeItemRefIDs []uuid.UUID `json:"exclude_item_ref_ids,omitempty"`
	RemarkOverride    *string     `json:"remark_override,omitempty"`
}

// RenewWithItems renews the scheme and, when asked, clones the prior
// period's item snapshot onto the successor.
func (s *Service) RenewWithItems(ctx context.Context, schemeID uuid.UUID, input PeriodInput, opts CloneOptions) (*SchemePeriod, error) {
	var period *SchemePeriod
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		p, err := s.Renew(ctx, schemeID, input)
		if err != nil {
			return err
		}
		period = p
		if !opts.CloneItems || p.RenewedFromID == nil {
			return nil
		}

		items, err := s.items.ListItems(ctx, *p.RenewedFromID)
		if err != nil {
			return err
		}
		typeFilter := make(map[ItemType]bool, len(opts.ItemTypes))
		for _, t := range opts.ItemTypes {
			typeFilter[t] = true
		}
		excluded := make(map[uuid.UUID]bool, len(opts.ExcludeItemRefIDs))
		for _, id := range opts.ExcludeItemRefIDs {
			excluded[id] = true
		}

		cloned := 0
		for _, it := range items {
			if len(typeFilter) > 0 && !typeFilter[it.ItemType] {
				continue
			}
			if excluded[it.ItemRefID] {
				continue
			}
			clone := &SchemeItem{
				SchemePeriodID: p.ID,
				ItemType:       it.ItemType,
				ItemRefID:      it.ItemRefID,
				Name:           it.Name,
				Remark:         it.Remark,
			}
			if opts.RemarkOverride != nil {
				clone.Remark = *opts.RemarkOverride
			}
			if err := s.items.CreateItem(ctx, clone); err != nil {
				return err
			}
			cloned++
		}
		s.log.Info().Stringer("scheme_id", schemeID).Int("cloned_items", cloned).Msg("renewed with items")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return period, nil
}

// PeriodStats summarizes a scheme's renewal history for dashboards.
type PeriodStats struct {
	SchemeID     uuid.UUID       `json:"scheme_id"`
	TotalPeriods int             `json:"total_periods"`
	RenewalCount int             `json:"renewal_count"`
	TotalLimit   decimal.Decimal `json:"total_limit"`
	AverageLimit decimal.Decimal `json:"average_limit"`
	Current      *SchemePeriod   `json:"current,omitempty"`
}

func (s *Service) GetPeriodStats(ctx context.Context, schemeID uuid.UUID) (*PeriodStats, error) {
	if _, err := s.schemes.GetByID(ctx, schemeID); err != nil {
		return nil, err
	}
	periods, err := s.periods.ListByScheme(ctx, schemeID)
	if err != nil {
		return nil, err
	}

	stats := &PeriodStats{SchemeID: schemeID, TotalPeriods: len(periods)}
	if len(periods) == 0 {
		return stats, nil
	}
	stats.RenewalCount = len(periods) - 1
	for _, p := range periods {
		stats.TotalLimit = stats.TotalLimit.Add(p.LimitAmount)
		if p.IsCurrent {
			stats.Current = p
		}
	}
	stats.AverageLimit = stats.TotalLimit.Div(decimal.NewFromInt(int64(len(periods)))).Round(2)
	return stats, nil
}

// ExpiringPeriods lists current periods that end within the window.
func (s *Service) ExpiringPeriods(ctx context.Context, withinDays int) ([]*SchemePeriod, error) {
	if withinDays <= 0 {
		withinDays = 30
	}
	return s.periods.Expiring(ctx, withinDays, s.today())
}
