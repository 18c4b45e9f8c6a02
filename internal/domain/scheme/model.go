package scheme

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusSuspended = "SUSPENDED"
)

// Scheme is the master record for a company's coverage arrangement. Its
// card code prefixes every member card number and is unique across all
// schemes.
type Scheme struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	CompanyID        uuid.UUID  `db:"company_id" json:"company_id"`
	Name             string     `db:"name" json:"name"`
	CardCode         string     `db:"card_code" json:"card_code"`
	Remark           string     `db:"remark" json:"remark,omitempty"`
	IsRenewable      bool       `db:"is_renewable" json:"is_renewable"`
	FamilyApplicable bool       `db:"family_applicable" json:"family_applicable"`
	Status           string     `db:"status" json:"status"`
	IsDeleted        bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt        *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

func (s *Scheme) IsActive() bool {
	return s.Status == StatusActive && !s.IsDeleted
}

// IsActiveOn reports whether the scheme is in force on a given date,
// judged against its current period.
func (s *Scheme) IsActiveOn(date time.Time, current *SchemePeriod) bool {
	return s.IsActive() && current != nil && current.Covers(date)
}

// FieldChange records one before/after pair in a renewal's changes summary.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SchemePeriod is one dated, limit-bounded coverage interval. Periods form
// a backward chain through RenewedFromID; at most one non-deleted period
// per scheme is current.
type SchemePeriod struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	SchemeID        uuid.UUID              `db:"scheme_id" json:"scheme_id"`
	PeriodNumber    int                    `db:"period_number" json:"period_number"`
	StartDate       time.Time              `db:"start_date" json:"start_date"`
	EndDate         time.Time              `db:"end_date" json:"end_date"`
	TerminationDate *time.Time             `db:"termination_date" json:"termination_date,omitempty"`
	LimitAmount     decimal.Decimal        `db:"limit_amount" json:"limit_amount"`
	RenewedFromID   *uuid.UUID             `db:"renewed_from_id" json:"renewed_from_id,omitempty"`
	RenewalDate     *time.Time             `db:"renewal_date" json:"renewal_date,omitempty"`
	IsCurrent       bool                   `db:"is_current" json:"is_current"`
	ChangesSummary  map[string]FieldChange `db:"changes_summary" json:"changes_summary,omitempty"`
	Remark          string                 `db:"remark" json:"remark,omitempty"`
	Status          string                 `db:"status" json:"status"`
	IsDeleted       bool                   `db:"is_deleted" json:"is_deleted"`
	DeletedAt       *time.Time             `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
}

// EffectiveTerminationDate is the stamped termination date, or the day
// after the period ends when none was set.
func (p *SchemePeriod) EffectiveTerminationDate() time.Time {
	if p.TerminationDate != nil {
		return *p.TerminationDate
	}
	return p.EndDate.AddDate(0, 0, 1)
}

func (p *SchemePeriod) Covers(date time.Time) bool {
	return !date.Before(p.StartDate) && date.Before(p.EffectiveTerminationDate())
}

// Overlaps reports whether the period's date range intersects [start, end].
func (p *SchemePeriod) Overlaps(start, end time.Time) bool {
	return !p.StartDate.After(end) && !p.EndDate.Before(start)
}

// ItemType discriminates what kind of coverage entity a SchemeItem refers
// to. The referenced rows live in their own catalogs; the period only
// snapshots the link.
type ItemType string

const (
	ItemPlan     ItemType = "plan"
	ItemBenefit  ItemType = "benefit"
	ItemHospital ItemType = "hospital"
	ItemService  ItemType = "service"
	ItemLabTest  ItemType = "labtest"
	ItemMedicine ItemType = "medicine"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemPlan, ItemBenefit, ItemHospital, ItemService, ItemLabTest, ItemMedicine:
		return true
	}
	return false
}

// SchemeItem attaches one coverage entity to one scheme period, so that
// each renewal carries its own item snapshot.
type SchemeItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SchemePeriodID uuid.UUID `db:"scheme_period_id" json:"scheme_period_id"`
	ItemType       ItemType  `db:"item_type" json:"item_type"`
	ItemRefID      uuid.UUID `db:"item_ref_id" json:"item_ref_id"`
	Name           string    `db:"name" json:"name"`
	Remark         string    `db:"remark" json:"remark,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
