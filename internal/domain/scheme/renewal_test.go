package scheme

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medscheme/medscheme/internal/platform/apperror"
)

func TestRenewCreatesSequentialCurrentPeriod(t *testing.T) {
	env := newTestEnv(t)
	sch, p1 := env.createScheme(t, "S01", true)

	p2, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1),
		EndDate:   date(2025, 12, 31),
	})
	if err != nil {
		t.Fatal(err)
	}

	if p2.PeriodNumber != 2 {
		t.Errorf("period number = %d, want 2", p2.PeriodNumber)
	}
	if !p2.IsCurrent {
		t.Error("new period must be current")
	}
	if p2.RenewedFromID == nil || *p2.RenewedFromID != p1.ID {
		t.Error("renewed_from does not point at the prior period")
	}
	if p2.RenewalDate == nil {
		t.Error("renewal_date not stamped")
	}

	prior, err := env.periods.GetByID(context.Background(), p1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prior.IsCurrent {
		t.Error("prior period still current after renewal")
	}
}

func TestRenewDefaultsLimitToPrior(t *testing.T) {
	env := newTestEnv(t)
	sch, p1 := env.createScheme(t, "S01", true)

	p2, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1),
		EndDate:   date(2025, 12, 31),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !p2.LimitAmount.Equal(p1.LimitAmount) {
		t.Errorf("limit = %s, want prior %s", p2.LimitAmount, p1.LimitAmount)
	}
}

func TestRenewNonRenewableSchemeFails(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", false)

	before := len(env.periods.items)
	_, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1), EndDate: date(2025, 12, 31),
	})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	if len(env.periods.items) != before {
		t.Error("failed renewal created a period")
	}
}

func TestRenewWithoutCurrentPeriodFails(t *testing.T) {
	env := newTestEnv(t)
	sch, p1 := env.createScheme(t, "S01", true)
	if _, err := env.svc.TerminatePeriod(context.Background(), p1.ID, "gone"); err != nil {
		t.Fatal(err)
	}

	before := len(env.periods.items)
	_, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1), EndDate: date(2025, 12, 31),
	})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("got %v, want not-found error", err)
	}
	if len(env.periods.items) != before {
		t.Error("failed renewal created a period")
	}
}

func TestRenewRejectsOutOfSequenceNumber(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	_, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate:    date(2025, 1, 1),
		EndDate:      date(2025, 12, 31),
		PeriodNumber: intPtr(5),
	})
	if !errors.Is(err, apperror.ErrInvalidValue) {
		t.Fatalf("got %v, want invalid-value error", err)
	}
}

func TestRenewWarnsOnGap(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	p2, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 2, 1),
		EndDate:   date(2026, 1, 31),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p2.Remark, "coverage gap") {
		t.Errorf("remark %q missing gap warning", p2.Remark)
	}
	if !strings.Contains(p2.Remark, "31 day") {
		t.Errorf("remark %q does not state the 31 day gap", p2.Remark)
	}
}

func TestRenewRejectsOverlapWithCurrentPeriod(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	_, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2024, 11, 1),
		EndDate:   date(2025, 10, 31),
	})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "period 1") {
		t.Errorf("error %q does not name period 1", err)
	}
}

// A range ending before the current period starts triggers the early-start
// warning without intersecting the current coverage.
func TestRenewWarnsOnBackdatedRange(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	p2, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2023, 1, 1),
		EndDate:   date(2023, 6, 30),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p2.Remark, "starts before period 1") {
		t.Errorf("remark %q missing early-start warning", p2.Remark)
	}
}

// Renewal history: period 1 (2024) -> period 2 (2025). A second renewal
// whose range overlaps the still-ACTIVE period 2 must be rejected outright,
// naming period 2.
func TestRenewRejectsOverlapWithOtherActivePeriod(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	if _, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1), EndDate: date(2025, 12, 31),
	}); err != nil {
		t.Fatal(err)
	}

	_, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 6, 1), EndDate: date(2026, 5, 31),
	})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "period 2") {
		t.Errorf("error %q does not name period 2", err)
	}
}

func TestRenewRecordsChangesSummary(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	p2, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate:   date(2025, 1, 1),
		EndDate:     date(2025, 12, 31),
		LimitAmount: decPtr("150000"),
	})
	if err != nil {
		t.Fatal(err)
	}

	change, ok := p2.ChangesSummary["limit_amount"]
	if !ok {
		t.Fatal("changes summary missing limit_amount")
	}
	if change.From != "100000" || change.To != "150000" {
		t.Errorf("limit change = %+v, want 100000 -> 150000", change)
	}
	if _, ok := p2.ChangesSummary["start_date"]; !ok {
		t.Error("changes summary missing start_date")
	}
}

// Full renewal chain: numbers are contiguous from 1 and each period's
// renewed_from points at its predecessor, with exactly one current.
func TestRenewalChainInvariants(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	for year := 2025; year <= 2027; year++ {
		if _, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
			StartDate: date(year, 1, 1), EndDate: date(year, 12, 31),
		}); err != nil {
			t.Fatalf("renew %d: %v", year, err)
		}
	}

	periods, err := env.periods.ListByScheme(context.Background(), sch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(periods) != 4 {
		t.Fatalf("got %d periods, want 4", len(periods))
	}
	currentCount := 0
	for i, p := range periods {
		if p.PeriodNumber != i+1 {
			t.Errorf("period %d has number %d", i, p.PeriodNumber)
		}
		if i > 0 && (p.RenewedFromID == nil || *p.RenewedFromID != periods[i-1].ID) {
			t.Errorf("period %d renewed_from does not point at period %d", p.PeriodNumber, i)
		}
		if p.IsCurrent {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Errorf("found %d current periods, want exactly 1", currentCount)
	}
}

func TestValidateRenewalReadinessNotReady(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", false)

	report, err := env.svc.ValidateRenewalReadiness(context.Background(), sch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Ready {
		t.Error("non-renewable scheme reported ready")
	}
	if len(report.Reasons) == 0 {
		t.Error("no reasons given")
	}
}

func TestValidateRenewalReadinessWarnings(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	// Fixed clock: 200 days before the 2024-12-31 expiry.
	env.svc.now = func() time.Time { return date(2024, 6, 14) }

	report, err := env.svc.ValidateRenewalReadiness(context.Background(), sch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Ready {
		t.Fatalf("scheme not ready: %v", report.Reasons)
	}
	if report.DaysUntilExpiry != 200 {
		t.Errorf("days until expiry = %d, want 200", report.DaysUntilExpiry)
	}
	wantEarly := false
	wantNoItems := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "early") {
			wantEarly = true
		}
		if strings.Contains(w, "no attached items") {
			wantNoItems = true
		}
	}
	if !wantEarly {
		t.Errorf("warnings %v missing early-renewal advisory", report.Warnings)
	}
	if !wantNoItems {
		t.Errorf("warnings %v missing zero-items advisory", report.Warnings)
	}
}

func TestValidateRenewalReadinessUrgent(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)
	env.svc.now = func() time.Time { return date(2024, 12, 28) }

	report, err := env.svc.ValidateRenewalReadiness(context.Background(), sch.ID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "urgent") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings %v missing urgent advisory", report.Warnings)
	}
}

func TestSuggestNextRenewalDates(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	start, end, err := env.svc.SuggestNextRenewalDates(context.Background(), sch.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !start.Equal(date(2025, 1, 1)) {
		t.Errorf("start = %v, want 2025-01-01", start)
	}
	if !end.Equal(date(2025, 12, 31)) {
		t.Errorf("end = %v, want 2025-12-31", end)
	}
}

func TestIsRenewalOverdue(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	env.svc.now = func() time.Time { return date(2024, 6, 1) }
	overdue, _, err := env.svc.IsRenewalOverdue(context.Background(), sch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if overdue {
		t.Error("mid-term period reported overdue")
	}

	env.svc.now = func() time.Time { return date(2025, 1, 11) }
	overdue, days, err := env.svc.IsRenewalOverdue(context.Background(), sch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !overdue || days != 11 {
		t.Errorf("overdue = %v days = %d, want true/11", overdue, days)
	}
}

func TestBulkRenewIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	good, _ := env.createScheme(t, "AAA", true)
	bad, _ := env.createScheme(t, "BBB", false)

	result, err := env.svc.BulkRenew(context.Background(), []uuid.UUID{good.ID, bad.ID, uuid.New()}, PeriodInput{
		StartDate: date(2025, 1, 1), EndDate: date(2025, 12, 31),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 3 {
		t.Errorf("total = %d, want 3", result.Total)
	}
	if len(result.Succeeded) != 1 || result.Succeeded[0].SchemeID != good.ID {
		t.Errorf("succeeded = %+v, want only scheme AAA", result.Succeeded)
	}
	if len(result.Failed) != 2 {
		t.Errorf("failed = %+v, want 2 failures", result.Failed)
	}
}

func TestRenewWithItemsClonesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	sch, p1 := env.createScheme(t, "S01", true)

	for _, it := range []*SchemeItem{
		{SchemePeriodID: p1.ID, ItemType: ItemPlan, ItemRefID: uuid.New(), Name: "Gold Plan"},
		{SchemePeriodID: p1.ID, ItemType: ItemHospital, ItemRefID: uuid.New(), Name: "City Hospital"},
		{SchemePeriodID: p1.ID, ItemType: ItemMedicine, ItemRefID: uuid.New(), Name: "Amoxicillin"},
	} {
		if err := env.svc.AddItem(context.Background(), it); err != nil {
			t.Fatal(err)
		}
	}

	p2, err := env.svc.RenewWithItems(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1), EndDate: date(2025, 12, 31),
	}, CloneOptions{
		CloneItems: true,
		ItemTypes:  []ItemType{ItemPlan, ItemHospital},
	})
	if err != nil {
		t.Fatal(err)
	}

	cloned, err := env.items.ListItems(context.Background(), p2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cloned) != 2 {
		t.Fatalf("cloned %d items, want 2 (medicine filtered out)", len(cloned))
	}
	for _, it := range cloned {
		if it.ItemType == ItemMedicine {
			t.Error("medicine item cloned despite type filter")
		}
	}
}

func TestRenewWithItemsExcludesRefIDs(t *testing.T) {
	env := newTestEnv(t)
	sch, p1 := env.createScheme(t, "S01", true)

	keep := &SchemeItem{SchemePeriodID: p1.ID, ItemType: ItemPlan, ItemRefID: uuid.New(), Name: "Keep"}
	drop := &SchemeItem{SchemePeriodID: p1.ID, ItemType: ItemPlan, ItemRefID: uuid.New(), Name: "Drop"}
	for _, it := range []*SchemeItem{keep, drop} {
		if err := env.svc.AddItem(context.Background(), it); err != nil {
			t.Fatal(err)
		}
	}

	p2, err := env.svc.RenewWithItems(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1), EndDate: date(2025, 12, 31),
	}, CloneOptions{CloneItems: true, ExcludeItemRefIDs: []uuid.UUID{drop.ItemRefID}})
	if err != nil {
		t.Fatal(err)
	}

	cloned, err := env.items.ListItems(context.Background(), p2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cloned) != 1 || cloned[0].Name != "Keep" {
		t.Errorf("cloned = %+v, want only the Keep item", cloned)
	}
}

func TestPeriodStats(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "S01", true)

	if _, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1), EndDate: date(2025, 12, 31), LimitAmount: decPtr("200000"),
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := env.svc.GetPeriodStats(context.Background(), sch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalPeriods != 2 || stats.RenewalCount != 1 {
		t.Errorf("totals = %d/%d, want 2 periods, 1 renewal", stats.TotalPeriods, stats.RenewalCount)
	}
	if !stats.TotalLimit.Equal(dec("300000")) {
		t.Errorf("total limit = %s, want 300000", stats.TotalLimit)
	}
	if !stats.AverageLimit.Equal(dec("150000")) {
		t.Errorf("average limit = %s, want 150000", stats.AverageLimit)
	}
	if stats.Current == nil || stats.Current.PeriodNumber != 2 {
		t.Error("stats missing current period snapshot")
	}
}

func TestExpiringPeriods(t *testing.T) {
	env := newTestEnv(t)
	env.createScheme(t, "AAA", true)
	env.createScheme(t, "BBB", true)

	env.svc.now = func() time.Time { return date(2024, 12, 15) }
	expiring, err := env.svc.ExpiringPeriods(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(expiring) != 2 {
		t.Errorf("got %d expiring periods, want 2", len(expiring))
	}

	env.svc.now = func() time.Time { return date(2024, 6, 1) }
	expiring, err = env.svc.ExpiringPeriods(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(expiring) != 0 {
		t.Errorf("got %d expiring periods mid-year, want 0", len(expiring))
	}
}
