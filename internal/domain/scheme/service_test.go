package scheme

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medscheme/medscheme/internal/domain/company"
	"github.com/medscheme/medscheme/internal/platform/apperror"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type mockSchemeRepo struct {
	items map[uuid.UUID]*Scheme
}

func newMockSchemeRepo() *mockSchemeRepo {
	return &mockSchemeRepo{items: make(map[uuid.UUID]*Scheme)}
}

func (m *mockSchemeRepo) Create(_ context.Context, s *Scheme) error {
	for _, existing := range m.items {
		if existing.CardCode == s.CardCode {
			return apperror.NewDuplicate("scheme", "scheme_card_code_key")
		}
	}
	s.ID = uuid.New()
	if s.Status == "" {
		s.Status = StatusActive
	}
	m.items[s.ID] = s
	return nil
}

func (m *mockSchemeRepo) GetByID(_ context.Context, id uuid.UUID) (*Scheme, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, apperror.NewNotFound("scheme", id.String())
	}
	return s, nil
}

func (m *mockSchemeRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Scheme, error) {
	return m.GetByID(ctx, id)
}

func (m *mockSchemeRepo) GetByCardCode(_ context.Context, code string) (*Scheme, error) {
	for _, s := range m.items {
		if s.CardCode == code {
			return s, nil
		}
	}
	return nil, apperror.NewNotFound("scheme", code)
}

func (m *mockSchemeRepo) Update(_ context.Context, s *Scheme) error {
	m.items[s.ID] = s
	return nil
}

func (m *mockSchemeRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	s, ok := m.items[id]
	if !ok {
		return apperror.NewNotFound("scheme", id.String())
	}
	s.IsDeleted = true
	s.Status = StatusInactive
	return nil
}

func (m *mockSchemeRepo) List(_ context.Context, companyID *uuid.UUID, includeDeleted bool, limit, offset int) ([]*Scheme, int, error) {
	var result []*Scheme
	for _, s := range m.items {
		if companyID != nil && s.CompanyID != *companyID {
			continue
		}
		if !includeDeleted && s.IsDeleted {
			continue
		}
		result = append(result, s)
	}
	return result, len(result), nil
}

type mockPeriodRepo struct {
	items map[uuid.UUID]*SchemePeriod
}

func newMockPeriodRepo() *mockPeriodRepo {
	return &mockPeriodRepo{items: make(map[uuid.UUID]*SchemePeriod)}
}

func (m *mockPeriodRepo) Create(_ context.Context, p *SchemePeriod) error {
	for _, existing := range m.items {
		if existing.SchemeID == p.SchemeID && existing.PeriodNumber == p.PeriodNumber {
			return apperror.NewDuplicate("scheme period", "scheme_period_number_key")
		}
	}
	p.ID = uuid.New()
	if p.Status == "" {
		p.Status = StatusActive
	}
	m.items[p.ID] = p
	return nil
}

func (m *mockPeriodRepo) GetByID(_ context.Context, id uuid.UUID) (*SchemePeriod, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, apperror.NewNotFound("scheme period", id.String())
	}
	return p, nil
}

func (m *mockPeriodRepo) GetCurrent(_ context.Context, schemeID uuid.UUID) (*SchemePeriod, error) {
	for _, p := range m.items {
		if p.SchemeID == schemeID && p.IsCurrent && !p.IsDeleted {
			return p, nil
		}
	}
	return nil, apperror.NewNotFound("current period", schemeID.String())
}

func (m *mockPeriodRepo) GetCurrentForUpdate(ctx context.Context, schemeID uuid.UUID) (*SchemePeriod, error) {
	return m.GetCurrent(ctx, schemeID)
}

func (m *mockPeriodRepo) SetCurrent(_ context.Context, id uuid.UUID, current bool) error {
	p, ok := m.items[id]
	if !ok {
		return apperror.NewNotFound("scheme period", id.String())
	}
	p.IsCurrent = current
	return nil
}

func (m *mockPeriodRepo) Update(_ context.Context, p *SchemePeriod) error {
	m.items[p.ID] = p
	return nil
}

func (m *mockPeriodRepo) ListByScheme(_ context.Context, schemeID uuid.UUID) ([]*SchemePeriod, error) {
	var result []*SchemePeriod
	for _, p := range m.items {
		if p.SchemeID == schemeID && !p.IsDeleted {
			result = append(result, p)
		}
	}
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].PeriodNumber < result[i].PeriodNumber {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

func (m *mockPeriodRepo) ListActiveOverlapping(_ context.Context, schemeID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]*SchemePeriod, error) {
	var result []*SchemePeriod
	for _, p := range m.items {
		if p.SchemeID != schemeID || p.ID == excludeID || p.IsDeleted || p.Status != StatusActive {
			continue
		}
		if p.TerminationDate != nil && !p.TerminationDate.After(start) {
			continue
		}
		if p.Overlaps(start, end) {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockPeriodRepo) Expiring(_ context.Context, withinDays int, asOf time.Time) ([]*SchemePeriod, error) {
	cutoff := asOf.AddDate(0, 0, withinDays)
	var result []*SchemePeriod
	for _, p := range m.items {
		if p.IsCurrent && !p.IsDeleted && p.Status == StatusActive &&
			!p.EndDate.Before(asOf) && !p.EndDate.After(cutoff) {
			result = append(result, p)
		}
	}
	return result, nil
}

type mockItemRepo struct {
	items map[uuid.UUID]*SchemeItem
	// periodScheme lets CountItemsByScheme resolve items without SQL joins.
	periodScheme map[uuid.UUID]uuid.UUID
}

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{
		items:        make(map[uuid.UUID]*SchemeItem),
		periodScheme: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockItemRepo) CreateItem(_ context.Context, it *SchemeItem) error {
	it.ID = uuid.New()
	m.items[it.ID] = it
	return nil
}

func (m *mockItemRepo) ListItems(_ context.Context, periodID uuid.UUID) ([]*SchemeItem, error) {
	var result []*SchemeItem
	for _, it := range m.items {
		if it.SchemePeriodID == periodID {
			result = append(result, it)
		}
	}
	return result, nil
}

func (m *mockItemRepo) CountItemsByScheme(_ context.Context, schemeID uuid.UUID) (int, error) {
	n := 0
	for _, it := range m.items {
		if m.periodScheme[it.SchemePeriodID] == schemeID {
			n++
		}
	}
	return n, nil
}

type mockCompanyDir struct {
	companies map[uuid.UUID]*company.Company
}

func newMockCompanyDir() *mockCompanyDir {
	return &mockCompanyDir{companies: make(map[uuid.UUID]*company.Company)}
}

func (m *mockCompanyDir) addActive() uuid.UUID {
	id := uuid.New()
	m.companies[id] = &company.Company{ID: id, Name: "Test Co", Status: company.StatusActive}
	return id
}

func (m *mockCompanyDir) GetActive(_ context.Context, id uuid.UUID) (*company.Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return nil, apperror.NewNotFound("company", id.String())
	}
	if !c.IsActive() {
		return nil, apperror.NewInactiveEntity("company", c.Name)
	}
	return c, nil
}

type mockSchemeMembers struct{ active int }

func (m *mockSchemeMembers) CountActiveByScheme(_ context.Context, _ uuid.UUID) (int, error) {
	return m.active, nil
}

type testEnv struct {
	svc       *Service
	schemes   *mockSchemeRepo
	periods   *mockPeriodRepo
	items     *mockItemRepo
	companies *mockCompanyDir
	members   *mockSchemeMembers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		schemes:   newMockSchemeRepo(),
		periods:   newMockPeriodRepo(),
		items:     newMockItemRepo(),
		companies: newMockCompanyDir(),
		members:   &mockSchemeMembers{},
	}
	env.svc = NewService(env.schemes, env.periods, env.items, env.companies, env.members, nil, zerolog.Nop())
	return env
}

func (e *testEnv) createScheme(t *testing.T, cardCode string, renewable bool) (*Scheme, *SchemePeriod) {
	t.Helper()
	sch := &Scheme{
		CompanyID:   e.companies.addActive(),
		Name:        "Scheme " + cardCode,
		CardCode:    cardCode,
		IsRenewable: renewable,
	}
	period, err := e.svc.CreateScheme(context.Background(), sch, PeriodInput{
		StartDate:   date(2024, 1, 1),
		EndDate:     date(2024, 12, 31),
		LimitAmount: decPtr("100000"),
	})
	if err != nil {
		t.Fatalf("create scheme: %v", err)
	}
	return sch, period
}

func TestCreateSchemeCreatesInitialPeriod(t *testing.T) {
	env := newTestEnv(t)
	sch, period := env.createScheme(t, "abc", true)

	if sch.CardCode != "ABC" {
		t.Errorf("card code = %q, want normalized ABC", sch.CardCode)
	}
	if period.PeriodNumber != 1 || !period.IsCurrent {
		t.Errorf("initial period = number %d current %v, want 1/true", period.PeriodNumber, period.IsCurrent)
	}
	if period.RenewedFromID != nil {
		t.Error("initial period must not have renewed_from")
	}
}

func TestCreateSchemeRejectsBadCardCode(t *testing.T) {
	env := newTestEnv(t)
	sch := &Scheme{CompanyID: env.companies.addActive(), Name: "Bad", CardCode: "ABCD"}
	_, err := env.svc.CreateScheme(context.Background(), sch, PeriodInput{
		StartDate: date(2024, 1, 1), EndDate: date(2024, 12, 31), LimitAmount: decPtr("1000"),
	})
	if !errors.Is(err, apperror.ErrInvalidValue) {
		t.Fatalf("got %v, want invalid-value error", err)
	}
}

func TestCreateSchemeRejectsDuplicateCardCode(t *testing.T) {
	env := newTestEnv(t)
	env.createScheme(t, "ABC", true)

	sch := &Scheme{CompanyID: env.companies.addActive(), Name: "Clone", CardCode: "ABC"}
	_, err := env.svc.CreateScheme(context.Background(), sch, PeriodInput{
		StartDate: date(2024, 1, 1), EndDate: date(2024, 12, 31), LimitAmount: decPtr("1000"),
	})
	if !errors.Is(err, apperror.ErrDuplicate) {
		t.Fatalf("got %v, want duplicate error", err)
	}
}

func TestCreateSchemeRequiresActiveCompany(t *testing.T) {
	env := newTestEnv(t)
	companyID := env.companies.addActive()
	env.companies.companies[companyID].Status = company.StatusSuspended

	sch := &Scheme{CompanyID: companyID, Name: "S", CardCode: "XYZ"}
	_, err := env.svc.CreateScheme(context.Background(), sch, PeriodInput{
		StartDate: date(2024, 1, 1), EndDate: date(2024, 12, 31), LimitAmount: decPtr("1000"),
	})
	if !errors.Is(err, apperror.ErrInactiveEntity) {
		t.Fatalf("got %v, want inactive-entity error", err)
	}
}

func TestUpdatePeriodRejectsProtectedFields(t *testing.T) {
	env := newTestEnv(t)
	_, period := env.createScheme(t, "ABC", true)

	for _, upd := range []PeriodUpdate{
		{PeriodNumber: intPtr(5)},
		{SchemeID: uuidPtr(uuid.New())},
		{RenewedFromID: uuidPtr(uuid.New())},
		{RenewalDate: timePtr(date(2024, 6, 1))},
	} {
		if _, err := env.svc.UpdatePeriod(context.Background(), period.ID, upd); !errors.Is(err, apperror.ErrInvalidValue) {
			t.Errorf("update %+v: got %v, want invalid-value error", upd, err)
		}
	}
}

func TestUpdatePeriodRejectsClearingCurrent(t *testing.T) {
	env := newTestEnv(t)
	_, period := env.createScheme(t, "ABC", true)

	_, err := env.svc.UpdatePeriod(context.Background(), period.ID, PeriodUpdate{IsCurrent: boolPtr(false)})
	if !errors.Is(err, apperror.ErrInvalidValue) {
		t.Fatalf("got %v, want invalid-value error", err)
	}
}

func TestUpdatePeriodRejectsCurrentWhenAnotherIsCurrent(t *testing.T) {
	env := newTestEnv(t)
	sch, _ := env.createScheme(t, "ABC", true)

	p2, err := env.svc.Renew(context.Background(), sch.ID, PeriodInput{
		StartDate: date(2025, 1, 1), EndDate: date(2025, 12, 31),
	})
	if err != nil {
		t.Fatal(err)
	}
	p1, err := env.periods.GetByID(context.Background(), *p2.RenewedFromID)
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.UpdatePeriod(context.Background(), p1.ID, PeriodUpdate{IsCurrent: boolPtr(true)})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "Period 2") {
		t.Errorf("error %q does not name the conflicting period", err)
	}
}

func TestUpdatePeriodAllowsCurrentAfterTermination(t *testing.T) {
	env := newTestEnv(t)
	_, period := env.createScheme(t, "ABC", true)

	if _, err := env.svc.TerminatePeriod(context.Background(), period.ID, "test"); err != nil {
		t.Fatal(err)
	}
	updated, err := env.svc.UpdatePeriod(context.Background(), period.ID, PeriodUpdate{IsCurrent: boolPtr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.IsCurrent {
		t.Error("period not restored to current")
	}
}

func TestTerminatePeriod(t *testing.T) {
	env := newTestEnv(t)
	_, period := env.createScheme(t, "ABC", true)

	terminated, err := env.svc.TerminatePeriod(context.Background(), period.ID, "company cancelled")
	if err != nil {
		t.Fatal(err)
	}
	if terminated.Status != StatusInactive {
		t.Errorf("status = %s, want INACTIVE", terminated.Status)
	}
	if terminated.IsCurrent {
		t.Error("terminated period still current")
	}
	if terminated.TerminationDate == nil || !terminated.TerminationDate.After(terminated.EndDate) {
		t.Errorf("termination date %v not strictly after end date %v", terminated.TerminationDate, terminated.EndDate)
	}
	if !strings.Contains(terminated.Remark, "company cancelled") {
		t.Errorf("remark %q missing termination reason", terminated.Remark)
	}
}

func TestActivatePeriodDoesNotRestoreCurrent(t *testing.T) {
	env := newTestEnv(t)
	_, period := env.createScheme(t, "ABC", true)

	if _, err := env.svc.TerminatePeriod(context.Background(), period.ID, ""); err != nil {
		t.Fatal(err)
	}
	activated, err := env.svc.ActivatePeriod(context.Background(), period.ID)
	if err != nil {
		t.Fatal(err)
	}
	if activated.Status != StatusActive {
		t.Errorf("status = %s, want ACTIVE", activated.Status)
	}
	if activated.IsCurrent {
		t.Error("activate must not restore is_current")
	}
}

func TestDeactivateSchemeBlockedByItems(t *testing.T) {
	env := newTestEnv(t)
	sch, period := env.createScheme(t, "ABC", true)

	item := &SchemeItem{SchemePeriodID: period.ID, ItemType: ItemPlan, ItemRefID: uuid.New(), Name: "Gold Plan"}
	if err := env.svc.AddItem(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	env.items.periodScheme[period.ID] = sch.ID

	err := env.svc.DeactivateScheme(context.Background(), sch.ID)
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestDeactivateSchemeTerminatesCurrentPeriod(t *testing.T) {
	env := newTestEnv(t)
	sch, period := env.createScheme(t, "ABC", true)

	if err := env.svc.DeactivateScheme(context.Background(), sch.ID); err != nil {
		t.Fatal(err)
	}
	if !sch.IsDeleted {
		t.Error("scheme not soft-deleted")
	}
	p, err := env.periods.GetByID(context.Background(), period.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.IsCurrent || p.Status != StatusInactive {
		t.Errorf("current period not terminated: current=%v status=%s", p.IsCurrent, p.Status)
	}
}

func TestAddItemRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	_, period := env.createScheme(t, "ABC", true)

	item := &SchemeItem{SchemePeriodID: period.ID, ItemType: "gadget", ItemRefID: uuid.New(), Name: "X"}
	if err := env.svc.AddItem(context.Background(), item); !errors.Is(err, apperror.ErrInvalidValue) {
		t.Fatalf("got %v, want invalid-value error", err)
	}
}

func intPtr(v int) *int               { return &v }
func boolPtr(v bool) *bool            { return &v }
func timePtr(v time.Time) *time.Time  { return &v }
func uuidPtr(v uuid.UUID) *uuid.UUID  { return &v }
