package member

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medscheme/medscheme/internal/platform/apperror"
	"github.com/medscheme/medscheme/pkg/cardcode"
)

// ImportRow is one line of a bulk member import. MemberKey identifies the
// row within the batch; dependant rows point at their principal through
// ParentKey rather than a database id, since the principal may not exist
// yet.
type ImportRow struct {
	MemberKey    string       `json:"member_key"`
	ParentKey    string       `json:"parent_key,omitempty"`
	CompanyID    uuid.UUID    `json:"company_id"`
	SchemeID     uuid.UUID    `json:"scheme_id"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	NationalID   string       `json:"national_id,omitempty"`
	Gender       string       `json:"gender,omitempty"`
	Relationship Relationship `json:"relationship"`
	DateOfBirth  *time.Time   `json:"date_of_birth,omitempty"`
	CardNumber   string       `json:"card_number,omitempty"`
	Phone        string       `json:"phone,omitempty"`
	Email        string       `json:"email,omitempty"`
}

type ImportRowResult struct {
	MemberKey  string    `json:"member_key"`
	MemberID   uuid.UUID `json:"member_id"`
	CardNumber string    `json:"card_number"`
}

type ImportRowError struct {
	Index     int    `json:"index"`
	MemberKey string `json:"member_key"`
	Error     string `json:"error"`
}

type ImportResult struct {
	Total    int               `json:"total"`
	Created  int               `json:"created"`
	Failed   int               `json:"failed"`
	DryRun   bool              `json:"dry_run"`
	Rows     []ImportRowResult `json:"rows"`
	Errors   []ImportRowError  `json:"errors,omitempty"`
}

// importBatch tracks card-number sequences across a dry run, where nothing
// is persisted and the generator cannot see earlier rows of the batch.
type importBatch struct {
	svc *Service
	// nextPrincipal holds the next free principal sequence per scheme.
	nextPrincipal map[uuid.UUID]int
	schemeCodes   map[uuid.UUID]string
	// nextDependant holds the next free dependant sequence per member key.
	nextDependant map[string]int
	parentCards   map[string]string
	keyToID       map[string]uuid.UUID
}

func (b *importBatch) principalNumber(ctx context.Context, schemeID uuid.UUID) (string, error) {
	code, ok := b.schemeCodes[schemeID]
	if !ok {
		sch, err := b.svc.schemes.GetByID(ctx, schemeID)
		if err != nil {
			return "", err
		}
		code = sch.CardCode
		b.schemeCodes[schemeID] = code
	}
	next, ok := b.nextPrincipal[schemeID]
	if !ok {
		numbers, err := b.svc.members.ListCardNumbersByScheme(ctx, schemeID)
		if err != nil {
			return "", err
		}
		next = cardcode.MaxPrincipalSeq(code, numbers) + 1
	}
	if next > maxPrincipalSeq {
		return "", apperror.NewValidation("scheme %s has no principal card numbers left", code)
	}
	b.nextPrincipal[schemeID] = next + 1
	return cardcode.Format(code, next, 0), nil
}

func (b *importBatch) dependantNumber(ctx context.Context, schemeID uuid.UUID, parentKey string) (string, error) {
	code, ok := b.schemeCodes[schemeID]
	if !ok {
		sch, err := b.svc.schemes.GetByID(ctx, schemeID)
		if err != nil {
			return "", err
		}
		code = sch.CardCode
		b.schemeCodes[schemeID] = code
	}
	parentCard, ok := b.parentCards[parentKey]
	if !ok {
		return "", apperror.NewInvalidValue("parent_key", "parent key "+parentKey+" not found in batch")
	}
	principalSeq, ok := cardcode.PrincipalSeq(code, parentCard)
	if !ok {
		return "", apperror.NewInvalidValue("parent_key",
			"parent card number "+parentCard+" does not match the scheme format")
	}
	next, ok := b.nextDependant[parentKey]
	if !ok {
		next = 1
	}
	if next > maxDependantSeq {
		return "", apperror.NewValidation("principal %s has no dependant card numbers left", parentCard)
	}
	b.nextDependant[parentKey] = next + 1
	return cardcode.Format(code, principalSeq, next), nil
}

// BulkImport processes rows in two passes: principals first, building a
// member_key map, then dependants resolved through ParentKey. Row failures
// are isolated; one bad row never aborts the batch. Under dryRun nothing
// is persisted and card numbers are computed from batch counters, so the
// preview matches what a real import would assign.
func (s *Service) BulkImport(ctx context.Context, rows []ImportRow, dryRun bool) (*ImportResult, error) {
	if len(rows) == 0 {
		return nil, apperror.NewRequiredField("rows")
	}

	result := &ImportResult{Total: len(rows), DryRun: dryRun}
	batch := &importBatch{
		svc:           s,
		nextPrincipal: make(map[uuid.UUID]int),
		schemeCodes:   make(map[uuid.UUID]string),
		nextDependant: make(map[string]int),
		parentCards:   make(map[string]string),
		keyToID:       make(map[string]uuid.UUID),
	}

	fail := func(i int, row ImportRow, err error) {
		result.Failed++
		result.Errors = append(result.Errors, ImportRowError{
			Index:     i,
			MemberKey: row.MemberKey,
			Error:     err.Error(),
		})
	}

	// Pass one: principals.
	for i, row := range rows {
		if !row.Relationship.IsPrincipal() && row.Relationship != "" {
			continue
		}
		if row.MemberKey == "" {
			fail(i, row, apperror.NewRequiredField("member_key"))
			continue
		}
		if _, dup := batch.keyToID[row.MemberKey]; dup {
			fail(i, row, apperror.NewDuplicate("member key", row.MemberKey))
			continue
		}
		id, card, err := s.importPrincipal(ctx, batch, row, dryRun)
		if err != nil {
			fail(i, row, err)
			continue
		}
		batch.keyToID[row.MemberKey] = id
		batch.parentCards[row.MemberKey] = card
		result.Created++
		result.Rows = append(result.Rows, ImportRowResult{MemberKey: row.MemberKey, MemberID: id, CardNumber: card})
	}

	// Pass two: dependants, now that every principal key resolves.
	for i, row := range rows {
		if row.Relationship.IsPrincipal() || row.Relationship == "" {
			continue
		}
		id, card, err := s.importDependant(ctx, batch, row, dryRun)
		if err != nil {
			fail(i, row, err)
			continue
		}
		result.Created++
		result.Rows = append(result.Rows, ImportRowResult{MemberKey: row.MemberKey, MemberID: id, CardNumber: card})
	}

	s.log.Info().Int("total", result.Total).Int("created", result.Created).
		Int("failed", result.Failed).Bool("dry_run", dryRun).Msg("bulk import finished")
	return result, nil
}

func rowToMember(row ImportRow) *Member {
	rel := row.Relationship
	if rel == "" {
		rel = RelationshipSelf
	}
	return &Member{
		CompanyID:    row.CompanyID,
		SchemeID:     row.SchemeID,
		FirstName:    row.FirstName,
		LastName:     row.LastName,
		NationalID:   row.NationalID,
		Gender:       row.Gender,
		Relationship: rel,
		DateOfBirth:  row.DateOfBirth,
		CardNumber:   row.CardNumber,
		Phone:        row.Phone,
		Email:        row.Email,
	}
}

func (s *Service) importPrincipal(ctx context.Context, batch *importBatch, row ImportRow, dryRun bool) (uuid.UUID, string, error) {
	m := rowToMember(row)
	if !dryRun {
		if err := s.Create(ctx, m); err != nil {
			return uuid.Nil, "", err
		}
		return m.ID, m.CardNumber, nil
	}

	if _, err := s.validateChain(ctx, m); err != nil {
		return uuid.Nil, "", err
	}
	card := m.CardNumber
	if card == "" {
		var err error
		if card, err = batch.principalNumber(ctx, row.SchemeID); err != nil {
			return uuid.Nil, "", err
		}
	}
	// Stub id: dependant rows in pass two need something to point at.
	return uuid.New(), card, nil
}

func (s *Service) importDependant(ctx context.Context, batch *importBatch, row ImportRow, dryRun bool) (uuid.UUID, string, error) {
	if row.ParentKey == "" {
		return uuid.Nil, "", apperror.NewRequiredField("parent_key")
	}
	parentID, ok := batch.keyToID[row.ParentKey]
	if !ok {
		return uuid.Nil, "", apperror.NewInvalidValue("parent_key", "parent key "+row.ParentKey+" not found in batch")
	}

	m := rowToMember(row)
	m.ParentID = &parentID
	if !dryRun {
		if err := s.Create(ctx, m); err != nil {
			return uuid.Nil, "", err
		}
		return m.ID, m.CardNumber, nil
	}

	// Dry-run parents are stubs, so the chain check on the parent row is
	// skipped; company and scheme are still verified.
	probe := rowToMember(row)
	probe.Relationship = RelationshipSelf
	if _, err := s.validateChain(ctx, probe); err != nil {
		return uuid.Nil, "", err
	}
	card := m.CardNumber
	if card == "" {
		var err error
		if card, err = batch.dependantNumber(ctx, row.SchemeID, row.ParentKey); err != nil {
			return uuid.Nil, "", err
		}
	}
	return uuid.New(), card, nil
}
