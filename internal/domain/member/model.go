package member

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Relationship places a member in the principal/dependant hierarchy.
// SELF is the primary cardholder; SPOUSE and CHILD hang off a SELF parent.
type Relationship string

const (
	RelationshipSelf   Relationship = "SELF"
	RelationshipSpouse Relationship = "SPOUSE"
	RelationshipChild  Relationship = "CHILD"
)

func (r Relationship) Valid() bool {
	switch r {
	case RelationshipSelf, RelationshipSpouse, RelationshipChild:
		return true
	}
	return false
}

func (r Relationship) IsPrincipal() bool { return r == RelationshipSelf }

type Member struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	CompanyID    uuid.UUID    `db:"company_id" json:"company_id"`
	SchemeID     uuid.UUID    `db:"scheme_id" json:"scheme_id"`
	FirstName    string       `db:"first_name" json:"first_name"`
	LastName     string       `db:"last_name" json:"last_name"`
	NationalID   string       `db:"national_id" json:"national_id,omitempty"`
	Gender       string       `db:"gender" json:"gender,omitempty"`
	Relationship Relationship `db:"relationship" json:"relationship"`
	ParentID     *uuid.UUID   `db:"parent_id" json:"parent_id,omitempty"`
	DateOfBirth  *time.Time   `db:"date_of_birth" json:"date_of_birth,omitempty"`
	CardNumber   string       `db:"card_number" json:"card_number"`
	Phone        string       `db:"phone" json:"phone,omitempty"`
	Email        string       `db:"email" json:"email,omitempty"`
	Status       string       `db:"status" json:"status"`
	IsDeleted    bool         `db:"is_deleted" json:"is_deleted"`
	DeletedAt    *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

func (m *Member) IsActive() bool {
	return m.Status == StatusActive && !m.IsDeleted
}
