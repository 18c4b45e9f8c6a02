package company

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusSuspended = "SUSPENDED"
)

// Company maps to the company table. A company purchases schemes and every
// member belongs to exactly one company.
type Company struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	RegistrationNo *string    `db:"registration_no" json:"registration_no,omitempty"`
	Industry       *string    `db:"industry" json:"industry,omitempty"`
	ContactEmail   *string    `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone   *string    `db:"contact_phone" json:"contact_phone,omitempty"`
	Status         string     `db:"status" json:"status"`
	IsDeleted      bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the company can gate new schemes and members.
func (c *Company) IsActive() bool {
	return c.Status == StatusActive && !c.IsDeleted
}
