package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSLAThreshold is the fraction of allotted SLA time elapsed at which
// an imminent-breach warning is raised, unless the tenant overrides it.
const DefaultSLAThreshold = 0.8

// Tenant represents an organization whose exceptions are tracked
type Tenant struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Slug         string    `json:"slug" db:"slug"`
	SLAThreshold float64   `json:"sla_threshold" db:"sla_threshold"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new Tenant with the default SLA threshold
func NewTenant(name, slug string) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:           uuid.New(),
		Name:         name,
		Slug:         slug,
		SLAThreshold: DefaultSLAThreshold,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
