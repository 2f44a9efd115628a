package models

import (
	"time"

	"github.com/google/uuid"
)

// ExceptionStatus represents the lifecycle state of an exception
type ExceptionStatus string

const (
	ExceptionStatusOpen        ExceptionStatus = "open"
	ExceptionStatusAnalyzing   ExceptionStatus = "analyzing"
	ExceptionStatusRemediating ExceptionStatus = "remediating"
	ExceptionStatusResolved    ExceptionStatus = "resolved"
	ExceptionStatusClosed      ExceptionStatus = "closed"
)

// Severity represents the business impact of an exception
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Exception represents a business incident (trade break, claim rejection, etc.)
// being tracked to resolution. It is the tenant-scoped aggregate root: the
// playbook execution pointer (CurrentPlaybookID/CurrentStep) lives here.
//
// CurrentStep is 1-based. A non-nil CurrentPlaybookID with a nil CurrentStep
// means the playbook has run to completion.
type Exception struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	TenantID          uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Domain            string          `json:"domain" db:"domain"`
	Type              string          `json:"type" db:"type"`
	Severity          Severity        `json:"severity" db:"severity"`
	Status            ExceptionStatus `json:"status" db:"status"`
	Owner             *string         `json:"owner,omitempty" db:"owner"`
	SLADeadline       *time.Time      `json:"sla_deadline,omitempty" db:"sla_deadline"`
	CurrentPlaybookID *uuid.UUID      `json:"current_playbook_id,omitempty" db:"current_playbook_id"`
	CurrentStep       *int            `json:"current_step,omitempty" db:"current_step"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Exception model
func (Exception) TableName() string {
	return "exceptions"
}

// NewException creates a new Exception instance in the open state
func NewException(tenantID uuid.UUID, domain, excType string, severity Severity) *Exception {
	now := time.Now()
	return &Exception{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Domain:    domain,
		Type:      excType,
		Severity:  severity,
		Status:    ExceptionStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOpen reports whether the exception is still being worked
// (the SLA monitor only evaluates open and analyzing exceptions).
func (e *Exception) IsOpen() bool {
	return e.Status == ExceptionStatusOpen || e.Status == ExceptionStatusAnalyzing
}

// HasActivePlaybook reports whether a playbook is attached and mid-execution.
func (e *Exception) HasActivePlaybook() bool {
	return e.CurrentPlaybookID != nil && e.CurrentStep != nil
}
