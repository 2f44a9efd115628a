package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType represents the kind of remediation a playbook step performs
type ActionType string

const (
	ActionTypeNotify      ActionType = "notify"
	ActionTypeAddComment  ActionType = "add_comment"
	ActionTypeSetStatus   ActionType = "set_status"
	ActionTypeAssignOwner ActionType = "assign_owner"
	ActionTypeCallTool    ActionType = "call_tool"
)

// safeActionTypes is the closed set of actions with no real-world side effects.
// Anything outside this set (including unrecognized types) is risky and
// requires a human actor to execute.
var safeActionTypes = map[ActionType]bool{
	ActionTypeNotify:      true,
	ActionTypeAddComment:  true,
	ActionTypeSetStatus:   true,
	ActionTypeAssignOwner: true,
}

// IsRisky reports whether the action type requires a human actor
func (a ActionType) IsRisky() bool {
	return !safeActionTypes[a]
}

// Playbook represents an ordered remediation procedure for an exception type
type Playbook struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	TenantID    uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Steps       []*PlaybookStep `json:"steps,omitempty"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Playbook model
func (Playbook) TableName() string {
	return "playbooks"
}

// PlaybookStep is a single remediation action within a playbook.
// StepOrder is 1-based and densely packed within the playbook; steps are
// immutable once created except for full-permutation reordering.
type PlaybookStep struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	PlaybookID uuid.UUID       `json:"playbook_id" db:"playbook_id"`
	StepOrder  int             `json:"step_order" db:"step_order"`
	ActionType ActionType      `json:"action_type" db:"action_type"`
	Params     json.RawMessage `json:"params" db:"params"` // JSONB parameter payload
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PlaybookStep model
func (PlaybookStep) TableName() string {
	return "playbook_steps"
}

// NewPlaybook creates a new Playbook instance without steps
func NewPlaybook(tenantID uuid.UUID, name, description string) *Playbook {
	now := time.Now()
	return &Playbook{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// StepByOrder returns the step with the given 1-based order, or nil
func (p *Playbook) StepByOrder(order int) *PlaybookStep {
	for _, s := range p.Steps {
		if s.StepOrder == order {
			return s
		}
	}
	return nil
}

// MaxStepOrder returns the highest step order, or 0 when the playbook is empty
func (p *Playbook) MaxStepOrder() int {
	max := 0
	for _, s := range p.Steps {
		if s.StepOrder > max {
			max = s.StepOrder
		}
	}
	return max
}
