package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus represents the state of one worker's attempt at one event
type ProcessingStatus string

const (
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
	ProcessingStatusDeadLetter ProcessingStatus = "dead_letter"
)

// ProcessingEntry is the per-(event, worker-kind) attempt record. It is
// created on the first processing attempt and mutated in place on every
// subsequent attempt for the same pair, never deleted.
//
// RetryCount is a real column; ErrorMessage is purely informational.
/// NextAttemptAt, when set, makes the entry a durable scheduled work item:
// the redeliverer re-publishes the event once it comes due, so retries
// survive process restarts.
type ProcessingEntry struct {
	EventID       uuid.UUID        `json:"event_id" db:"event_id"`
	WorkerKind    string           `json:"worker_kind" db:"worker_kind"`
	Status        ProcessingStatus `json:"status" db:"status"`
	RetryCount    int              `json:"retry_count" db:"retry_count"`
	ErrorMessage  *string          `json:"error_message,omitempty" db:"error_message"`
	NextAttemptAt *time.Time       `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the ProcessingEntry model
func (ProcessingEntry) TableName() string {
	return "event_processing"
}

// DeadLetter is a dead-lettered processing entry joined with the event it
// failed on, for the manual-triage listing surface.
type DeadLetter struct {
	Entry ProcessingEntry `json:"entry"`
	Event Event           `json:"event"`
}
