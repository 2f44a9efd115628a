package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of a domain event
type EventType string

const (
	EventTypeExceptionCreated      EventType = "ExceptionCreated"
	EventTypePlaybookStarted       EventType = "PlaybookStarted"
	EventTypePlaybookStepCompleted EventType = "PlaybookStepCompleted"
	EventTypePlaybookStepSkipped   EventType = "PlaybookStepSkipped"
	EventTypePlaybookCompleted     EventType = "PlaybookCompleted"
	EventTypeRetryScheduled        EventType = "RetryScheduled"
	EventTypeSLAImminent           EventType = "SLAImminent"
	EventTypeSLAExpired            EventType = "SLAExpired"
)

// ActorType identifies who performed an action
type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeAgent  ActorType = "agent"
	ActorTypeUser   ActorType = "user"
)

// Actor identifies the party performing a state-machine operation
type Actor struct {
	Type ActorType  `json:"type"`
	ID   *uuid.UUID `json:"id,omitempty"`
}

// SystemActor returns the actor used for internally generated events
func SystemActor() Actor {
	return Actor{Type: ActorTypeSystem}
}

// Event is an append-only domain event scoped to a (tenant, exception) pair.
// The ID is caller-supplied and globally unique: re-inserting an event with
// the same ID is a no-op, which is the idempotency primitive every other
// component builds on.
type Event struct {
	ID          uuid.UUID       `json:"event_id" db:"id"`
	TenantID    uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	ExceptionID uuid.UUID       `json:"exception_id" db:"exception_id"`
	Type        EventType       `json:"event_type" db:"event_type"`
	ActorType   ActorType       `json:"actor_type" db:"actor_type"`
	ActorID     *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	Payload     json.RawMessage `json:"payload" db:"payload"` // JSONB
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Event model
func (Event) TableName() string {
	return "exception_events"
}

// NewEvent creates a new Event with a fresh identifier
func NewEvent(tenantID, exceptionID uuid.UUID, eventType EventType, actor Actor, payload json.RawMessage) *Event {
	return &Event{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ExceptionID: exceptionID,
		Type:        eventType,
		ActorType:   actor.Type,
		ActorID:     actor.ID,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
}

// ExceptionCreatedPayload is the payload for ExceptionCreated events
type ExceptionCreatedPayload struct {
	Domain      string     `json:"domain"`
	Type        string     `json:"type"`
	Severity    Severity   `json:"severity"`
	SLADeadline *time.Time `json:"sla_deadline,omitempty"`
}

// PlaybookStartedPayload is the payload for PlaybookStarted events
type PlaybookStartedPayload struct {
	PlaybookID uuid.UUID  `json:"playbook_id"`
	ActorType  ActorType  `json:"actor_type"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
}

// StepEventPayload is the payload for PlaybookStepCompleted and
// PlaybookStepSkipped events
type StepEventPayload struct {
	PlaybookID uuid.UUID  `json:"playbook_id"`
	StepOrder  int        `json:"step_order"`
	ActionType ActionType `json:"action_type"`
	IsRisky    bool       `json:"is_risky"`
	ActorType  ActorType  `json:"actor_type"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// PlaybookCompletedPayload is the payload for PlaybookCompleted events
type PlaybookCompletedPayload struct {
	PlaybookID uuid.UUID  `json:"playbook_id"`
	TotalSteps int        `json:"total_steps"`
	ActorType  ActorType  `json:"actor_type"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// RetryScheduledPayload is the payload for RetryScheduled events
type RetryScheduledPayload struct {
	OriginalEventID   uuid.UUID `json:"original_event_id"`
	WorkerKind        string    `json:"worker_kind"`
	RetryCount        int       `json:"retry_count"`
	RetryDelaySeconds float64   `json:"retry_delay_seconds"`
	ErrorMessage      string    `json:"error_message"`
}

// SLAImminentPayload is the payload for SLAImminent events
type SLAImminentPayload struct {
	ExceptionID          uuid.UUID `json:"exception_id"`
	SLADeadline          time.Time `json:"sla_deadline"`
	TimeRemainingSeconds float64   `json:"time_remaining_seconds"`
	ThresholdPercentage  float64   `json:"threshold_percentage"`
	CorrelationID        uuid.UUID `json:"correlation_id"`
}

// SLAExpiredPayload is the payload for SLAExpired events
type SLAExpiredPayload struct {
	ExceptionID           uuid.UUID `json:"exception_id"`
	SLADeadline           time.Time `json:"sla_deadline"`
	BreachDurationSeconds float64   `json:"breach_duration_seconds"`
	CorrelationID         uuid.UUID `json:"correlation_id"`
}

// MarshalPayload marshals a payload struct for event storage.
// Marshal failure on these closed types indicates a programming error,
// so the error is surfaced rather than swallowed.
func MarshalPayload(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
