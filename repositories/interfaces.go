package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// TenantRepository handles tenant data operations
type TenantRepository interface {
	// Create creates a new tenant
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// ExceptionRepository handles exception data operations.
// All reads and writes are tenant-scoped: the tenant ID is never defaulted.
type ExceptionRepository interface {
	// Create creates a new exception
	Create(ctx context.Context, exc *models.Exception) error

	// GetByID retrieves an exception by tenant and ID
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Exception, error)

	// ListOpenWithDeadline retrieves all exceptions across tenants that have
	// a non-null SLA deadline and are in an open status. Used by the SLA
	// monitor sweep.
	ListOpenWithDeadline(ctx context.Context) ([]*models.Exception, error)

	// StartPlaybook sets the playbook pointer to (playbookID, step 1)
	StartPlaybook(ctx context.Context, tenantID, id, playbookID uuid.UUID) error

	// AdvanceStep moves the step pointer from fromStep to next (nil next
	// marks the playbook complete). The update is conditional on the pointer
	// still being at fromStep for the given playbook; it returns false when
	// a concurrent caller moved the pointer first.
	AdvanceStep(ctx context.Context, tenantID, id, playbookID uuid.UUID, fromStep int, next *int) (bool, error)

	// UpdateStatus updates the exception status
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.ExceptionStatus) error
}

// PlaybookRepository handles playbook and step data operations
type PlaybookRepository interface {
	// Create creates a playbook together with its steps
	Create(ctx context.Context, pb *models.Playbook) error

	// GetByID retrieves a playbook with its steps ordered by step_order
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Playbook, error)

	// ListByTenant retrieves all playbooks for a tenant, without steps
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Playbook, error)

	// ReorderSteps applies a full permutation of the playbook's step IDs:
	// the i-th id in orderedStepIDs receives step_order i+1. The permutation
	// must name every existing step exactly once.
	ReorderSteps(ctx context.Context, tenantID, playbookID uuid.UUID, orderedStepIDs []uuid.UUID) error
}

// EventRepository handles the append-only event log.
// InsertIfNew is the single idempotency primitive every other component
// builds on.
type EventRepository interface {
	// InsertIfNew attempts to insert the event. A unique-constraint violation
	// on the event ID returns (false, nil); any other failure propagates.
	InsertIfNew(ctx context.Context, event *models.Event) (bool, error)

	// Exists reports whether an event with the given ID is stored for the tenant
	Exists(ctx context.Context, tenantID, eventID uuid.UUID) (bool, error)

	// GetByID retrieves an event by ID
	GetByID(ctx context.Context, eventID uuid.UUID) (*models.Event, error)

	// ListForException retrieves all events for an exception in insertion order
	ListForException(ctx context.Context, tenantID, exceptionID uuid.UUID) ([]*models.Event, error)

	// ExistsForException reports whether any event of the given type exists
	// for the exception. Used as the durable once-only guard for SLA events.
	ExistsForException(ctx context.Context, tenantID, exceptionID uuid.UUID, eventType models.EventType) (bool, error)

	// HasPlaybookEvent reports whether an event of the given type exists for
	// the exception whose payload references the playbook (and, when
	// stepOrder is non-nil, the step order). Used as the idempotency guard
	// for state-machine transitions.
	HasPlaybookEvent(ctx context.Context, tenantID, exceptionID uuid.UUID, eventType models.EventType, playbookID uuid.UUID, stepOrder *int) (bool, error)
}

// ProcessingRepository handles the per-(event, worker-kind) processing ledger
type ProcessingRepository interface {
	// Get retrieves the ledger entry for the pair, or nil when none exists
	Get(ctx context.Context, eventID uuid.UUID, workerKind string) (*models.ProcessingEntry, error)

	// MarkProcessing upserts the entry into the processing state, clearing
	// any pending redelivery. The retry count is preserved.
	MarkProcessing(ctx context.Context, eventID uuid.UUID, workerKind string) error

	// MarkCompleted marks the entry completed
	MarkCompleted(ctx context.Context, eventID uuid.UUID, workerKind string) error

	// MarkFailed records a failed attempt with the new retry count, the
	// informational error message, and (when nextAttemptAt is non-nil) the
	// time at which the redeliverer should re-publish the event.
	MarkFailed(ctx context.Context, eventID uuid.UUID, workerKind string, retryCount int, errorMessage string, nextAttemptAt *time.Time) error

	// MarkDeadLetter marks the entry as exhausted, for manual triage
	MarkDeadLetter(ctx context.Context, eventID uuid.UUID, workerKind string, errorMessage string) error

	// ListDue retrieves failed entries whose next attempt has come due
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ProcessingEntry, error)

	// ListDeadLetters retrieves dead-lettered entries for a tenant with the
	// events they failed on, newest first
	ListDeadLetters(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.DeadLetter, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Tenants    TenantRepository
	Exceptions ExceptionRepository
	Playbooks  PlaybookRepository
	Events     EventRepository
	Processing ProcessingRepository
}
