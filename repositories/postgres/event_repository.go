package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint violations
const uniqueViolation = "23505"

// EventRepository implements the repositories.EventRepository interface
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB, logger *zap.Logger) repositories.EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// InsertIfNew attempts an insert; a unique-constraint violation on the event
// identifier is swallowed into (false, nil). First write wins: a retried
// insert with the same ID never overwrites the stored row. Any failure other
// than the duplicate propagates unchanged.
func (r *EventRepository) InsertIfNew(ctx context.Context, event *models.Event) (bool, error) {
	query := `
		INSERT INTO exception_events (
			id, tenant_id, exception_id, event_type, actor_type, actor_id, payload, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.TenantID,
		event.ExceptionID,
		event.Type,
		event.ActorType,
		event.ActorID,
		event.Payload,
		event.CreatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			r.logger.Debug("duplicate event insert ignored",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", string(event.Type)))
			return false, nil
		}
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	r.logger.Debug("event inserted",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.String("exception_id", event.ExceptionID.String()))
	return true, nil
}

// Exists reports whether an event with the given ID is stored for the tenant
func (r *EventRepository) Exists(ctx context.Context, tenantID, eventID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM exception_events WHERE id = $1 AND tenant_id = $2)`

	executor := GetExecutor(ctx, r.db)
	var exists bool
	if err := executor.QueryRowContext(ctx, query, eventID, tenantID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return exists, nil
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	query := `
		SELECT id, tenant_id, exception_id, event_type, actor_type, actor_id, payload, created_at
		FROM exception_events
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	event := &models.Event{}

	err := executor.QueryRowContext(ctx, query, eventID).Scan(
		&event.ID,
		&event.TenantID,
		&event.ExceptionID,
		&event.Type,
		&event.ActorType,
		&event.ActorID,
		&event.Payload,
		&event.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("event not found: %s", eventID)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// ListForException retrieves all events for an exception in insertion order
func (r *EventRepository) ListForException(ctx context.Context, tenantID, exceptionID uuid.UUID) ([]*models.Event, error) {
	query := `
		SELECT id, tenant_id, exception_id, event_type, actor_type, actor_id, payload, created_at
		FROM exception_events
		WHERE tenant_id = $1 AND exception_id = $2
		ORDER BY seq ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, exceptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		err := rows.Scan(
			&event.ID,
			&event.TenantID,
			&event.ExceptionID,
			&event.Type,
			&event.ActorType,
			&event.ActorID,
			&event.Payload,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

// ExistsForException reports whether any event of the given type exists for
// the exception. This is the durable once-only guard for SLA emissions.
func (r *EventRepository) ExistsForException(ctx context.Context, tenantID, exceptionID uuid.UUID, eventType models.EventType) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM exception_events
			WHERE tenant_id = $1 AND exception_id = $2 AND event_type = $3
		)
	`

	executor := GetExecutor(ctx, r.db)
	var exists bool
	if err := executor.QueryRowContext(ctx, query, tenantID, exceptionID, eventType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return exists, nil
}

// HasPlaybookEvent reports whether a lifecycle event referencing the playbook
// (and optionally a specific step order) already exists. The payload columns
// are JSONB, so the check inspects the stored payload directly.
func (r *EventRepository) HasPlaybookEvent(ctx context.Context, tenantID, exceptionID uuid.UUID, eventType models.EventType, playbookID uuid.UUID, stepOrder *int) (bool, error) {
	executor := GetExecutor(ctx, r.db)

	if stepOrder == nil {
		query := `
			SELECT EXISTS(
				SELECT 1 FROM exception_events
				WHERE tenant_id = $1 AND exception_id = $2 AND event_type = $3
				  AND payload->>'playbook_id' = $4
			)
		`
		var exists bool
		if err := executor.QueryRowContext(ctx, query, tenantID, exceptionID, eventType, playbookID.String()).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check playbook event existence: %w", err)
		}
		return exists, nil
	}

	query := `
		SELECT EXISTS(
			SELECT 1 FROM exception_events
			WHERE tenant_id = $1 AND exception_id = $2 AND event_type = $3
			  AND payload->>'playbook_id' = $4
			  AND payload->>'step_order' = $5
		)
	`
	var exists bool
	if err := executor.QueryRowContext(ctx, query, tenantID, exceptionID, eventType, playbookID.String(), strconv.Itoa(*stepOrder)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check step event existence: %w", err)
	}
	return exists, nil
}
