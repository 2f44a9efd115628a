package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"go.uber.org/zap"
)

// ProcessingRepository implements the repositories.ProcessingRepository interface
type ProcessingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProcessingRepository creates a new processing ledger repository
func NewProcessingRepository(db *DB, logger *zap.Logger) repositories.ProcessingRepository {
	return &ProcessingRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the ledger entry for the pair, or nil when none exists
func (r *ProcessingRepository) Get(ctx context.Context, eventID uuid.UUID, workerKind string) (*models.ProcessingEntry, error) {
	query := `
		SELECT event_id, worker_kind, status, retry_count, error_message, next_attempt_at, created_at, updated_at
		FROM event_processing
		WHERE event_id = $1 AND worker_kind = $2
	`

	executor := GetExecutor(ctx, r.db)
	entry := &models.ProcessingEntry{}

	err := executor.QueryRowContext(ctx, query, eventID, workerKind).Scan(
		&entry.EventID,
		&entry.WorkerKind,
		&entry.Status,
		&entry.RetryCount,
		&entry.ErrorMessage,
		&entry.NextAttemptAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get processing entry: %w", err)
	}

	return entry, nil
}

// MarkProcessing upserts the entry into the processing state. The retry count
// survives the upsert; any pending redelivery is cleared so a due row is not
// re-published twice while the attempt is in flight.
func (r *ProcessingRepository) MarkProcessing(ctx context.Context, eventID uuid.UUID, workerKind string) error {
	now := time.Now()
	query := `
		INSERT INTO event_processing (event_id, worker_kind, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, 'processing', 0, $3, $3)
		ON CONFLICT (event_id, worker_kind) DO UPDATE
		SET status = 'processing', next_attempt_at = NULL, updated_at = $3
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, eventID, workerKind, now); err != nil {
		return fmt.Errorf("failed to mark processing: %w", err)
	}
	return nil
}

// MarkCompleted marks the entry completed
func (r *ProcessingRepository) MarkCompleted(ctx context.Context, eventID uuid.UUID, workerKind string) error {
	query := `
		UPDATE event_processing
		SET status = 'completed', error_message = NULL, next_attempt_at = NULL, updated_at = $1
		WHERE event_id = $2 AND worker_kind = $3
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, time.Now(), eventID, workerKind); err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. retryCount is the new attempt count;
// nextAttemptAt, when non-nil, schedules the durable redelivery.
func (r *ProcessingRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, workerKind string, retryCount int, errorMessage string, nextAttemptAt *time.Time) error {
	now := time.Now()
	query := `
		INSERT INTO event_processing (event_id, worker_kind, status, retry_count, error_message, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, 'failed', $3, $4, $5, $6, $6)
		ON CONFLICT (event_id, worker_kind) DO UPDATE
		SET status = 'failed', retry_count = $3, error_message = $4, next_attempt_at = $5, updated_at = $6
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, eventID, workerKind, retryCount, errorMessage, nextAttemptAt, now); err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}

	r.logger.Debug("processing entry marked failed",
		zap.String("event_id", eventID.String()),
		zap.String("worker_kind", workerKind),
		zap.Int("retry_count", retryCount))
	return nil
}

// MarkDeadLetter marks the entry as exhausted, for manual triage
func (r *ProcessingRepository) MarkDeadLetter(ctx context.Context, eventID uuid.UUID, workerKind string, errorMessage string) error {
	now := time.Now()
	query := `
		INSERT INTO event_processing (event_id, worker_kind, status, retry_count, error_message, created_at, updated_at)
		VALUES ($1, $2, 'dead_letter', 0, $3, $4, $4)
		ON CONFLICT (event_id, worker_kind) DO UPDATE
		SET status = 'dead_letter', error_message = $3, next_attempt_at = NULL, updated_at = $4
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, eventID, workerKind, errorMessage, now); err != nil {
		return fmt.Errorf("failed to mark dead letter: %w", err)
	}

	r.logger.Warn("processing entry dead-lettered",
		zap.String("event_id", eventID.String()),
		zap.String("worker_kind", workerKind))
	return nil
}

// ListDue retrieves failed entries whose next attempt has come due
func (r *ProcessingRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ProcessingEntry, error) {
	query := `
		SELECT event_id, worker_kind, status, retry_count, error_message, next_attempt_at, created_at, updated_at
		FROM event_processing
		WHERE status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.ProcessingEntry
	for rows.Next() {
		entry := &models.ProcessingEntry{}
		err := rows.Scan(
			&entry.EventID,
			&entry.WorkerKind,
			&entry.Status,
			&entry.RetryCount,
			&entry.ErrorMessage,
			&entry.NextAttemptAt,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processing entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processing rows: %w", err)
	}

	return entries, nil
}

// ListDeadLetters retrieves dead-lettered entries for a tenant joined with
// the events they failed on, newest first
func (r *ProcessingRepository) ListDeadLetters(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.DeadLetter, error) {
	query := `
		SELECT p.event_id, p.worker_kind, p.status, p.retry_count, p.error_message, p.next_attempt_at, p.created_at, p.updated_at,
		       e.id, e.tenant_id, e.exception_id, e.event_type, e.actor_type, e.actor_id, e.payload, e.created_at
		FROM event_processing p
		JOIN exception_events e ON e.id = p.event_id
		WHERE p.status = 'dead_letter' AND e.tenant_id = $1
		ORDER BY p.updated_at DESC
		LIMIT $2 OFFSET $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*models.DeadLetter
	for rows.Next() {
		dl := &models.DeadLetter{}
		err := rows.Scan(
			&dl.Entry.EventID,
			&dl.Entry.WorkerKind,
			&dl.Entry.Status,
			&dl.Entry.RetryCount,
			&dl.Entry.ErrorMessage,
			&dl.Entry.NextAttemptAt,
			&dl.Entry.CreatedAt,
			&dl.Entry.UpdatedAt,
			&dl.Event.ID,
			&dl.Event.TenantID,
			&dl.Event.ExceptionID,
			&dl.Event.Type,
			&dl.Event.ActorType,
			&dl.Event.ActorID,
			&dl.Event.Payload,
			&dl.Event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		letters = append(letters, dl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letter rows: %w", err)
	}

	return letters, nil
}
