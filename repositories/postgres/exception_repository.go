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

// ExceptionRepository implements the repositories.ExceptionRepository interface
type ExceptionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExceptionRepository creates a new exception repository
func NewExceptionRepository(db *DB, logger *zap.Logger) repositories.ExceptionRepository {
	return &ExceptionRepository{
		db:     db,
		logger: logger,
	}
}

const exceptionColumns = `id, tenant_id, domain, type, severity, status, owner,
	sla_deadline, current_playbook_id, current_step, created_at, updated_at`

// Create creates a new exception
func (r *ExceptionRepository) Create(ctx context.Context, exc *models.Exception) error {
	query := `
		INSERT INTO exceptions (
			id, tenant_id, domain, type, severity, status, owner,
			sla_deadline, current_playbook_id, current_step, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		exc.ID,
		exc.TenantID,
		exc.Domain,
		exc.Type,
		exc.Severity,
		exc.Status,
		exc.Owner,
		exc.SLADeadline,
		exc.CurrentPlaybookID,
		exc.CurrentStep,
		exc.CreatedAt,
		exc.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert exception: %w", err)
	}

	r.logger.Debug("exception created",
		zap.String("id", exc.ID.String()),
		zap.String("tenant_id", exc.TenantID.String()))
	return nil
}

// GetByID retrieves an exception by tenant and ID
func (r *ExceptionRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Exception, error) {
	query := fmt.Sprintf(`SELECT %s FROM exceptions WHERE id = $1 AND tenant_id = $2`, exceptionColumns)

	executor := GetExecutor(ctx, r.db)
	exc := &models.Exception{}

	err := executor.QueryRowContext(ctx, query, id, tenantID).Scan(
		&exc.ID,
		&exc.TenantID,
		&exc.Domain,
		&exc.Type,
		&exc.Severity,
		&exc.Status,
		&exc.Owner,
		&exc.SLADeadline,
		&exc.CurrentPlaybookID,
		&exc.CurrentStep,
		&exc.CreatedAt,
		&exc.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get exception: %w", err)
	}

	return exc, nil
}

// ListOpenWithDeadline retrieves all exceptions with a non-null SLA deadline
// in an open status, across tenants. One sweep input per monitor tick.
func (r *ExceptionRepository) ListOpenWithDeadline(ctx context.Context) ([]*models.Exception, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM exceptions
		WHERE sla_deadline IS NOT NULL AND status IN ('open', 'analyzing')
		ORDER BY sla_deadline ASC
	`, exceptionColumns)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions: %w", err)
	}
	defer rows.Close()

	var excs []*models.Exception
	for rows.Next() {
		exc := &models.Exception{}
		err := rows.Scan(
			&exc.ID,
			&exc.TenantID,
			&exc.Domain,
			&exc.Type,
			&exc.Severity,
			&exc.Status,
			&exc.Owner,
			&exc.SLADeadline,
			&exc.CurrentPlaybookID,
			&exc.CurrentStep,
			&exc.CreatedAt,
			&exc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exception: %w", err)
		}
		excs = append(excs, exc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exception rows: %w", err)
	}

	return excs, nil
}

// StartPlaybook sets the playbook pointer to (playbookID, step 1)
func (r *ExceptionRepository) StartPlaybook(ctx context.Context, tenantID, id, playbookID uuid.UUID) error {
	query := `
		UPDATE exceptions
		SET current_playbook_id = $1, current_step = 1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, playbookID, time.Now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to start playbook: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// AdvanceStep conditionally moves the step pointer. The WHERE clause pins the
// current pointer value, so of two concurrent callers at most one can win;
// the loser observes zero affected rows and is reported as not advanced.
func (r *ExceptionRepository) AdvanceStep(ctx context.Context, tenantID, id, playbookID uuid.UUID, fromStep int, next *int) (bool, error) {
	query := `
		UPDATE exceptions
		SET current_step = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
		  AND current_playbook_id = $5 AND current_step = $6
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, next, time.Now(), id, tenantID, playbookID, fromStep)
	if err != nil {
		return false, fmt.Errorf("failed to advance step: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// UpdateStatus updates the exception status
func (r *ExceptionRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.ExceptionStatus) error {
	query := `
		UPDATE exceptions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, status, time.Now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update exception status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}
