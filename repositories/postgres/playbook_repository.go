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

// PlaybookRepository implements the repositories.PlaybookRepository interface
type PlaybookRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPlaybookRepository creates a new playbook repository
func NewPlaybookRepository(db *DB, logger *zap.Logger) repositories.PlaybookRepository {
	return &PlaybookRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a playbook together with its steps in one transaction-aware call
func (r *PlaybookRepository) Create(ctx context.Context, pb *models.Playbook) error {
	executor := GetExecutor(ctx, r.db)

	query := `
		INSERT INTO playbooks (id, tenant_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := executor.ExecContext(ctx, query,
		pb.ID, pb.TenantID, pb.Name, pb.Description, pb.CreatedAt, pb.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert playbook: %w", err)
	}

	stepQuery := `
		INSERT INTO playbook_steps (id, playbook_id, step_order, action_type, params, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, step := range pb.Steps {
		if _, err := executor.ExecContext(ctx, stepQuery,
			step.ID, step.PlaybookID, step.StepOrder, step.ActionType, step.Params, step.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert playbook step %d: %w", step.StepOrder, err)
		}
	}

	r.logger.Debug("playbook created",
		zap.String("id", pb.ID.String()),
		zap.String("tenant_id", pb.TenantID.String()),
		zap.Int("steps", len(pb.Steps)))
	return nil
}

// GetByID retrieves a playbook with its steps ordered by step_order
func (r *PlaybookRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Playbook, error) {
	query := `
		SELECT id, tenant_id, name, description, created_at, updated_at
		FROM playbooks
		WHERE id = $1 AND tenant_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	pb := &models.Playbook{}

	err := executor.QueryRowContext(ctx, query, id, tenantID).Scan(
		&pb.ID,
		&pb.TenantID,
		&pb.Name,
		&pb.Description,
		&pb.CreatedAt,
		&pb.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get playbook: %w", err)
	}

	steps, err := r.loadSteps(ctx, pb.ID)
	if err != nil {
		return nil, err
	}
	pb.Steps = steps

	return pb, nil
}

// ListByTenant retrieves all playbooks for a tenant, without steps
func (r *PlaybookRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Playbook, error) {
	query := `
		SELECT id, tenant_id, name, description, created_at, updated_at
		FROM playbooks
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playbooks: %w", err)
	}
	defer rows.Close()

	var pbs []*models.Playbook
	for rows.Next() {
		pb := &models.Playbook{}
		if err := rows.Scan(&pb.ID, &pb.TenantID, &pb.Name, &pb.Description, &pb.CreatedAt, &pb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playbook: %w", err)
		}
		pbs = append(pbs, pb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playbook rows: %w", err)
	}

	return pbs, nil
}

// ReorderSteps applies a full permutation of the playbook's step IDs. The
// unique (playbook_id, step_order) constraint would reject intermediate
// states, so orders are first moved out of range and then assigned.
func (r *PlaybookRepository) ReorderSteps(ctx context.Context, tenantID, playbookID uuid.UUID, orderedStepIDs []uuid.UUID) error {
	executor := GetExecutor(ctx, r.db)

	// Shift existing orders out of the way
	shift := `
		UPDATE playbook_steps SET step_order = step_order + 10000
		WHERE playbook_id = $1
	`
	if _, err := executor.ExecContext(ctx, shift, playbookID); err != nil {
		return fmt.Errorf("failed to shift step orders: %w", err)
	}

	assign := `
		UPDATE playbook_steps SET step_order = $1
		WHERE id = $2 AND playbook_id = $3
	`
	for i, stepID := range orderedStepIDs {
		result, err := executor.ExecContext(ctx, assign, i+1, stepID, playbookID)
		if err != nil {
			return fmt.Errorf("failed to reorder step %s: %w", stepID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("step %s not found in playbook %s", stepID, playbookID)
		}
	}

	touch := `UPDATE playbooks SET updated_at = $1 WHERE id = $2 AND tenant_id = $3`
	if _, err := executor.ExecContext(ctx, touch, time.Now(), playbookID, tenantID); err != nil {
		return fmt.Errorf("failed to touch playbook: %w", err)
	}

	return nil
}

// loadSteps loads the ordered step list for a playbook
func (r *PlaybookRepository) loadSteps(ctx context.Context, playbookID uuid.UUID) ([]*models.PlaybookStep, error) {
	query := `
		SELECT id, playbook_id, step_order, action_type, params, created_at
		FROM playbook_steps
		WHERE playbook_id = $1
		ORDER BY step_order ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, playbookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playbook steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.PlaybookStep
	for rows.Next() {
		step := &models.PlaybookStep{}
		if err := rows.Scan(&step.ID, &step.PlaybookID, &step.StepOrder, &step.ActionType, &step.Params, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playbook step: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playbook step rows: %w", err)
	}

	return steps, nil
}
