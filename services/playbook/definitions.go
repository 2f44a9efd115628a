package playbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services"
	"go.uber.org/zap"
)

// StepInput describes one step of a playbook being defined. Steps are
// numbered by position: the first input becomes step_order 1.
type StepInput struct {
	ActionType models.ActionType
	Params     json.RawMessage
}

// DefinitionService manages playbook definitions. Step lists are immutable
// after creation except for full-permutation reordering.
type DefinitionService struct {
	playbooks repositories.PlaybookRepository
	tx        repositories.TransactionManager
	logger    *zap.Logger
}

// NewDefinitionService creates a new playbook definition service
func NewDefinitionService(playbooks repositories.PlaybookRepository, tx repositories.TransactionManager, logger *zap.Logger) *DefinitionService {
	return &DefinitionService{
		playbooks: playbooks,
		tx:        tx,
		logger:    logger,
	}
}

// Create defines a new playbook with its steps. Unrecognized action types are
// accepted; they are simply classified risky at execution time.
func (s *DefinitionService) Create(ctx context.Context, tenantID uuid.UUID, name, description string, steps []StepInput) (*models.Playbook, error) {
	if name == "" {
		return nil, services.ErrInvalidInput
	}
	if len(steps) == 0 {
		return nil, services.ErrPlaybookNoSteps
	}

	pb := models.NewPlaybook(tenantID, name, description)
	for i, in := range steps {
		params := in.Params
		if params == nil {
			params = json.RawMessage(`{}`)
		}
		pb.Steps = append(pb.Steps, &models.PlaybookStep{
			ID:         uuid.New(),
			PlaybookID: pb.ID,
			StepOrder:  i + 1,
			ActionType: in.ActionType,
			Params:     params,
			CreatedAt:  time.Now(),
		})
	}

	// Playbook row plus N step rows: all or nothing.
	err := s.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		return s.playbooks.Create(ctx, pb)
	})
	if err != nil {
		return nil, services.WrapInternal("failed to create playbook", err)
	}

	s.logger.Info("Playbook created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("playbook_id", pb.ID.String()),
		zap.Int("steps", len(pb.Steps)))
	return pb, nil
}

// Get retrieves a playbook with its steps in execution order
func (s *DefinitionService) Get(ctx context.Context, tenantID, playbookID uuid.UUID) (*models.Playbook, error) {
	pb, err := s.playbooks.GetByID(ctx, tenantID, playbookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrPlaybookNotFound
		}
		return nil, services.WrapInternal("failed to load playbook", err)
	}
	return pb, nil
}

// List retrieves all playbooks for the tenant (without steps)
func (s *DefinitionService) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Playbook, error) {
	list, err := s.playbooks.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list playbooks", err)
	}
	return list, nil
}

// Reorder rewrites the playbook's step ordering. orderedStepIDs must be a
// full permutation of the existing step IDs; anything partial, duplicated, or
// foreign is rejected.
func (s *DefinitionService) Reorder(ctx context.Context, tenantID, playbookID uuid.UUID, orderedStepIDs []uuid.UUID) (*models.Playbook, error) {
	pb, err := s.Get(ctx, tenantID, playbookID)
	if err != nil {
		return nil, err
	}

	if len(orderedStepIDs) != len(pb.Steps) {
		return nil, services.ErrIncompleteReorder
	}
	existing := make(map[uuid.UUID]bool, len(pb.Steps))
	for _, step := range pb.Steps {
		existing[step.ID] = true
	}
	seen := make(map[uuid.UUID]bool, len(orderedStepIDs))
	for _, id := range orderedStepIDs {
		if !existing[id] || seen[id] {
			return nil, services.ErrIncompleteReorder
		}
		seen[id] = true
	}

	// The shift-then-assign rewrite must not be observable half-applied.
	err = s.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		return s.playbooks.ReorderSteps(ctx, tenantID, playbookID, orderedStepIDs)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrPlaybookNotFound
		}
		return nil, services.WrapInternal("failed to reorder steps", err)
	}

	s.logger.Info("Playbook steps reordered",
		zap.String("tenant_id", tenantID.String()),
		zap.String("playbook_id", playbookID.String()))
	return s.Get(ctx, tenantID, playbookID)
}
