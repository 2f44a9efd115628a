// Package playbook implements the playbook execution state machine: starting
// a playbook on an exception and walking its steps strictly in order, with an
// approval gate on risky actions. Safety under concurrent callers comes from
// the store, not from locks: the conditional pointer advance plus the
// idempotent event append are the only synchronization primitives.
package playbook

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services"
	"github.com/opshub/exception-plane/services/events"
	"go.uber.org/zap"
)

// Service executes playbooks against exceptions
type Service struct {
	exceptions repositories.ExceptionRepository
	playbooks  repositories.PlaybookRepository
	eventsRepo repositories.EventRepository
	log        *events.Service
	logger     *zap.Logger
}

// NewService creates a new playbook execution service
func NewService(exceptions repositories.ExceptionRepository, playbooks repositories.PlaybookRepository, eventsRepo repositories.EventRepository, log *events.Service, logger *zap.Logger) *Service {
	return &Service{
		exceptions: exceptions,
		playbooks:  playbooks,
		eventsRepo: eventsRepo,
		log:        log,
		logger:     logger,
	}
}

// Start attaches the playbook to the exception and sets the step pointer to 1.
// Calling it again for the same (exception, playbook) is a no-op: either the
// pointer already references the playbook or a PlaybookStarted event is
// already in the log.
func (s *Service) Start(ctx context.Context, tenantID, exceptionID, playbookID uuid.UUID, actor models.Actor) (*models.Exception, error) {
	exc, err := s.getException(ctx, tenantID, exceptionID)
	if err != nil {
		return nil, err
	}

	pb, err := s.getPlaybook(ctx, tenantID, playbookID)
	if err != nil {
		return nil, err
	}
	if len(pb.Steps) == 0 {
		return nil, services.ErrPlaybookNoSteps
	}

	if exc.CurrentPlaybookID != nil && *exc.CurrentPlaybookID == playbookID {
		return exc, nil
	}
	started, err := s.eventsRepo.HasPlaybookEvent(ctx, tenantID, exceptionID, models.EventTypePlaybookStarted, playbookID, nil)
	if err != nil {
		return nil, services.WrapInternal("failed to check playbook start guard", err)
	}
	if started {
		return exc, nil
	}

	if err := s.exceptions.StartPlaybook(ctx, tenantID, exceptionID, playbookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrExceptionNotFound
		}
		return nil, services.WrapInternal("failed to start playbook", err)
	}

	payload, err := models.MarshalPayload(models.PlaybookStartedPayload{
		PlaybookID: playbookID,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
	})
	if err != nil {
		return nil, services.WrapInternal("failed to marshal playbook started payload", err)
	}
	event := models.NewEvent(tenantID, exceptionID, models.EventTypePlaybookStarted, actor, payload)
	if _, err := s.log.AppendIfNew(ctx, event); err != nil {
		return nil, err
	}

	s.logger.Info("Playbook started",
		zap.String("tenant_id", tenantID.String()),
		zap.String("exception_id", exceptionID.String()),
		zap.String("playbook_id", playbookID.String()))
	return s.getException(ctx, tenantID, exceptionID)
}

// CompleteStep completes the current step and advances the pointer. Steps are
// completed strictly in order, one at a time; risky steps require a human
// actor. Repeating a call whose terminal event is already logged is a no-op.
func (s *Service) CompleteStep(ctx context.Context, tenantID, exceptionID, playbookID uuid.UUID, stepOrder int, actor models.Actor, notes string) (*models.Exception, error) {
	return s.advance(ctx, tenantID, exceptionID, playbookID, stepOrder, actor, notes, models.EventTypePlaybookStepCompleted)
}

// SkipStep skips the current step. Contract and validation are identical to
// CompleteStep; only the logged event type differs.
func (s *Service) SkipStep(ctx context.Context, tenantID, exceptionID, playbookID uuid.UUID, stepOrder int, actor models.Actor, notes string) (*models.Exception, error) {
	return s.advance(ctx, tenantID, exceptionID, playbookID, stepOrder, actor, notes, models.EventTypePlaybookStepSkipped)
}

func (s *Service) advance(ctx context.Context, tenantID, exceptionID, playbookID uuid.UUID, stepOrder int, actor models.Actor, notes string, eventType models.EventType) (*models.Exception, error) {
	exc, err := s.getException(ctx, tenantID, exceptionID)
	if err != nil {
		return nil, err
	}
	if exc.CurrentPlaybookID == nil || *exc.CurrentPlaybookID != playbookID {
		return nil, services.ErrPlaybookNotActive
	}

	pb, err := s.getPlaybook(ctx, tenantID, playbookID)
	if err != nil {
		return nil, err
	}

	// A repeat of an already-logged transition is a no-op success, even when
	// the pointer has since moved past it.
	done, err := s.eventsRepo.HasPlaybookEvent(ctx, tenantID, exceptionID, eventType, playbookID, &stepOrder)
	if err != nil {
		return nil, services.WrapInternal("failed to check step guard", err)
	}
	if done {
		return exc, nil
	}

	if exc.CurrentStep == nil {
		return nil, services.ErrNoCurrentStep
	}
	if *exc.CurrentStep != stepOrder {
		return nil, services.ErrUnexpectedStep
	}

	step := pb.StepByOrder(stepOrder)
	if step == nil {
		return nil, services.ErrStepNotFound
	}
	isRisky := step.ActionType.IsRisky()
	if isRisky && actor.Type != models.ActorTypeUser {
		return nil, services.ErrApprovalRequired
	}

	var next *int
	if stepOrder < pb.MaxStepOrder() {
		n := stepOrder + 1
		next = &n
	}

	advanced, err := s.exceptions.AdvanceStep(ctx, tenantID, exceptionID, playbookID, stepOrder, next)
	if err != nil {
		return nil, services.WrapInternal("failed to advance step pointer", err)
	}
	if !advanced {
		// Lost the race: either a concurrent identical call already advanced
		// (its event will be in the log) or the pointer moved elsewhere.
		done, checkErr := s.eventsRepo.HasPlaybookEvent(ctx, tenantID, exceptionID, eventType, playbookID, &stepOrder)
		if checkErr == nil && done {
			return s.getException(ctx, tenantID, exceptionID)
		}
		return nil, services.ErrUnexpectedStep
	}

	stepPayload, err := models.MarshalPayload(models.StepEventPayload{
		PlaybookID: playbookID,
		StepOrder:  stepOrder,
		ActionType: step.ActionType,
		IsRisky:    isRisky,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Notes:      notes,
	})
	if err != nil {
		return nil, services.WrapInternal("failed to marshal step payload", err)
	}
	if _, err := s.log.AppendIfNew(ctx, models.NewEvent(tenantID, exceptionID, eventType, actor, stepPayload)); err != nil {
		return nil, err
	}

	if next == nil {
		completedPayload, err := models.MarshalPayload(models.PlaybookCompletedPayload{
			PlaybookID: playbookID,
			TotalSteps: len(pb.Steps),
			ActorType:  actor.Type,
			ActorID:    actor.ID,
			Notes:      notes,
		})
		if err != nil {
			return nil, services.WrapInternal("failed to marshal completion payload", err)
		}
		if _, err := s.log.AppendIfNew(ctx, models.NewEvent(tenantID, exceptionID, models.EventTypePlaybookCompleted, actor, completedPayload)); err != nil {
			return nil, err
		}
		s.logger.Info("Playbook completed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("exception_id", exceptionID.String()),
			zap.String("playbook_id", playbookID.String()),
			zap.Int("total_steps", len(pb.Steps)))
	}

	return s.getException(ctx, tenantID, exceptionID)
}

func (s *Service) getException(ctx context.Context, tenantID, exceptionID uuid.UUID) (*models.Exception, error) {
	exc, err := s.exceptions.GetByID(ctx, tenantID, exceptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrExceptionNotFound
		}
		return nil, services.WrapInternal("failed to load exception", err)
	}
	return exc, nil
}

func (s *Service) getPlaybook(ctx context.Context, tenantID, playbookID uuid.UUID) (*models.Playbook, error) {
	pb, err := s.playbooks.GetByID(ctx, tenantID, playbookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrPlaybookNotFound
		}
		return nil, services.WrapInternal("failed to load playbook", err)
	}
	return pb, nil
}
