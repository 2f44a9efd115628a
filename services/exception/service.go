// Package exception provides the exception intake and read surface: creating
// exception rows (with their ExceptionCreated log entry) and reading current
// pointer state and the event timeline.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services"
	"github.com/opshub/exception-plane/services/events"
	"go.uber.org/zap"
)

// CreateInput describes a new exception being recorded
type CreateInput struct {
	Domain      string
	Type        string
	Severity    models.Severity
	Owner       *string
	SLADeadline *time.Time
}

// Service manages exception records
type Service struct {
	exceptions repositories.ExceptionRepository
	log        *events.Service
	logger     *zap.Logger
}

// NewService creates a new exception service
func NewService(exceptions repositories.ExceptionRepository, log *events.Service, logger *zap.Logger) *Service {
	return &Service{
		exceptions: exceptions,
		log:        log,
		logger:     logger,
	}
}

// Create records a new exception in the open state and appends its
// ExceptionCreated event.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput) (*models.Exception, error) {
	if in.Domain == "" || in.Type == "" {
		return nil, services.ErrInvalidInput
	}
	severity := in.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}

	exc := models.NewException(tenantID, in.Domain, in.Type, severity)
	exc.Owner = in.Owner
	exc.SLADeadline = in.SLADeadline

	if err := s.exceptions.Create(ctx, exc); err != nil {
		return nil, services.WrapInternal("failed to create exception", err)
	}

	payload, err := models.MarshalPayload(models.ExceptionCreatedPayload{
		Domain:      exc.Domain,
		Type:        exc.Type,
		Severity:    exc.Severity,
		SLADeadline: exc.SLADeadline,
	})
	if err != nil {
		return nil, services.WrapInternal("failed to marshal exception payload", err)
	}
	if _, err := s.log.AppendIfNew(ctx, models.NewEvent(tenantID, exc.ID, models.EventTypeExceptionCreated, models.SystemActor(), payload)); err != nil {
		return nil, err
	}

	s.logger.Info("Exception created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("exception_id", exc.ID.String()),
		zap.String("domain", exc.Domain),
		zap.String("severity", string(exc.Severity)))
	return exc, nil
}

// Get retrieves an exception with its current playbook pointer state
func (s *Service) Get(ctx context.Context, tenantID, exceptionID uuid.UUID) (*models.Exception, error) {
	exc, err := s.exceptions.GetByID(ctx, tenantID, exceptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrExceptionNotFound
		}
		return nil, services.WrapInternal("failed to load exception", err)
	}
	return exc, nil
}

// Timeline retrieves the exception's events in insertion order
func (s *Service) Timeline(ctx context.Context, tenantID, exceptionID uuid.UUID) ([]*models.Event, error) {
	if _, err := s.Get(ctx, tenantID, exceptionID); err != nil {
		return nil, err
	}
	return s.log.ListForException(ctx, tenantID, exceptionID)
}

// UpdateStatus transitions the exception's lifecycle status
func (s *Service) UpdateStatus(ctx context.Context, tenantID, exceptionID uuid.UUID, status models.ExceptionStatus) (*models.Exception, error) {
	switch status {
	case models.ExceptionStatusOpen, models.ExceptionStatusAnalyzing, models.ExceptionStatusRemediating,
		models.ExceptionStatusResolved, models.ExceptionStatusClosed:
	default:
		return nil, services.ErrInvalidInput
	}

	if err := s.exceptions.UpdateStatus(ctx, tenantID, exceptionID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrExceptionNotFound
		}
		return nil, services.WrapInternal("failed to update exception status", err)
	}
	return s.Get(ctx, tenantID, exceptionID)
}
