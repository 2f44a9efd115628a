package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services"
	"go.uber.org/zap"
)

// Publisher delivers stored events to interested workers.
// The dispatcher in this package is the in-process implementation.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Service is the append-only event log. Append idempotency is the single
// primitive every other component builds on: the same event ID is stored at
// most once, and only the first successful insert is published.
type Service struct {
	events    repositories.EventRepository
	publisher Publisher
	logger    *zap.Logger
}

// NewService creates a new event log service. publisher may be nil, in which
// case appended events are stored but not delivered (used in tests and
// one-shot tools).
func NewService(events repositories.EventRepository, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		events:    events,
		publisher: publisher,
		logger:    logger,
	}
}

// AppendIfNew appends the event unless its ID has been seen before.
// A duplicate is a no-op returning (false, nil); every other store failure
// still propagates.
func (s *Service) AppendIfNew(ctx context.Context, event *models.Event) (bool, error) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	inserted, err := s.events.InsertIfNew(ctx, event)
	if err != nil {
		return false, services.WrapInternal("failed to append event", err)
	}
	if !inserted {
		return false, nil
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			// The event is durably stored; delivery is at-least-once via the
			// redeliverer, so a publish failure is logged, not surfaced.
			s.logger.Warn("failed to publish appended event",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}

	return true, nil
}

// Append appends the event, treating a duplicate ID as ErrEventExists.
// Used where the caller has already decided idempotency should be an error.
func (s *Service) Append(ctx context.Context, event *models.Event) error {
	inserted, err := s.AppendIfNew(ctx, event)
	if err != nil {
		return err
	}
	if !inserted {
		return services.ErrEventExists
	}
	return nil
}

// Exists reports whether an event with the given ID is stored for the tenant
func (s *Service) Exists(ctx context.Context, tenantID, eventID uuid.UUID) (bool, error) {
	exists, err := s.events.Exists(ctx, tenantID, eventID)
	if err != nil {
		return false, services.WrapInternal("failed to check event existence", err)
	}
	return exists, nil
}

// ListForException retrieves the exception's timeline in insertion order
func (s *Service) ListForException(ctx context.Context, tenantID, exceptionID uuid.UUID) ([]*models.Event, error) {
	list, err := s.events.ListForException(ctx, tenantID, exceptionID)
	if err != nil {
		return nil, services.WrapInternal("failed to list events", err)
	}
	return list, nil
}

// HasEmitted reports whether any event of the given type exists for the
// exception. This is the durable once-only guard used by the SLA monitor.
func (s *Service) HasEmitted(ctx context.Context, tenantID, exceptionID uuid.UUID, eventType models.EventType) (bool, error) {
	exists, err := s.events.ExistsForException(ctx, tenantID, exceptionID, eventType)
	if err != nil {
		return false, services.WrapInternal("failed to check emitted event", err)
	}
	return exists, nil
}
