package retry

import (
	"context"
	"time"

	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services"
	"github.com/opshub/exception-plane/services/events"
	"go.uber.org/zap"
)

// Scheduler decides whether a failed delivery gets another attempt and, if
// so, records the durable next attempt on the processing ledger and appends
// a retry_scheduled event to the exception's log. It implements
// events.RetryScheduler.
type Scheduler struct {
	processing repositories.ProcessingRepository
	log        *events.Service
	policies   PolicySet
	logger     *zap.Logger
	now        func() time.Time
}

// NewScheduler creates a new retry scheduler
func NewScheduler(processing repositories.ProcessingRepository, log *events.Service, policies PolicySet, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		processing: processing,
		log:        log,
		policies:   policies,
		logger:     logger,
		now:        time.Now,
	}
}

// ScheduleRetry records a failed delivery attempt for (event, workerKind).
// It returns (true, nil) when a retry was scheduled and (false, nil) when the
// policy's retry budget is exhausted, in which case the caller dead-letters
// the entry. The retry count lives on the ledger row, so the decision
// survives process restarts.
func (s *Scheduler) ScheduleRetry(ctx context.Context, event *models.Event, workerKind string, errorMessage string) (bool, error) {
	entry, err := s.processing.Get(ctx, event.ID, workerKind)
	if err != nil {
		return false, services.WrapInternal("failed to load processing entry", err)
	}

	retryCount := 0
	if entry != nil {
		retryCount = entry.RetryCount
	}

	policy := s.policies.For(event.Type)
	if retryCount >= policy.MaxRetries {
		s.logger.Warn("Retry budget exhausted",
			zap.String("event_id", event.ID.String()),
			zap.String("worker_kind", workerKind),
			zap.Int("retry_count", retryCount),
			zap.Int("max_retries", policy.MaxRetries))
		return false, nil
	}

	delay := policy.Delay(retryCount)
	nextAttempt := s.now().Add(delay)

	if err := s.processing.MarkFailed(ctx, event.ID, workerKind, retryCount+1, errorMessage, &nextAttempt); err != nil {
		return false, services.WrapInternal("failed to record retry attempt", err)
	}

	payload, err := models.MarshalPayload(models.RetryScheduledPayload{
		OriginalEventID:   event.ID,
		WorkerKind:        workerKind,
		RetryCount:        retryCount + 1,
		RetryDelaySeconds: delay.Seconds(),
		ErrorMessage:      errorMessage,
	})
	if err != nil {
		return false, services.WrapInternal("failed to marshal retry payload", err)
	}

	retryEvent := models.NewEvent(event.TenantID, event.ExceptionID, models.EventTypeRetryScheduled, models.SystemActor(), payload)
	if _, err := s.log.AppendIfNew(ctx, retryEvent); err != nil {
		// The ledger row is already written, so the retry itself is durable;
		// a missing retry_scheduled event only loses timeline visibility.
		s.logger.Error("Failed to append retry_scheduled event",
			zap.String("event_id", event.ID.String()),
			zap.String("worker_kind", workerKind),
			zap.Error(err))
	}

	s.logger.Info("Retry scheduled",
		zap.String("event_id", event.ID.String()),
		zap.String("worker_kind", workerKind),
		zap.Int("retry_count", retryCount+1),
		zap.Duration("delay", delay))
	return true, nil
}
