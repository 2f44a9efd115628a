package retry

import (
	"context"
	"sync"
	"time"

	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services/events"
	"go.uber.org/zap"
)

// RedelivererConfig holds configuration for the Redeliverer
type RedelivererConfig struct {
	Interval  time.Duration // How often to poll for due entries
	BatchSize int           // Max entries per sweep
}

// DefaultRedelivererConfig returns the default configuration
func DefaultRedelivererConfig() RedelivererConfig {
	return RedelivererConfig{
		Interval:  5 * time.Second,
		BatchSize: 100,
	}
}

// Redeliverer polls the processing ledger for failed entries whose
// next_attempt_at has passed and republishes the underlying events. Together
// with the ledger it makes delivery survive process restarts: an in-memory
// timer lost to a crash is reconstructed from the durable column.
type Redeliverer struct {
	processing repositories.ProcessingRepository
	eventsRepo repositories.EventRepository
	publisher  events.Publisher
	logger     *zap.Logger
	config     RedelivererConfig

	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
	mu       sync.Mutex
}

// NewRedeliverer creates a new Redeliverer instance
func NewRedeliverer(processing repositories.ProcessingRepository, eventsRepo repositories.EventRepository, publisher events.Publisher, logger *zap.Logger, config RedelivererConfig) *Redeliverer {
	return &Redeliverer{
		processing: processing,
		eventsRepo: eventsRepo,
		publisher:  publisher,
		logger:     logger,
		config:     config,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start starts the polling loop
func (r *Redeliverer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true

	go r.run()

	r.logger.Info("Redeliverer started",
		zap.Duration("interval", r.config.Interval),
		zap.Int("batch_size", r.config.BatchSize))
	return nil
}

// Stop stops the polling loop and waits for the current sweep to finish
func (r *Redeliverer) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopChan)
	select {
	case <-r.doneChan:
		r.logger.Info("Redeliverer stopped")
		return nil
	case <-time.After(timeout):
		r.logger.Warn("Redeliverer stop timed out")
		return context.DeadlineExceeded
	}
}

func (r *Redeliverer) run() {
	defer close(r.doneChan)
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.Sweep(context.Background(), time.Now()); err != nil {
				r.logger.Error("Redelivery sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep republishes every due entry as of now. MarkProcessing clears
// next_attempt_at before publishing so a slow delivery is not picked up
// again by the next sweep.
func (r *Redeliverer) Sweep(ctx context.Context, now time.Time) error {
	entries, err := r.processing.ListDue(ctx, now, r.config.BatchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		event, err := r.eventsRepo.GetByID(ctx, entry.EventID)
		if err != nil {
			r.logger.Error("Failed to load event for redelivery",
				zap.String("event_id", entry.EventID.String()),
				zap.String("worker_kind", entry.WorkerKind),
				zap.Error(err))
			continue
		}

		if err := r.processing.MarkProcessing(ctx, entry.EventID, entry.WorkerKind); err != nil {
			r.logger.Error("Failed to claim entry for redelivery",
				zap.String("event_id", entry.EventID.String()),
				zap.String("worker_kind", entry.WorkerKind),
				zap.Error(err))
			continue
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Error("Failed to republish event",
				zap.String("event_id", entry.EventID.String()),
				zap.String("worker_kind", entry.WorkerKind),
				zap.Error(err))
		}
	}
	return nil
}
