package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"go.uber.org/zap"
)

// HandlerFunc processes a published event for one worker kind. Delivery is
// at-least-once: handlers must tolerate re-seeing an event they already
// handled (the dispatcher skips kinds whose ledger entry is completed, but a
// crash between handler success and the ledger write re-runs the handler).
type HandlerFunc func(ctx context.Context, event *models.Event) error

// RetryScheduler decides whether a failed delivery gets another attempt.
// Implemented by services/retry.Scheduler.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, event *models.Event, workerKind string, errorMessage string) (bool, error)
}

// Config holds configuration for the Dispatcher
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent delivery workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// Dispatcher is the in-process publish path: appended events are fanned out
// to registered worker kinds on a buffered channel worker pool. Failed
// deliveries go through the retry scheduler; exhausted ones are
// dead-lettered on the processing ledger.
type Dispatcher struct {
	processing  repositories.ProcessingRepository
	retries     RetryScheduler
	logger      *zap.Logger
	eventChan   chan *models.Event
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	mu          sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(processing repositories.ProcessingRepository, retries RetryScheduler, logger *zap.Logger, config Config) *Dispatcher {
	return &Dispatcher{
		processing:  processing,
		retries:     retries,
		logger:      logger,
		eventChan:   make(chan *models.Event, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		handlers:    make(map[string]HandlerFunc),
	}
}

// Register registers a handler for a worker kind. Must be called before Start.
func (d *Dispatcher) Register(workerKind string, fn HandlerFunc) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers[workerKind] = fn
}

// Start starts the delivery workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started event dispatcher",
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))

	return nil
}

// Stop gracefully stops the dispatcher, waiting for buffered events to drain
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.mu.Unlock()

	d.logger.Info("stopping event dispatcher", zap.Int("pending_events", len(d.eventChan)))

	close(d.eventChan)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("event dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("dispatcher stop timeout after %v", timeout)
	}
}

// Publish enqueues an event for delivery (non-blocking). A full buffer is an
// error so the caller's log shows the drop. A dropped event has no processing
// ledger rows, so the redeliverer will not pick it up; the event itself stays
// durable in the event log.
func (d *Dispatcher) Publish(ctx context.Context, event *models.Event) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.mu.Unlock()

	select {
	case d.eventChan <- event:
		return nil
	default:
		d.logger.Warn("event buffer full, dropping delivery",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)))
		return fmt.Errorf("event buffer full")
	}
}

// worker processes events from the channel
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("dispatcher worker started", zap.Int("worker_id", id))

	for event := range d.eventChan {
		d.deliver(event)
	}

	d.logger.Debug("dispatcher worker stopped", zap.Int("worker_id", id))
}

// deliver fans the event out to every registered worker kind
func (d *Dispatcher) deliver(event *models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d.handlersMu.RLock()
	handlers := make(map[string]HandlerFunc, len(d.handlers))
	for kind, fn := range d.handlers {
		handlers[kind] = fn
	}
	d.handlersMu.RUnlock()

	for kind, fn := range handlers {
		d.deliverTo(ctx, event, kind, fn)
	}
}

// deliverTo runs one worker kind's handler against the event, tracking the
// attempt on the processing ledger
func (d *Dispatcher) deliverTo(ctx context.Context, event *models.Event, kind string, fn HandlerFunc) {
	// Skip kinds that already completed this event (redelivered events reach
	// every kind, not just the failed one).
	entry, err := d.processing.Get(ctx, event.ID, kind)
	if err != nil {
		d.logger.Error("failed to read processing ledger",
			zap.String("event_id", event.ID.String()),
			zap.String("worker_kind", kind),
			zap.Error(err))
		return
	}
	if entry != nil && entry.Status == models.ProcessingStatusCompleted {
		return
	}
	if entry != nil && entry.Status == models.ProcessingStatusDeadLetter {
		return
	}

	if err := d.processing.MarkProcessing(ctx, event.ID, kind); err != nil {
		d.logger.Error("failed to mark processing",
			zap.String("event_id", event.ID.String()),
			zap.String("worker_kind", kind),
			zap.Error(err))
		return
	}

	if err := d.invoke(ctx, event, fn); err != nil {
		d.logger.Warn("event handler failed",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)),
			zap.String("worker_kind", kind),
			zap.Error(err))

		scheduled, schedErr := d.retries.ScheduleRetry(ctx, event, kind, err.Error())
		if schedErr != nil {
			d.logger.Error("failed to schedule retry",
				zap.String("event_id", event.ID.String()),
				zap.String("worker_kind", kind),
				zap.Error(schedErr))
			return
		}
		if !scheduled {
			if dlErr := d.processing.MarkDeadLetter(ctx, event.ID, kind, err.Error()); dlErr != nil {
				d.logger.Error("failed to dead-letter event",
					zap.String("event_id", event.ID.String()),
					zap.String("worker_kind", kind),
					zap.Error(dlErr))
			}
		}
		return
	}

	if err := d.processing.MarkCompleted(ctx, event.ID, kind); err != nil {
		d.logger.Error("failed to mark completed",
			zap.String("event_id", event.ID.String()),
			zap.String("worker_kind", kind),
			zap.Error(err))
	}
}

// invoke runs the handler, converting a panic into an error so one bad
// handler cannot take down the worker pool
func (d *Dispatcher) invoke(ctx context.Context, event *models.Event, fn HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, event)
}

// Stats returns current dispatcher statistics
type Stats struct {
	Started       bool
	WorkerCount   int
	BufferSize    int
	PendingEvents int
	HandlerKinds  []string
}

// GetStats returns current dispatcher statistics
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()

	d.handlersMu.RLock()
	kinds := make([]string, 0, len(d.handlers))
	for kind := range d.handlers {
		kinds = append(kinds, kind)
	}
	d.handlersMu.RUnlock()

	return Stats{
		Started:       started,
		WorkerCount:   d.workerCount,
		BufferSize:    d.bufferSize,
		PendingEvents: len(d.eventChan),
		HandlerKinds:  kinds,
	}
}
