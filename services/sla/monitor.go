// Package sla implements the periodic SLA deadline monitor. It is stateless:
// once-only emission is enforced against the event log, so any number of
// monitor instances (or restarts) produce at most one SLAImminent and one
// SLAExpired per exception.
package sla

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services/events"
	"go.uber.org/zap"
)

// Config holds configuration for the Monitor
type Config struct {
	Interval time.Duration // How often to sweep
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{Interval: time.Minute}
}

// Monitor periodically evaluates open exceptions against their SLA deadlines
type Monitor struct {
	exceptions repositories.ExceptionRepository
	tenants    repositories.TenantRepository
	log        *events.Service
	logger     *zap.Logger
	config     Config

	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
	mu       sync.Mutex
}

// NewMonitor creates a new SLA monitor
func NewMonitor(exceptions repositories.ExceptionRepository, tenants repositories.TenantRepository, log *events.Service, logger *zap.Logger, config Config) *Monitor {
	return &Monitor{
		exceptions: exceptions,
		tenants:    tenants,
		log:        log,
		logger:     logger,
		config:     config,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start starts the periodic sweep loop
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true

	go m.run()

	m.logger.Info("SLA monitor started", zap.Duration("interval", m.config.Interval))
	return nil
}

// Stop stops the sweep loop, waiting for an in-flight sweep to finish
func (m *Monitor) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopChan)
	select {
	case <-m.doneChan:
		m.logger.Info("SLA monitor stopped")
		return nil
	case <-time.After(timeout):
		m.logger.Warn("SLA monitor stop timed out")
		return context.DeadlineExceeded
	}
}

func (m *Monitor) run() {
	defer close(m.doneChan)
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			if err := m.Sweep(context.Background(), time.Now()); err != nil {
				m.logger.Error("SLA sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep evaluates every open exception with a deadline as of now. The
// imminent and expired checks are independent: an exception can trigger
// SLAImminent on one sweep and SLAExpired on a later one. A tick is
// memoryless; everything durable lives in the event log.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) error {
	list, err := m.exceptions.ListOpenWithDeadline(ctx)
	if err != nil {
		return err
	}

	// Threshold lookups are cached for the duration of one sweep only.
	thresholds := make(map[uuid.UUID]float64)

	for _, exc := range list {
		threshold, ok := thresholds[exc.TenantID]
		if !ok {
			threshold = m.tenantThreshold(ctx, exc.TenantID)
			thresholds[exc.TenantID] = threshold
		}

		if err := m.checkImminent(ctx, exc, threshold, now); err != nil {
			m.logger.Error("SLA imminent check failed",
				zap.String("exception_id", exc.ID.String()),
				zap.Error(err))
		}
		if err := m.checkExpired(ctx, exc, now); err != nil {
			m.logger.Error("SLA expired check failed",
				zap.String("exception_id", exc.ID.String()),
				zap.Error(err))
		}
	}
	return nil
}

func (m *Monitor) tenantThreshold(ctx context.Context, tenantID uuid.UUID) float64 {
	tenant, err := m.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			m.logger.Warn("Failed to load tenant threshold, using default",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
		return models.DefaultSLAThreshold
	}
	if tenant.SLAThreshold <= 0 || tenant.SLAThreshold > 1 {
		return models.DefaultSLAThreshold
	}
	return tenant.SLAThreshold
}

func (m *Monitor) checkImminent(ctx context.Context, exc *models.Exception, threshold float64, now time.Time) error {
	deadline := *exc.SLADeadline
	total := deadline.Sub(exc.CreatedAt)
	if total <= 0 {
		return nil
	}
	elapsed := now.Sub(exc.CreatedAt)
	if float64(elapsed)/float64(total) < threshold {
		return nil
	}

	emitted, err := m.log.HasEmitted(ctx, exc.TenantID, exc.ID, models.EventTypeSLAImminent)
	if err != nil {
		return err
	}
	if emitted {
		return nil
	}

	payload, err := models.MarshalPayload(models.SLAImminentPayload{
		ExceptionID:          exc.ID,
		SLADeadline:          deadline,
		TimeRemainingSeconds: deadline.Sub(now).Seconds(),
		ThresholdPercentage:  threshold,
		CorrelationID:        exc.ID,
	})
	if err != nil {
		return err
	}
	if _, err := m.log.AppendIfNew(ctx, models.NewEvent(exc.TenantID, exc.ID, models.EventTypeSLAImminent, models.SystemActor(), payload)); err != nil {
		return err
	}

	m.logger.Warn("SLA imminent",
		zap.String("tenant_id", exc.TenantID.String()),
		zap.String("exception_id", exc.ID.String()),
		zap.Time("sla_deadline", deadline),
		zap.Float64("threshold", threshold))
	return nil
}

func (m *Monitor) checkExpired(ctx context.Context, exc *models.Exception, now time.Time) error {
	deadline := *exc.SLADeadline
	if now.Before(deadline) {
		return nil
	}

	emitted, err := m.log.HasEmitted(ctx, exc.TenantID, exc.ID, models.EventTypeSLAExpired)
	if err != nil {
		return err
	}
	if emitted {
		return nil
	}

	payload, err := models.MarshalPayload(models.SLAExpiredPayload{
		ExceptionID:           exc.ID,
		SLADeadline:           deadline,
		BreachDurationSeconds: now.Sub(deadline).Seconds(),
		CorrelationID:         exc.ID,
	})
	if err != nil {
		return err
	}
	if _, err := m.log.AppendIfNew(ctx, models.NewEvent(exc.TenantID, exc.ID, models.EventTypeSLAExpired, models.SystemActor(), payload)); err != nil {
		return err
	}

	m.logger.Warn("SLA expired",
		zap.String("tenant_id", exc.TenantID.String()),
		zap.String("exception_id", exc.ID.String()),
		zap.Time("sla_deadline", deadline),
		zap.Float64("breach_seconds", now.Sub(deadline).Seconds()))
	return nil
}
