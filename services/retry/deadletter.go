package retry

import (
	"context"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services"
	"go.uber.org/zap"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// DeadLetterService exposes the tenant's dead-lettered deliveries: ledger
// entries whose retry budget ran out.
type DeadLetterService struct {
	processing repositories.ProcessingRepository
	logger     *zap.Logger
}

// NewDeadLetterService creates a new dead-letter service
func NewDeadLetterService(processing repositories.ProcessingRepository, logger *zap.Logger) *DeadLetterService {
	return &DeadLetterService{
		processing: processing,
		logger:     logger,
	}
}

// List retrieves dead-lettered entries for the tenant, newest first
func (s *DeadLetterService) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.DeadLetter, error) {
	if limit <= 0 {
		limit = defaultDeadLetterLimit
	}
	if limit > maxDeadLetterLimit {
		limit = maxDeadLetterLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.processing.ListDeadLetters(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list dead letters", err)
	}
	return list, nil
}
