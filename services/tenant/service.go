// Package tenant manages tenant records and their SLA threshold overrides.
package tenant

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/services"
	"go.uber.org/zap"
)

// Service manages tenants
type Service struct {
	tenants repositories.TenantRepository
	logger  *zap.Logger
}

// NewService creates a new tenant service
func NewService(tenants repositories.TenantRepository, logger *zap.Logger) *Service {
	return &Service{
		tenants: tenants,
		logger:  logger,
	}
}

// Create registers a new tenant. A zero threshold means "use the default";
// anything else must be a fraction in (0, 1].
func (s *Service) Create(ctx context.Context, name, slug string, slaThreshold float64) (*models.Tenant, error) {
	if name == "" || slug == "" {
		return nil, services.ErrInvalidInput
	}
	if slaThreshold < 0 || slaThreshold > 1 {
		return nil, services.ErrInvalidInput
	}

	tenant := models.NewTenant(name, slug)
	if slaThreshold > 0 {
		tenant.SLAThreshold = slaThreshold
	}

	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, services.WrapInternal("failed to create tenant", err)
	}

	s.logger.Info("Tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug))
	return tenant, nil
}

// Get retrieves a tenant by ID
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrTenantNotFound
		}
		return nil, services.WrapInternal("failed to load tenant", err)
	}
	return tenant, nil
}

// SLAThreshold returns the tenant's effective SLA warning threshold
func (s *Service) SLAThreshold(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	tenant, err := s.Get(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if tenant.SLAThreshold <= 0 || tenant.SLAThreshold > 1 {
		return models.DefaultSLAThreshold, nil
	}
	return tenant.SLAThreshold, nil
}
