package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshub/exception-plane/services/tenant"
	"github.com/opshub/exception-plane/utils"
	"go.uber.org/zap"
)

// CreateTenantRequest represents a request to register a tenant
type CreateTenantRequest struct {
	Name         string  `json:"name" validate:"required,max=255"`
	Slug         string  `json:"slug" validate:"required,max=64"`
	SLAThreshold float64 `json:"sla_threshold,omitempty" validate:"gte=0,lte=1"`
}

// SLAThresholdResponse represents a tenant's effective SLA warning threshold
type SLAThresholdResponse struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	SLAThreshold float64   `json:"sla_threshold"`
}

// TenantHandler handles tenant administration requests
type TenantHandler struct {
	tenants *tenant.Service
	logger  *zap.Logger
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(tenants *tenant.Service, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{
		tenants: tenants,
		logger:  logger,
	}
}

// HandleCreateTenant handles POST /v1/tenants
func (h *TenantHandler) HandleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	created, err := h.tenants.Create(r.Context(), req.Name, req.Slug, req.SLAThreshold)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, created)
}

// HandleGetSLAThreshold handles GET /v1/tenants/{tenantID}/sla-threshold
func (h *TenantHandler) HandleGetSLAThreshold(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid tenant ID", nil)
		return
	}

	threshold, err := h.tenants.SLAThreshold(r.Context(), tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, SLAThresholdResponse{
		TenantID:     tenantID,
		SLAThreshold: threshold,
	})
}
