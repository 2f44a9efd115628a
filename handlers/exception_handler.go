package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshub/exception-plane/middleware"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/services/exception"
	"github.com/opshub/exception-plane/utils"
	"go.uber.org/zap"
)

// CreateExceptionRequest represents a request to record a new exception
type CreateExceptionRequest struct {
	Domain      string     `json:"domain" validate:"required"`
	Type        string     `json:"type" validate:"required"`
	Severity    string     `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Owner       *string    `json:"owner,omitempty"`
	SLADeadline *time.Time `json:"sla_deadline,omitempty"`
}

// UpdateExceptionStatusRequest represents a status transition request
type UpdateExceptionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open analyzing remediating resolved closed"`
}

// ExceptionHandler handles exception intake and read requests
type ExceptionHandler struct {
	exceptions *exception.Service
	logger     *zap.Logger
}

// NewExceptionHandler creates a new ExceptionHandler
func NewExceptionHandler(exceptions *exception.Service, logger *zap.Logger) *ExceptionHandler {
	return &ExceptionHandler{
		exceptions: exceptions,
		logger:     logger,
	}
}

// HandleCreateException handles POST /v1/exceptions
func (h *ExceptionHandler) HandleCreateException(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	var req CreateExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	exc, err := h.exceptions.Create(ctx, tenantID, exception.CreateInput{
		Domain:      req.Domain,
		Type:        req.Type,
		Severity:    models.Severity(req.Severity),
		Owner:       req.Owner,
		SLADeadline: req.SLADeadline,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, exc)
}

// HandleGetException handles GET /v1/exceptions/{exceptionID}
func (h *ExceptionHandler) HandleGetException(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	exceptionID, err := uuid.Parse(chi.URLParam(r, "exceptionID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid exception ID", nil)
		return
	}

	exc, err := h.exceptions.Get(ctx, tenantID, exceptionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, exc)
}

// HandleGetTimeline handles GET /v1/exceptions/{exceptionID}/events
func (h *ExceptionHandler) HandleGetTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	exceptionID, err := uuid.Parse(chi.URLParam(r, "exceptionID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid exception ID", nil)
		return
	}

	timeline, err := h.exceptions.Timeline(ctx, tenantID, exceptionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, timeline)
}

// HandleUpdateStatus handles PATCH /v1/exceptions/{exceptionID}/status
func (h *ExceptionHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	exceptionID, err := uuid.Parse(chi.URLParam(r, "exceptionID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid exception ID", nil)
		return
	}

	var req UpdateExceptionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	exc, err := h.exceptions.UpdateStatus(ctx, tenantID, exceptionID, models.ExceptionStatus(req.Status))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, exc)
}
