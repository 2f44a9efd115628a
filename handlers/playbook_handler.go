package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshub/exception-plane/middleware"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/services/playbook"
	"github.com/opshub/exception-plane/utils"
	"go.uber.org/zap"
)

// PlaybookStepRequest represents one step of a playbook being defined
type PlaybookStepRequest struct {
	ActionType string          `json:"action_type" validate:"required"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// CreatePlaybookRequest represents a request to define a playbook
type CreatePlaybookRequest struct {
	Name        string                `json:"name" validate:"required,max=255"`
	Description string                `json:"description,omitempty" validate:"max=2000"`
	Steps       []PlaybookStepRequest `json:"steps" validate:"required,min=1,dive"`
}

// ReorderStepsRequest represents a full-permutation step reorder
type ReorderStepsRequest struct {
	StepIDs []uuid.UUID `json:"step_ids" validate:"required,min=1"`
}

// PlaybookHandler handles playbook definition requests
type PlaybookHandler struct {
	definitions *playbook.DefinitionService
	logger      *zap.Logger
}

// NewPlaybookHandler creates a new PlaybookHandler
func NewPlaybookHandler(definitions *playbook.DefinitionService, logger *zap.Logger) *PlaybookHandler {
	return &PlaybookHandler{
		definitions: definitions,
		logger:      logger,
	}
}

// HandleCreatePlaybook handles POST /v1/playbooks
func (h *PlaybookHandler) HandleCreatePlaybook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	var req CreatePlaybookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	steps := make([]playbook.StepInput, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = playbook.StepInput{
			ActionType: models.ActionType(s.ActionType),
			Params:     s.Params,
		}
	}

	pb, err := h.definitions.Create(ctx, tenantID, req.Name, req.Description, steps)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, pb)
}

// HandleGetPlaybook handles GET /v1/playbooks/{playbookID}
func (h *PlaybookHandler) HandleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	playbookID, err := uuid.Parse(chi.URLParam(r, "playbookID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid playbook ID", nil)
		return
	}

	pb, err := h.definitions.Get(ctx, tenantID, playbookID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, pb)
}

// HandleListPlaybooks handles GET /v1/playbooks
func (h *PlaybookHandler) HandleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	list, err := h.definitions.List(ctx, tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, list)
}

// HandleReorderSteps handles PUT /v1/playbooks/{playbookID}/steps/order
func (h *PlaybookHandler) HandleReorderSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	playbookID, err := uuid.Parse(chi.URLParam(r, "playbookID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid playbook ID", nil)
		return
	}

	var req ReorderStepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	pb, err := h.definitions.Reorder(ctx, tenantID, playbookID, req.StepIDs)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, pb)
}
