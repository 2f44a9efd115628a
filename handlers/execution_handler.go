package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshub/exception-plane/middleware"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/services/playbook"
	"github.com/opshub/exception-plane/utils"
	"go.uber.org/zap"
)

// StepActionRequest carries the optional operator notes for a step transition
type StepActionRequest struct {
	Notes string `json:"notes,omitempty" validate:"max=2000"`
}

// ExecutionHandler handles playbook execution requests: starting a playbook
// on an exception and completing or skipping its current step. The actor
// comes from the authenticated token, never from the request body.
type ExecutionHandler struct {
	executions *playbook.Service
	logger     *zap.Logger
}

// NewExecutionHandler creates a new ExecutionHandler
func NewExecutionHandler(executions *playbook.Service, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		executions: executions,
		logger:     logger,
	}
}

// HandleStartPlaybook handles POST /v1/exceptions/{exceptionID}/playbooks/{playbookID}/start
func (h *ExecutionHandler) HandleStartPlaybook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	exceptionID, playbookID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	actor := middleware.GetActorFromContext(ctx)
	exc, err := h.executions.Start(ctx, tenantID, exceptionID, playbookID, actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, exc)
}

// HandleCompleteStep handles POST /v1/exceptions/{exceptionID}/playbooks/{playbookID}/steps/{stepOrder}/complete
func (h *ExecutionHandler) HandleCompleteStep(w http.ResponseWriter, r *http.Request) {
	h.handleStepTransition(w, r, h.executions.CompleteStep)
}

// HandleSkipStep handles POST /v1/exceptions/{exceptionID}/playbooks/{playbookID}/steps/{stepOrder}/skip
func (h *ExecutionHandler) HandleSkipStep(w http.ResponseWriter, r *http.Request) {
	h.handleStepTransition(w, r, h.executions.SkipStep)
}

type stepTransitionFunc func(ctx context.Context, tenantID, exceptionID, playbookID uuid.UUID, stepOrder int, actor models.Actor, notes string) (*models.Exception, error)

func (h *ExecutionHandler) handleStepTransition(w http.ResponseWriter, r *http.Request, transition stepTransitionFunc) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	exceptionID, playbookID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	stepOrder, err := strconv.Atoi(chi.URLParam(r, "stepOrder"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid step order", nil)
		return
	}

	var req StepActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actor := middleware.GetActorFromContext(ctx)
	exc, err := transition(ctx, tenantID, exceptionID, playbookID, stepOrder, actor, req.Notes)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, exc)
}

func (h *ExecutionHandler) parseIDs(w http.ResponseWriter, r *http.Request) (exceptionID, playbookID uuid.UUID, ok bool) {
	var err error
	exceptionID, err = uuid.Parse(chi.URLParam(r, "exceptionID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid exception ID", nil)
		return uuid.Nil, uuid.Nil, false
	}
	playbookID, err = uuid.Parse(chi.URLParam(r, "playbookID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid playbook ID", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return exceptionID, playbookID, true
}
