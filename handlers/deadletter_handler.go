package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/middleware"
	"github.com/opshub/exception-plane/services/retry"
	"github.com/opshub/exception-plane/utils"
	"go.uber.org/zap"
)

// DeadLetterHandler exposes the tenant's dead-lettered event deliveries
type DeadLetterHandler struct {
	deadLetters *retry.DeadLetterService
	logger      *zap.Logger
}

// NewDeadLetterHandler creates a new DeadLetterHandler
func NewDeadLetterHandler(deadLetters *retry.DeadLetterService, logger *zap.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		deadLetters: deadLetters,
		logger:      logger,
	}
}

// HandleListDeadLetters handles GET /v1/deadletters
func (h *DeadLetterHandler) HandleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	if tenantID == uuid.Nil {
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid limit", nil)
			return
		}
		limit = v
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid offset", nil)
			return
		}
		offset = v
	}

	list, err := h.deadLetters.List(ctx, tenantID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, list)
}
