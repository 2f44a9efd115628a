package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshub/exception-plane/middleware"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories/memory"
	"github.com/opshub/exception-plane/services/playbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPlaybookRouter(t *testing.T) (chi.Router, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	defs := playbook.NewDefinitionService(store.Repositories().Playbooks, store.TransactionManager(), zap.NewNop())
	h := NewPlaybookHandler(defs, zap.NewNop())

	r := chi.NewRouter()
	r.Post("/playbooks", h.HandleCreatePlaybook)
	r.Get("/playbooks", h.HandleListPlaybooks)
	r.Get("/playbooks/{playbookID}", h.HandleGetPlaybook)
	r.Put("/playbooks/{playbookID}/steps/order", h.HandleReorderSteps)
	return r, uuid.New()
}

func doJSON(t *testing.T, router chi.Router, tenantID uuid.UUID, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	ctx := middleware.WithTenantID(req.Context(), tenantID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestHandleCreateAndGetPlaybook(t *testing.T) {
	router, tenantID := newPlaybookRouter(t)

	rec := doJSON(t, router, tenantID, http.MethodPost, "/playbooks", CreatePlaybookRequest{
		Name: "trade-break",
		Steps: []PlaybookStepRequest{
			{ActionType: "notify"},
			{ActionType: "call_tool", Params: json.RawMessage(`{"tool":"resettle"}`)},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data models.Playbook `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.Data.Steps, 2)
	assert.Equal(t, 1, created.Data.Steps[0].StepOrder)

	rec = doJSON(t, router, tenantID, http.MethodGet, "/playbooks/"+created.Data.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, tenantID, http.MethodGet, "/playbooks", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCreatePlaybookValidation(t *testing.T) {
	router, tenantID := newPlaybookRouter(t)

	rec := doJSON(t, router, tenantID, http.MethodPost, "/playbooks", CreatePlaybookRequest{Name: "no-steps"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, tenantID, http.MethodPost, "/playbooks", CreatePlaybookRequest{
		Steps: []PlaybookStepRequest{{ActionType: "notify"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReorderSteps(t *testing.T) {
	router, tenantID := newPlaybookRouter(t)

	rec := doJSON(t, router, tenantID, http.MethodPost, "/playbooks", CreatePlaybookRequest{
		Name: "trade-break",
		Steps: []PlaybookStepRequest{
			{ActionType: "notify"},
			{ActionType: "add_comment"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data models.Playbook `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	reorderPath := "/playbooks/" + created.Data.ID.String() + "/steps/order"
	rec = doJSON(t, router, tenantID, http.MethodPut, reorderPath, ReorderStepsRequest{
		StepIDs: []uuid.UUID{created.Data.Steps[1].ID, created.Data.Steps[0].ID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var reordered struct {
		Data models.Playbook `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reordered))
	assert.Equal(t, models.ActionTypeAddComment, reordered.Data.Steps[0].ActionType)

	// Partial permutation is a 400.
	rec = doJSON(t, router, tenantID, http.MethodPut, reorderPath, ReorderStepsRequest{
		StepIDs: []uuid.UUID{created.Data.Steps[0].ID},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetPlaybookNotFound(t *testing.T) {
	router, tenantID := newPlaybookRouter(t)

	rec := doJSON(t, router, tenantID, http.MethodGet, "/playbooks/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
