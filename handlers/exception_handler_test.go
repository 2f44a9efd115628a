package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opshub/exception-plane/middleware"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories/memory"
	"github.com/opshub/exception-plane/services/events"
	"github.com/opshub/exception-plane/services/exception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type exceptionFixture struct {
	router   chi.Router
	store    *memory.Store
	tenantID uuid.UUID
}

func newExceptionFixture(t *testing.T) *exceptionFixture {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	log := events.NewService(repos.Events, nil, zap.NewNop())
	svc := exception.NewService(repos.Exceptions, log, zap.NewNop())

	h := NewExceptionHandler(svc, zap.NewNop())
	r := chi.NewRouter()
	r.Post("/exceptions", h.HandleCreateException)
	r.Get("/exceptions/{exceptionID}", h.HandleGetException)
	r.Get("/exceptions/{exceptionID}/events", h.HandleGetTimeline)
	r.Patch("/exceptions/{exceptionID}/status", h.HandleUpdateStatus)

	return &exceptionFixture{
		router:   r,
		store:    store,
		tenantID: uuid.New(),
	}
}

func (f *exceptionFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	ctx := middleware.WithTenantID(req.Context(), f.tenantID)
	ctx = middleware.WithActor(ctx, models.SystemActor())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func decodeException(t *testing.T, rec *httptest.ResponseRecorder) models.Exception {
	t.Helper()
	var resp struct {
		Data models.Exception `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestHandleCreateException(t *testing.T) {
	f := newExceptionFixture(t)
	deadline := time.Now().Add(2 * time.Hour).UTC()

	rec := f.do(t, http.MethodPost, "/exceptions", CreateExceptionRequest{
		Domain:      "settlement",
		Type:        "trade_break",
		Severity:    "high",
		SLADeadline: &deadline,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	exc := decodeException(t, rec)
	assert.Equal(t, f.tenantID, exc.TenantID)
	assert.Equal(t, "settlement", exc.Domain)
	assert.Equal(t, models.SeverityHigh, exc.Severity)
	assert.Equal(t, models.ExceptionStatusOpen, exc.Status)
}

func TestHandleCreateExceptionValidation(t *testing.T) {
	f := newExceptionFixture(t)

	tests := []struct {
		name string
		body CreateExceptionRequest
	}{
		{"missing domain", CreateExceptionRequest{Type: "trade_break"}},
		{"missing type", CreateExceptionRequest{Domain: "settlement"}},
		{"bad severity", CreateExceptionRequest{Domain: "settlement", Type: "trade_break", Severity: "urgent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/exceptions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleGetException(t *testing.T) {
	f := newExceptionFixture(t)

	created := f.do(t, http.MethodPost, "/exceptions", CreateExceptionRequest{
		Domain: "kyc",
		Type:   "document_mismatch",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	exc := decodeException(t, created)

	rec := f.do(t, http.MethodGet, "/exceptions/"+exc.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeException(t, rec)
	assert.Equal(t, exc.ID, got.ID)
	assert.Equal(t, models.SeverityMedium, got.Severity)
}

func TestHandleGetExceptionNotFound(t *testing.T) {
	f := newExceptionFixture(t)

	rec := f.do(t, http.MethodGet, "/exceptions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetExceptionInvalidID(t *testing.T) {
	f := newExceptionFixture(t)

	rec := f.do(t, http.MethodGet, "/exceptions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetTimeline(t *testing.T) {
	f := newExceptionFixture(t)

	created := f.do(t, http.MethodPost, "/exceptions", CreateExceptionRequest{
		Domain: "settlement",
		Type:   "trade_break",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	exc := decodeException(t, created)

	rec := f.do(t, http.MethodGet, "/exceptions/"+exc.ID.String()+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []models.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, models.EventTypeExceptionCreated, resp.Data[0].Type)
}

func TestHandleGetTimelineUnknownException(t *testing.T) {
	f := newExceptionFixture(t)

	rec := f.do(t, http.MethodGet, "/exceptions/"+uuid.NewString()+"/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpdateStatus(t *testing.T) {
	f := newExceptionFixture(t)

	created := f.do(t, http.MethodPost, "/exceptions", CreateExceptionRequest{
		Domain: "settlement",
		Type:   "trade_break",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	exc := decodeException(t, created)

	rec := f.do(t, http.MethodPatch, "/exceptions/"+exc.ID.String()+"/status", UpdateExceptionStatusRequest{
		Status: "analyzing",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeException(t, rec)
	assert.Equal(t, models.ExceptionStatusAnalyzing, got.Status)
}

func TestHandleUpdateStatusRejectsUnknown(t *testing.T) {
	f := newExceptionFixture(t)

	created := f.do(t, http.MethodPost, "/exceptions", CreateExceptionRequest{
		Domain: "settlement",
		Type:   "trade_break",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	exc := decodeException(t, created)

	rec := f.do(t, http.MethodPatch, "/exceptions/"+exc.ID.String()+"/status", UpdateExceptionStatusRequest{
		Status: "archived",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateExceptionMissingTenant(t *testing.T) {
	f := newExceptionFixture(t)

	body, err := json.Marshal(CreateExceptionRequest{Domain: "settlement", Type: "trade_break"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/exceptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
