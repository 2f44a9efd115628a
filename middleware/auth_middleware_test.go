package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testIssuer = "exception-plane"

func newValidator() *ServiceTokenValidator {
	return NewServiceTokenValidator([]byte("test-secret"), testIssuer)
}

func TestMintAndValidateToken(t *testing.T) {
	v := newValidator()
	tenantID := uuid.New()
	actorID := uuid.New()

	token, err := v.MintToken(tenantID, models.ActorTypeUser, actorID.String(), time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	assert.Equal(t, string(models.ActorTypeUser), claims.ActorType)
	assert.Equal(t, actorID.String(), claims.Sub)
	assert.Equal(t, testIssuer, claims.Iss)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	v := newValidator()

	token, err := v.MintToken(uuid.New(), models.ActorTypeAgent, uuid.New().String(), -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	other := NewServiceTokenValidator([]byte("other-secret"), testIssuer)
	token, err := other.MintToken(uuid.New(), models.ActorTypeUser, uuid.New().String(), time.Hour)
	require.NoError(t, err)

	_, err = newValidator().ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	other := NewServiceTokenValidator([]byte("test-secret"), "someone-else")
	token, err := other.MintToken(uuid.New(), models.ActorTypeUser, uuid.New().String(), time.Hour)
	require.NoError(t, err)

	_, err = newValidator().ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func authChain(v *ServiceTokenValidator, next http.Handler) http.Handler {
	m := NewAuthMiddleware(v, zap.NewNop())
	return m.RequireAuth(m.ExtractTenant(next))
}

func TestRequireAuthMissingToken(t *testing.T) {
	handler := authChain(newValidator(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthChainSetsTenantAndActor(t *testing.T) {
	v := newValidator()
	tenantID := uuid.New()
	actorID := uuid.New()

	var gotTenant uuid.UUID
	var gotActor models.Actor
	handler := authChain(v, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = GetTenantIDFromContext(r.Context())
		gotActor = GetActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := v.MintToken(tenantID, models.ActorTypeUser, actorID.String(), time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenantID, gotTenant)
	assert.Equal(t, models.ActorTypeUser, gotActor.Type)
	require.NotNil(t, gotActor.ID)
	assert.Equal(t, actorID, *gotActor.ID)
}

func TestAuthChainRejectsUnknownActorType(t *testing.T) {
	v := newValidator()
	token, err := v.MintToken(uuid.New(), models.ActorType("robot"), uuid.New().String(), time.Hour)
	require.NoError(t, err)

	handler := authChain(v, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
