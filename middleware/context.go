package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"

	// TenantIDKey is the context key for tenant ID
	TenantIDKey contextKey = "tenant_id"

	// ActorKey is the context key for the authenticated actor
	ActorKey contextKey = "actor"
)

// Claims represents JWT claims extracted from a service token
type Claims struct {
	Sub       string `json:"sub"`        // Actor identifier (UUID for users/agents)
	TenantID  string `json:"tenant_id"`  // Tenant the token is scoped to
	ActorType string `json:"actor_type"` // system | agent | user
	Iss       string `json:"iss"`
	Exp       int64  `json:"exp"`
	Iat       int64  `json:"iat"`
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves JWT claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds JWT claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetTenantIDFromContext retrieves the tenant ID from context
func GetTenantIDFromContext(ctx context.Context) uuid.UUID {
	if val := ctx.Value(TenantIDKey); val != nil {
		if tenantID, ok := val.(uuid.UUID); ok {
			return tenantID
		}
	}
	return uuid.Nil
}

// WithTenantID adds a tenant ID to the context
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetActorFromContext retrieves the authenticated actor from context.
// Falls back to the system actor when none is set.
func GetActorFromContext(ctx context.Context) models.Actor {
	if val := ctx.Value(ActorKey); val != nil {
		if actor, ok := val.(models.Actor); ok {
			return actor
		}
	}
	return models.SystemActor()
}

// WithActor adds the authenticated actor to the context
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}
