package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// ServiceTokenValidator validates HS256 service tokens minted for the
// orchestrator pipeline, agents, and operator sessions.
type ServiceTokenValidator struct {
	secret []byte
	issuer string
}

// NewServiceTokenValidator creates a validator for the given shared secret
func NewServiceTokenValidator(secret []byte, issuer string) *ServiceTokenValidator {
	return &ServiceTokenValidator{secret: secret, issuer: issuer}
}

// ValidateToken parses and verifies a service token
func (v *ServiceTokenValidator) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	claims := &Claims{}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Sub = sub
	}
	if tenantID, ok := mapClaims["tenant_id"].(string); ok {
		claims.TenantID = tenantID
	}
	if actorType, ok := mapClaims["actor_type"].(string); ok {
		claims.ActorType = actorType
	}
	if iss, ok := mapClaims["iss"].(string); ok {
		claims.Iss = iss
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.Exp = int64(exp)
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.Iat = int64(iat)
	}

	if v.issuer != "" && claims.Iss != v.issuer {
		return nil, fmt.Errorf("unexpected issuer: %s", claims.Iss)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("token missing tenant_id claim")
	}
	return claims, nil
}

// MintToken creates a signed service token. Used by operational tooling and
// by tests; the exp window is the caller's choice.
func (v *ServiceTokenValidator) MintToken(tenantID uuid.UUID, actorType models.ActorType, sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        sub,
		"tenant_id":  tenantID.String(),
		"actor_type": string(actorType),
		"iss":        v.issuer,
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub),
			zap.String("actor_type", claims.ActorType))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractTenant is a middleware that resolves the tenant scope and actor
// identity from claims. Must run after RequireAuth. Every downstream
// operation takes the tenant ID from context; it is never defaulted.
func (m *AuthMiddleware) ExtractTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		claims := GetClaimsFromContext(ctx)
		if claims == nil {
			m.logger.Error("claims not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		tenantID, err := uuid.Parse(claims.TenantID)
		if err != nil {
			m.logger.Error("invalid tenant_id in claims",
				zap.String("request_id", requestID),
				zap.String("tenant_id", claims.TenantID),
				zap.Error(err))
			_ = utils.WriteForbidden(w, "Invalid tenant ID")
			return
		}

		actor := models.Actor{Type: models.ActorType(claims.ActorType)}
		switch actor.Type {
		case models.ActorTypeSystem, models.ActorTypeAgent, models.ActorTypeUser:
		default:
			m.logger.Error("invalid actor_type in claims",
				zap.String("request_id", requestID),
				zap.String("actor_type", claims.ActorType))
			_ = utils.WriteForbidden(w, "Invalid actor type")
			return
		}
		if actor.Type != models.ActorTypeSystem && claims.Sub != "" {
			actorID, err := uuid.Parse(claims.Sub)
			if err != nil {
				m.logger.Error("invalid sub in claims",
					zap.String("request_id", requestID),
					zap.String("sub", claims.Sub),
					zap.Error(err))
				_ = utils.WriteForbidden(w, "Invalid actor ID")
				return
			}
			actor.ID = &actorID
		}

		ctx = WithTenantID(ctx, tenantID)
		ctx = WithActor(ctx, actor)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken pulls a bearer token from the Authorization header
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
