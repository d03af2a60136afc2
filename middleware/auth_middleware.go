package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/auth"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns the principal
	ValidateToken(ctx context.Context, token string) (*auth.Principal, error)
}

const (
	// LegacyTokenHeader is the deprecated header alias for the bearer token
	LegacyTokenHeader = "X-Admin-Token"
	// LegacyTokenCookie is the deprecated cookie alias for the bearer token
	LegacyTokenCookie = "auth_token"

	legacyWarning = `299 - "X-Admin-Token and the auth_token cookie are deprecated; send Authorization: Bearer"`
)

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator    TokenValidator
	acceptLegacy bool
	logger       *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. acceptLegacy enables the
// deprecated X-Admin-Token header and auth_token cookie.
func NewAuthMiddleware(validator TokenValidator, acceptLegacy bool, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator:    validator,
		acceptLegacy: acceptLegacy,
		logger:       logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token, source := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		legacy := source != sourceBearer
		if legacy {
			if !m.acceptLegacy {
				m.logger.Warn("legacy credential refused",
					zap.String("request_id", requestID),
					zap.String("source", source))
				_ = utils.WriteUnauthorized(w, "Send the token as Authorization: Bearer")
				return
			}
			w.Header().Set("Deprecation", "true")
			w.Header().Set("Warning", legacyWarning)
			m.logger.Warn("deprecated credential alias used",
				zap.String("request_id", requestID),
				zap.String("source", source),
				zap.String("path", r.URL.Path))
		}

		principal, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}
		principal.Legacy = legacy

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", principal.Subject),
			zap.String("role", string(principal.Role)))

		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
	})
}

// RequireRole is a middleware that requires one of roles
func (m *AuthMiddleware) RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestIDFromContext(r.Context())
			principal := GetPrincipalFromContext(r.Context())
			if principal == nil {
				m.logger.Error("principal not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !principal.HasAnyRole(roles...) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("sub", principal.Subject),
					zap.String("role", string(principal.Role)))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TenantParam is the route parameter naming the tenant of a request
const TenantParam = "tenantID"

// RequireTenantAccess checks the principal against the {tenantID} route
// parameter. Safe methods need read access, everything else write access.
func (m *AuthMiddleware) RequireTenantAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestIDFromContext(r.Context())
		principal := GetPrincipalFromContext(r.Context())
		if principal == nil {
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		tenantID, err := uuid.Parse(chi.URLParam(r, TenantParam))
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid tenant ID", nil)
			return
		}

		allowed := principal.CanRead(tenantID)
		if !isSafeMethod(r.Method) {
			allowed = principal.CanWrite(tenantID)
		}
		if !allowed {
			m.logger.Warn("tenant access denied",
				zap.String("request_id", requestID),
				zap.String("sub", principal.Subject),
				zap.String("tenant_id", tenantID.String()),
				zap.String("method", r.Method))
			_ = utils.WriteForbidden(w, "Access to this tenant is not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

const (
	sourceBearer = "authorization"
	sourceHeader = "x-admin-token"
	sourceCookie = "cookie"
)

// extractToken returns the token and where it came from. The Authorization
// header takes precedence over the legacy aliases. Query parameters are
// never read.
func extractToken(r *http.Request) (string, string) {
	if token := extractBearerToken(r); token != "" {
		return token, sourceBearer
	}
	if token := strings.TrimSpace(r.Header.Get(LegacyTokenHeader)); token != "" {
		return strings.TrimSpace(strings.TrimPrefix(token, "Bearer ")), sourceHeader
	}
	if cookie, err := r.Cookie(LegacyTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, sourceCookie
	}
	return "", ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
