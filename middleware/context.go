package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/auth"
	"github.com/upb/guardrails-control-plane/backend/internal/shared"
)

// Context key type to avoid collisions
type contextKey string

const (
	// PrincipalKey is the context key for the authenticated principal
	PrincipalKey contextKey = "principal"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	return shared.RequestID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return shared.WithRequestID(ctx, requestID)
}

// GetPrincipalFromContext retrieves the authenticated principal from context
func GetPrincipalFromContext(ctx context.Context) *auth.Principal {
	if val := ctx.Value(PrincipalKey); val != nil {
		if p, ok := val.(*auth.Principal); ok {
			return p
		}
	}
	return nil
}

// WithPrincipal adds the principal to the context. The principal's subject
// becomes the actor recorded on audit entries.
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, p)
	return shared.WithActor(ctx, p.Subject)
}

// GetTenantIDFromContext retrieves the principal's home tenant from context
func GetTenantIDFromContext(ctx context.Context) uuid.UUID {
	if p := GetPrincipalFromContext(ctx); p != nil {
		return p.TenantID
	}
	return uuid.Nil
}

// GetAppIDFromContext retrieves the app bound to the principal, if any
func GetAppIDFromContext(ctx context.Context) *uuid.UUID {
	if p := GetPrincipalFromContext(ctx); p != nil {
		return p.AppID
	}
	return nil
}
