package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// APIKeyHeader carries an app API key on the token exchange
const APIKeyHeader = "X-API-Key"

// AppAuthenticator resolves a plaintext app API key to its app
type AppAuthenticator interface {
	AuthenticateApp(ctx context.Context, apiKey string) (*models.App, error)
}

// TokenResponse is returned by the token exchange
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	TenantID  uuid.UUID `json:"tenant_id"`
	AppID     uuid.UUID `json:"app_id"`
	Role      Role      `json:"role"`
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

// Handler exchanges app API keys for short-lived app-scoped bearer tokens
type Handler struct {
	issuer *Issuer
	apps   AppAuthenticator
	logger *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(issuer *Issuer, apps AppAuthenticator, logger *zap.Logger) *Handler {
	return &Handler{
		issuer: issuer,
		apps:   apps,
		logger: logger,
	}
}

// HandleToken authenticates the API key from the X-API-Key header or the
// JSON body and returns a tenant_viewer token bound to the app
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if apiKey == "" && r.Body != nil {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			apiKey = strings.TrimSpace(req.APIKey)
		}
	}
	if apiKey == "" {
		_ = utils.WriteUnauthorized(w, "Missing API key")
		return
	}

	app, err := h.apps.AuthenticateApp(r.Context(), apiKey)
	if err != nil {
		switch {
		case services.IsUnauthorizedError(err):
			_ = utils.WriteUnauthorized(w, "Invalid API key")
		case services.IsForbiddenError(err):
			_ = utils.WriteForbidden(w, err.Error())
		default:
			h.logger.Error("app authentication failed", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "An internal error occurred")
		}
		return
	}

	appID := app.ID
	token, expiresAt, err := h.issuer.Issue(TokenRequest{
		Subject:  "app:" + app.ID.String(),
		TenantID: app.TenantID,
		Role:     RoleTenantViewer,
		AppID:    &appID,
	})
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to issue token")
		return
	}

	h.logger.Info("issued app token",
		zap.String("tenant_id", app.TenantID.String()),
		zap.String("app_id", app.ID.String()),
		zap.Time("expires_at", expiresAt),
	)
	_ = utils.WriteOK(w, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		TenantID:  app.TenantID,
		AppID:     app.ID,
		Role:      RoleTenantViewer,
	})
}
