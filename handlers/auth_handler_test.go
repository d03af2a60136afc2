package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/auth"
	"github.com/upb/guardrails-control-plane/backend/models"
	"go.uber.org/zap"
)

type staticAuthDeps struct {
	handler *auth.Handler
}

func (d staticAuthDeps) AuthHandler() *auth.Handler { return d.handler }

type keyedApps map[string]*models.App

func (k keyedApps) AuthenticateApp(_ context.Context, apiKey string) (*models.App, error) {
	if app, ok := k[apiKey]; ok {
		return app, nil
	}
	return nil, assert.AnError
}

func TestAuthTokenHandler(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		w := httptest.NewRecorder()
		AuthTokenHandler(staticAuthDeps{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("delegates to the auth handler", func(t *testing.T) {
		issuer, err := auth.NewIssuer(auth.Config{
			Secret:   "0123456789abcdef0123456789abcdef",
			Issuer:   "guardrails",
			Audience: "guardrails-api",
			TTL:      time.Minute,
		})
		require.NoError(t, err)

		app := models.NewApp(uuid.New(), "billing", 100, "hash", "sk_abcde")
		deps := staticAuthDeps{handler: auth.NewHandler(issuer, keyedApps{"sk_secret": app}, zap.NewNop())}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
		req.Header.Set(auth.APIKeyHeader, "sk_secret")
		w := httptest.NewRecorder()
		AuthTokenHandler(deps).ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data auth.TokenResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.NotEmpty(t, body.Data.Token)
		assert.Equal(t, app.ID, body.Data.AppID)
	})
}
