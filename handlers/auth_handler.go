package handlers

import (
	"net/http"

	"github.com/upb/guardrails-control-plane/backend/auth"
	"github.com/upb/guardrails-control-plane/backend/utils"
)

// AuthDeps provides the token exchange handler for route wiring
type AuthDeps interface {
	AuthHandler() *auth.Handler
}

// AuthTokenHandler returns an http.HandlerFunc for the API key to bearer
// token exchange. It answers 503 when token issuing is not configured.
func AuthTokenHandler(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := deps.AuthHandler(); h != nil {
			h.HandleToken(w, r)
			return
		}
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse{
			Error:   "unavailable",
			Message: "Token issuing not configured",
		})
	}
}
