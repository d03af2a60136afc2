package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/services/quota"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// QuotaConsumer admits requests against an app's hourly quota
type QuotaConsumer interface {
	Consume(ctx context.Context, tenantID, appID uuid.UUID) (*quota.Result, error)
}

const appIDKey contextKey = "app_id"

// AppIDQueryParam names the app a request is made for when the token is
// not bound to one
const AppIDQueryParam = "app_id"

// QuotaMiddleware gates requests made on behalf of an app
type QuotaMiddleware struct {
	quota  QuotaConsumer
	logger *zap.Logger
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(quota QuotaConsumer, logger *zap.Logger) *QuotaMiddleware {
	return &QuotaMiddleware{
		quota:  quota,
		logger: logger,
	}
}

// EnforceQuota consumes one unit of the quota of the app the request is made
// for: the app bound to the token, else the app_id query parameter.
// Requests for no app pass unmetered. Must run after RequireAuth.
func (m *QuotaMiddleware) EnforceQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		appID := GetAppIDFromContext(ctx)
		if raw := r.URL.Query().Get(AppIDQueryParam); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				_ = utils.WriteBadRequest(w, "Invalid app_id", nil)
				return
			}
			if appID != nil && *appID != parsed {
				_ = utils.WriteForbidden(w, "Token is bound to another app")
				return
			}
			appID = &parsed
		}
		if appID == nil {
			next.ServeHTTP(w, r)
			return
		}

		tenantID, err := uuid.Parse(chi.URLParam(r, TenantParam))
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid tenant ID", nil)
			return
		}

		result, err := m.quota.Consume(ctx, tenantID, *appID)
		if err != nil {
			m.writeError(w, requestID, err)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", result.ResetAt.Format(time.RFC3339))

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, appIDKey, *appID)))
	})
}

func (m *QuotaMiddleware) writeError(w http.ResponseWriter, requestID string, err error) {
	details := services.GetErrorDetails(err)
	switch {
	case services.IsRateLimitError(err):
		if reset, ok := details["reset_at"].(string); ok {
			if at, perr := time.Parse(time.RFC3339, reset); perr == nil {
				secs := int(time.Until(at).Seconds()) + 1
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
		_ = utils.WriteTooManyRequests(w, err.Error(), details)
	case services.IsForbiddenError(err):
		_ = utils.WriteForbidden(w, err.Error())
	case services.IsNotFoundError(err):
		_ = utils.WriteNotFound(w, err.Error())
	default:
		m.logger.Error("failed to check app quota",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to check app quota")
	}
}

// GetMeteredAppIDFromContext returns the app whose quota admitted the
// request, or nil
func GetMeteredAppIDFromContext(ctx context.Context) *uuid.UUID {
	if id, ok := ctx.Value(appIDKey).(uuid.UUID); ok {
		return &id
	}
	return nil
}
