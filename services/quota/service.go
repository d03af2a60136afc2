package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"go.uber.org/zap"
)

// Window is the length of a quota window. Windows are aligned to the clock.
const Window = time.Hour

// Rejection reasons reported to metrics
const (
	ReasonRevoked       = "revoked"
	ReasonQuotaExceeded = "quota_exceeded"
)

// Counter counts events per key within a window
type Counter interface {
	// Incr adds one to key and returns the new count. A new key expires
	// after ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Result represents the outcome of an admitted request
type Result struct {
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// QuotaService enforces the hourly request quota of apps
type QuotaService struct {
	apps    repositories.AppRepository
	counter Counter
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewQuotaService creates a new QuotaService instance
func NewQuotaService(apps repositories.AppRepository, counter Counter, logger *zap.Logger, metrics *observability.Metrics) *QuotaService {
	return &QuotaService{
		apps:    apps,
		counter: counter,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Consume admits one request of appID against its hourly quota.
// Revoked apps are forbidden; requests beyond the quota are rate limited.
func (s *QuotaService) Consume(ctx context.Context, tenantID, appID uuid.UUID) (*Result, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityApp, appID)
	}
	if app.TenantID != tenantID {
		return nil, services.NewNotFoundError(models.EntityApp, appID)
	}
	if app.Revoked {
		s.metrics.RecordQuotaRejection(ReasonRevoked)
		return nil, services.NewDomainError(services.ErrorTypeForbidden, "app has been revoked", services.ErrAppRevoked).
			WithEntity(models.EntityApp, appID)
	}

	start, resetAt := windowBounds(s.now())
	count, err := s.counter.Incr(ctx, buildScopeKey(tenantID, appID, start), Window)
	if err != nil {
		return nil, services.WrapInternal("failed to count app request", err)
	}

	if count > app.QuotaPerHr {
		s.metrics.RecordQuotaRejection(ReasonQuotaExceeded)
		s.logger.Info("app quota exceeded",
			zap.String("tenant_id", tenantID.String()),
			zap.String("app_id", appID.String()),
			zap.Int64("quota_per_hr", app.QuotaPerHr),
		)
		return nil, services.NewDomainError(services.ErrorTypeRateLimit,
			fmt.Sprintf("exceeded %d requests per hour", app.QuotaPerHr), services.ErrQuotaExceeded).
			WithEntity(models.EntityApp, appID).
			WithDetail("limit", app.QuotaPerHr).
			WithDetail("reset_at", resetAt.Format(time.RFC3339))
	}

	return &Result{
		Limit:     app.QuotaPerHr,
		Remaining: app.QuotaPerHr - count,
		ResetAt:   resetAt,
	}, nil
}

// windowBounds returns the start of the window containing now and the
// moment it resets
func windowBounds(now time.Time) (start, reset time.Time) {
	start = now.UTC().Truncate(Window)
	return start, start.Add(Window)
}

// buildScopeKey builds a unique key for one app and window
func buildScopeKey(tenantID, appID uuid.UUID, windowStart time.Time) string {
	return fmt.Sprintf("quota:tenant:%s:app:%s:%d", tenantID, appID, windowStart.Unix())
}
