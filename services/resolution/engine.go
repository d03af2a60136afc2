package resolution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"go.uber.org/zap"
)

// Engine resolves policies into concrete rule sets. It only reads.
type Engine struct {
	repos   *repositories.Repositories
	loader  Loader
	cache   SnapshotCache
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewEngine creates a resolution Engine. cache may be nil.
func NewEngine(repos *repositories.Repositories, cache SnapshotCache, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		repos:   repos,
		loader:  NewLoader(repos),
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve computes the live rule set of a policy from the latest committed
// templates and tenant rules. Archived policies are not resolvable live;
// use Replay for them.
func (e *Engine) Resolve(ctx context.Context, tenantID uuid.UUID, appID *uuid.UUID, policyID uuid.UUID) (*models.Resolution, error) {
	start := time.Now()
	res, err := e.resolve(ctx, tenantID, appID, policyID)
	if err != nil {
		e.metrics.RecordResolution(observability.ModeLive, outcome(err), time.Since(start), 0)
		if services.IsIntegrityError(err) {
			e.logger.Error("policy failed integrity check during resolution",
				zap.String("tenant_id", tenantID.String()),
				zap.String("policy_id", policyID.String()),
				zap.Any("details", services.GetErrorDetails(err)),
			)
		}
		return nil, err
	}
	e.metrics.RecordResolution(observability.ModeLive, "success", time.Since(start), len(res.Rules))
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, tenantID uuid.UUID, appID *uuid.UUID, policyID uuid.UUID) (*models.Resolution, error) {
	policy, err := e.repos.Policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityPolicy, policyID)
	}
	if policy.TenantID != tenantID || policy.IsArchived() {
		return nil, services.NewNotFoundError(models.EntityPolicy, policyID)
	}
	if appID != nil && policy.AppID != nil && *appID != *policy.AppID {
		return nil, services.NewValidationError("app_id", "policy is scoped to another app").
			WithEntity(models.EntityPolicy, policyID)
	}

	rules, err := Materialize(ctx, e.loader, policy)
	if err != nil {
		return nil, err
	}
	return &models.Resolution{
		TenantID:      policy.TenantID,
		PolicyID:      policy.ID,
		PolicyVersion: policy.Version,
		Status:        policy.Status,
		Rules:         rules,
		ResolvedAt:    time.Now().UTC(),
	}, nil
}

// Replay returns the rule set captured in the policy history at version,
// or at the latest version when version is 0. Archived policies replay.
func (e *Engine) Replay(ctx context.Context, tenantID, policyID uuid.UUID, version int64) (*models.Resolution, error) {
	start := time.Now()
	res, err := e.replay(ctx, tenantID, policyID, version)
	if err != nil {
		e.metrics.RecordResolution(observability.ModeReplay, outcome(err), time.Since(start), 0)
		return nil, err
	}
	e.metrics.RecordResolution(observability.ModeReplay, "success", time.Since(start), len(res.Rules))
	return res, nil
}

func (e *Engine) replay(ctx context.Context, tenantID, policyID uuid.UUID, version int64) (*models.Resolution, error) {
	if version < 0 {
		return nil, services.NewValidationError("version", "version must not be negative")
	}

	if version > 0 && e.cache != nil {
		res, hit := e.cache.Get(ctx, SnapshotKey{PolicyID: policyID, Version: version})
		e.metrics.RecordCacheLookup(hit)
		if hit {
			if res.TenantID != tenantID {
				return nil, services.NewNotFoundError(models.EntityPolicy, policyID)
			}
			return res, nil
		}
	}

	var (
		entry *models.PolicyHistoryEntry
		err   error
	)
	if version == 0 {
		entry, err = e.repos.PolicyHistory.GetLatest(ctx, policyID)
	} else {
		entry, err = e.repos.PolicyHistory.GetVersion(ctx, policyID, version)
	}
	if err != nil {
		if version > 0 && errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "policy version not found", services.ErrPolicyVersionNotFound).
				WithEntity(models.EntityPolicy, policyID).
				WithDetail("version", version)
		}
		return nil, services.FromRepositoryError(err, models.EntityPolicy, policyID)
	}
	if entry.TenantID != tenantID {
		return nil, services.NewNotFoundError(models.EntityPolicy, policyID)
	}

	res := &models.Resolution{
		TenantID:      entry.TenantID,
		PolicyID:      entry.PolicyID,
		PolicyVersion: entry.Version,
		Status:        entry.Status,
		Rules:         entry.Resolved,
		ResolvedAt:    entry.CreatedAt,
		Replay:        true,
	}
	if e.cache != nil {
		e.cache.Set(ctx, SnapshotKey{PolicyID: entry.PolicyID, Version: entry.Version}, res)
	}
	return res, nil
}

func outcome(err error) string {
	if t := services.GetErrorType(err); t != "" {
		return string(t)
	}
	return string(services.ErrorTypeInternal)
}
