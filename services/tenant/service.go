package tenant

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/services/audit"
	"go.uber.org/zap"
)

const (
	apiKeyPrefix   = "sk_"
	apiKeyBytes    = 32
	keyPrefixChars = 8
)

// AppPatch carries the mutable fields of an app. Nil fields are unchanged.
type AppPatch struct {
	Name       *string
	QuotaPerHr *int64
}

// Service manages tenants and their apps
type Service struct {
	repos   *repositories.Repositories
	txMgr   repositories.TransactionManager
	audit   *audit.Service
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewService creates a new tenant Service
func NewService(repos *repositories.Repositories, txMgr repositories.TransactionManager, auditSvc *audit.Service, logger *zap.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		repos:   repos,
		txMgr:   txMgr,
		audit:   auditSvc,
		logger:  logger,
		metrics: metrics,
	}
}

// CreateTenant registers a new tenant. Names are unique among live tenants.
func (s *Service) CreateTenant(ctx context.Context, name, actor string) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, services.NewValidationError("name", "tenant name is required")
	}

	tenant := models.NewTenant(name)
	entry := models.NewAuditLog(models.AuditActionTenantCreated, models.EntityTenant, tenant.ID, tenant.Version).
		WithTenant(tenant.ID).
		WithActor(actor).
		WithAfter(tenant)

	err := services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		if err := s.repos.Tenants.Create(ctx, tenant); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return services.NewValidationError("name", fmt.Sprintf("tenant %q already exists", name))
			}
			return services.WrapInternal("failed to create tenant", err)
		}
		return s.audit.Record(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Committed(entry)
	return tenant, nil
}

// ListTenants returns live tenants ordered by creation time
func (s *Service) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	tenants, err := s.repos.Tenants.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list tenants", err)
	}
	return tenants, nil
}

// GetTenant returns a live tenant
func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, err := s.repos.Tenants.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityTenant, id)
	}
	if tenant.IsDeleted() {
		return nil, services.NewNotFoundError(models.EntityTenant, id)
	}
	return tenant, nil
}

// DeleteTenant places a tombstone on the tenant. Its apps, rules and
// policies stay readable through history and audit.
func (s *Service) DeleteTenant(ctx context.Context, id uuid.UUID, expectedVersion int64, actor string) (*models.Tenant, error) {
	var entry *models.AuditLog
	tenant, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Tenant, error) {
		cur, err := s.GetTenant(ctx, id)
		if err != nil {
			return nil, err
		}
		expected, err := services.CheckVersion(models.EntityTenant, id, expectedVersion, cur.Version)
		if err != nil {
			return nil, err
		}

		next := cur.Clone()
		now := time.Now().UTC()
		next.DeletedAt = &now
		next.UpdatedAt = now
		next.Version = expected + 1

		if err := s.repos.Tenants.Update(ctx, next, expected); err != nil {
			return nil, services.WriteError(err, models.EntityTenant, id, expected)
		}
		entry = models.NewAuditLog(models.AuditActionTenantDeleted, models.EntityTenant, id, next.Version).
			WithTenant(id).
			WithActor(actor).
			WithBefore(cur).
			WithAfter(next)
		return next, s.audit.Record(ctx, entry)
	})
	if err != nil {
		s.observeFailure(models.EntityTenant, err)
		return nil, err
	}

	s.audit.Committed(entry)
	return tenant, nil
}

// CreateApp registers an app under a live tenant and returns it together
// with its API key. The key is only ever returned here and by RotateAppKey.
func (s *Service) CreateApp(ctx context.Context, tenantID uuid.UUID, name string, quotaPerHr int64, actor string) (*models.App, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", services.NewValidationError("name", "app name is required")
	}
	if quotaPerHr <= 0 {
		return nil, "", services.NewValidationError("quota_per_hr", "quota per hour must be positive")
	}
	key, hash, prefix, err := generateAPIKey()
	if err != nil {
		return nil, "", services.WrapInternal("failed to generate api key", err)
	}

	app := models.NewApp(tenantID, name, quotaPerHr, hash, prefix)
	entry := models.NewAuditLog(models.AuditActionAppCreated, models.EntityApp, app.ID, app.Version).
		WithTenant(tenantID).
		WithActor(actor).
		WithAfter(app)

	err = services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		if _, err := s.GetTenant(ctx, tenantID); err != nil {
			return err
		}
		if err := s.repos.Apps.Create(ctx, app); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return services.NewValidationError("name", fmt.Sprintf("app %q already exists in tenant", name))
			}
			return services.WrapInternal("failed to create app", err)
		}
		return s.audit.Record(ctx, entry)
	})
	if err != nil {
		return nil, "", err
	}

	s.audit.Committed(entry)
	return app, key, nil
}

// ListApps returns the apps of a live tenant ordered by creation time
func (s *Service) ListApps(ctx context.Context, tenantID uuid.UUID) ([]*models.App, error) {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	apps, err := s.repos.Apps.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list apps", err)
	}
	return apps, nil
}

// GetApp returns an app owned by tenantID
func (s *Service) GetApp(ctx context.Context, tenantID, appID uuid.UUID) (*models.App, error) {
	app, err := s.repos.Apps.GetByID(ctx, appID)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityApp, appID)
	}
	if app.TenantID != tenantID {
		return nil, services.NewNotFoundError(models.EntityApp, appID)
	}
	return app, nil
}

// UpdateApp renames an app or changes its hourly quota
func (s *Service) UpdateApp(ctx context.Context, tenantID, appID uuid.UUID, patch AppPatch, expectedVersion int64, actor string) (*models.App, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, services.NewValidationError("name", "app name must not be empty")
	}
	if patch.QuotaPerHr != nil && *patch.QuotaPerHr <= 0 {
		return nil, services.NewValidationError("quota_per_hr", "quota per hour must be positive")
	}

	app, _, err := s.mutateApp(ctx, tenantID, appID, expectedVersion, actor, models.AuditActionAppUpdated, func(next *models.App) error {
		if patch.Name != nil {
			next.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.QuotaPerHr != nil {
			next.QuotaPerHr = *patch.QuotaPerHr
		}
		return nil
	})
	return app, err
}

// RotateAppKey replaces the app's API key and returns the new one
func (s *Service) RotateAppKey(ctx context.Context, tenantID, appID uuid.UUID, expectedVersion int64, actor string) (*models.App, string, error) {
	return s.mutateApp(ctx, tenantID, appID, expectedVersion, actor, models.AuditActionAppKeyRotated, func(next *models.App) error {
		if next.Revoked {
			return services.NewValidationError("revoked", "cannot rotate the key of a revoked app")
		}
		return nil
	})
}

// RevokeApp marks the app revoked. Revoking a revoked app changes nothing.
func (s *Service) RevokeApp(ctx context.Context, tenantID, appID uuid.UUID, expectedVersion int64, actor string) (*models.App, error) {
	cur, err := s.GetApp(ctx, tenantID, appID)
	if err != nil {
		return nil, err
	}
	if cur.Revoked {
		return cur, nil
	}
	app, _, err := s.mutateApp(ctx, tenantID, appID, expectedVersion, actor, models.AuditActionAppRevoked, func(next *models.App) error {
		next.Revoked = true
		return nil
	})
	return app, err
}

// AuthenticateApp resolves a plaintext API key to its live app
func (s *Service) AuthenticateApp(ctx context.Context, apiKey string) (*models.App, error) {
	if !strings.HasPrefix(apiKey, apiKeyPrefix) {
		return nil, services.ErrInvalidToken
	}
	app, err := s.repos.Apps.GetByAPIKeyHash(ctx, hashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidToken
		}
		return nil, services.WrapInternal("failed to look up app", err)
	}
	if app.Revoked {
		return nil, services.NewDomainError(services.ErrorTypeForbidden, "app has been revoked", nil).
			WithEntity(models.EntityApp, app.ID)
	}
	if _, err := s.GetTenant(ctx, app.TenantID); err != nil {
		return nil, services.ErrInvalidToken
	}
	return app, nil
}

// mutateApp applies change to the app inside a transaction, bumps its
// version and records action. A rotated key is returned when
// action is key rotation.
func (s *Service) mutateApp(ctx context.Context, tenantID, appID uuid.UUID, expectedVersion int64, actor string, action models.AuditAction, change func(next *models.App) error) (*models.App, string, error) {
	var (
		entry *models.AuditLog
		key   string
	)
	app, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.App, error) {
		if _, err := s.GetTenant(ctx, tenantID); err != nil {
			return nil, err
		}
		cur, err := s.GetApp(ctx, tenantID, appID)
		if err != nil {
			return nil, err
		}
		expected, err := services.CheckVersion(models.EntityApp, appID, expectedVersion, cur.Version)
		if err != nil {
			return nil, err
		}

		next := cur.Clone()
		if err := change(next); err != nil {
			return nil, err
		}
		if action == models.AuditActionAppKeyRotated {
			var hash, prefix string
			if key, hash, prefix, err = generateAPIKey(); err != nil {
				return nil, services.WrapInternal("failed to generate api key", err)
			}
			next.APIKeyHash, next.KeyPrefix = hash, prefix
		}
		next.Version = expected + 1
		next.UpdatedAt = time.Now().UTC()

		if err := s.repos.Apps.Update(ctx, next, expected); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return nil, services.NewValidationError("name", fmt.Sprintf("app %q already exists in tenant", next.Name))
			}
			return nil, services.WriteError(err, models.EntityApp, appID, expected)
		}
		entry = models.NewAuditLog(action, models.EntityApp, appID, next.Version).
			WithTenant(tenantID).
			WithActor(actor).
			WithBefore(cur).
			WithAfter(next)
		return next, s.audit.Record(ctx, entry)
	})
	if err != nil {
		s.observeFailure(models.EntityApp, err)
		return nil, "", err
	}

	s.audit.Committed(entry)
	return app, key, nil
}

func (s *Service) observeFailure(entityType string, err error) {
	if services.IsConflictError(err) {
		s.metrics.RecordConflict(entityType)
		s.logger.Debug("version conflict", zap.String("entity_type", entityType), zap.Error(err))
	}
}

// generateAPIKey returns a fresh key, its SHA-256 hash and display prefix
func generateAPIKey() (key, hash, prefix string, err error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	key = apiKeyPrefix + hex.EncodeToString(b)
	return key, hashAPIKey(key), key[:keyPrefixChars], nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
