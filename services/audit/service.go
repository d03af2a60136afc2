package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"github.com/upb/guardrails-control-plane/backend/internal/shared"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"go.uber.org/zap"
)

const (
	// DefaultListLimit is used when a query does not set a limit
	DefaultListLimit = 100
	// MaxListLimit is the largest page a query may request
	MaxListLimit = 500
)

// Service is the append-only audit ledger. Entries are written
// synchronously inside the transaction of the mutation they describe, so
// a rolled back mutation leaves no entry behind.
type Service struct {
	auditRepo repositories.AuditRepository
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewService creates a new audit Service. metrics may be nil.
func NewService(auditRepo repositories.AuditRepository, logger *zap.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		auditRepo: auditRepo,
		logger:    logger,
		metrics:   metrics,
	}
}

// Record appends entry. Call it with the context of the transaction that
// commits the mutation. Actor and request id default to the ones carried
// by ctx. A second entry for the same (entity id, version) is a conflict.
func (s *Service) Record(ctx context.Context, entry *models.AuditLog) error {
	if entry.EntityID == uuid.Nil || entry.EntityVersion < 1 {
		return services.NewValidationError("entity_version", "audit entry must name an entity version")
	}
	if entry.Actor == "" {
		entry.Actor = shared.Actor(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = shared.RequestID(ctx)
	}

	if err := s.auditRepo.Insert(ctx, entry); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return services.NewConflictError(entry.EntityType, entry.EntityID, "audit entry already recorded for this version").
				WithDetail("entity_version", entry.EntityVersion)
		}
		return services.WrapInternal("failed to append audit entry", err)
	}
	return nil
}

// Committed reports entries whose transaction has committed
func (s *Service) Committed(entries ...*models.AuditLog) {
	for _, entry := range entries {
		s.metrics.RecordMutation(string(entry.Action))
		s.logger.Info("audited mutation",
			zap.String("event_type", string(entry.Action)),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID.String()),
			zap.Int64("entity_version", entry.EntityVersion),
			zap.String("actor", entry.Actor),
			zap.String("request_id", entry.RequestID))
	}
}

// List returns the entries matching filter, newest first. A zero limit
// means DefaultListLimit.
func (s *Service) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	if filter.Limit == 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit < 1 || filter.Limit > MaxListLimit {
		return nil, services.NewValidationError("limit", fmt.Sprintf("limit must be between 1 and %d", MaxListLimit))
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Since.After(filter.Until) {
		return nil, services.NewValidationError("since", "since must not be after until")
	}

	logs, err := s.auditRepo.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list audit entries", err)
	}
	return logs, nil
}

// EntityHistory returns every entry of one entity ascending by version
func (s *Service) EntityHistory(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error) {
	logs, err := s.auditRepo.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, services.WrapInternal("failed to load entity history", err)
	}
	return logs, nil
}
