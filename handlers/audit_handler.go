package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// AuditService defines the audit ledger queries
type AuditService interface {
	List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error)
	EntityHistory(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error)
}

// AuditHandler handles audit ledger HTTP requests
type AuditHandler struct {
	audit  AuditService
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// HandleListAudit handles GET /api/v1/audit. Tenant admins only see their
// own tenant; asking for another one is forbidden.
func (h *AuditHandler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipalFromContext(ctx)
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	filter, err := auditFilter(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if !principal.IsPlatformAdmin() {
		if filter.TenantID != nil && *filter.TenantID != principal.TenantID {
			_ = utils.WriteForbidden(w, "Access to this tenant is not allowed")
			return
		}
		own := principal.TenantID
		filter.TenantID = &own
	}

	entries, err := h.audit.List(ctx, filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed audit entries",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.Int("count", len(entries)))

	_ = utils.WriteOK(w, entries)
}

// HandleEntityHistory handles GET /api/v1/audit/entities/{entityID}. The
// entries come back ascending by version. Tenant admins only get the
// entries recorded against their own tenant.
func (h *AuditHandler) HandleEntityHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipalFromContext(ctx)
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	entityID, err := uuidParam(r, ParamEntityID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	entries, err := h.audit.EntityHistory(ctx, entityID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if !principal.IsPlatformAdmin() {
		visible := make([]*models.AuditLog, 0, len(entries))
		for _, e := range entries {
			if e.TenantID != nil && *e.TenantID == principal.TenantID {
				visible = append(visible, e)
			}
		}
		entries = visible
	}

	_ = utils.WriteOK(w, entries)
}

// auditFilter reads limit, event, tenant_id, entity_id, since and until
func auditFilter(r *http.Request) (repositories.AuditFilter, error) {
	var filter repositories.AuditFilter
	var err error

	if filter.Limit, err = queryInt(r, "limit", 0); err != nil {
		return filter, err
	}
	// An explicit zero is out of range, unlike an absent limit
	if r.URL.Query().Has("limit") && filter.Limit == 0 {
		return filter, services.NewValidationError("limit", "limit must be between 1 and 500")
	}
	if filter.TenantID, err = queryUUID(r, "tenant_id"); err != nil {
		return filter, err
	}
	if filter.EntityID, err = queryUUID(r, "entity_id"); err != nil {
		return filter, err
	}
	filter.EventType = r.URL.Query().Get("event")
	if filter.Since, err = queryTime(r, "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = queryTime(r, "until"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, services.NewValidationError(name, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}
