package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/services/tenant"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// TenantService defines the tenant and app operations used by TenantHandler
type TenantService interface {
	CreateTenant(ctx context.Context, name, actor string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	DeleteTenant(ctx context.Context, id uuid.UUID, expectedVersion int64, actor string) (*models.Tenant, error)
	CreateApp(ctx context.Context, tenantID uuid.UUID, name string, quotaPerHr int64, actor string) (*models.App, string, error)
	ListApps(ctx context.Context, tenantID uuid.UUID) ([]*models.App, error)
	UpdateApp(ctx context.Context, tenantID, appID uuid.UUID, patch tenant.AppPatch, expectedVersion int64, actor string) (*models.App, error)
	RotateAppKey(ctx context.Context, tenantID, appID uuid.UUID, expectedVersion int64, actor string) (*models.App, string, error)
	RevokeApp(ctx context.Context, tenantID, appID uuid.UUID, expectedVersion int64, actor string) (*models.App, error)
}

// CreateTenantRequest represents a request to create a tenant
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// CreateAppRequest represents a request to register an app
type CreateAppRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	QuotaPerHr int64  `json:"quota_per_hr" validate:"gt=0"`
}

// UpdateAppRequest represents a request to change an app
type UpdateAppRequest struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	QuotaPerHr      *int64  `json:"quota_per_hr,omitempty" validate:"omitempty,gt=0"`
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
}

// AppVersionRequest carries the optional expected version of key rotation
// and revocation
type AppVersionRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// AppWithKeyResponse is returned when an API key is issued. The key is
// never shown again.
type AppWithKeyResponse struct {
	*models.App
	APIKey string `json:"api_key"`
}

// TenantHandler handles tenant and app HTTP requests
type TenantHandler struct {
	tenants TenantService
	logger  *zap.Logger
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(tenants TenantService, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{
		tenants: tenants,
		logger:  logger,
	}
}

// HandleCreateTenant handles POST /api/v1/tenants
func (h *TenantHandler) HandleCreateTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	t, err := h.tenants.CreateTenant(ctx, req.Name, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("tenant created",
		zap.String("request_id", requestID),
		zap.String("tenant_id", t.ID.String()))

	setETag(w, t.Version)
	_ = utils.WriteCreated(w, t)
}

// HandleListTenants handles GET /api/v1/tenants. Platform admins see every
// tenant, everyone else sees only their own.
func (h *TenantHandler) HandleListTenants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.GetPrincipalFromContext(ctx)
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	if !principal.IsPlatformAdmin() {
		t, err := h.tenants.GetTenant(ctx, principal.TenantID)
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		_ = utils.WriteOK(w, []*models.Tenant{t})
		return
	}

	tenants, err := h.tenants.ListTenants(ctx)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, tenants)
}

// HandleGetTenant handles GET /api/v1/tenants/{tenantID}
func (h *TenantHandler) HandleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	t, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, t.Version)
	_ = utils.WriteOK(w, t)
}

// HandleDeleteTenant handles DELETE /api/v1/tenants/{tenantID}
func (h *TenantHandler) HandleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	expected, err := expectedVersion(r, nil)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	t, err := h.tenants.DeleteTenant(ctx, tenantID, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("tenant deleted",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("tenant_id", tenantID.String()),
		zap.Int64("version", t.Version))

	_ = utils.WriteOK(w, t)
}

// HandleCreateApp handles POST /api/v1/tenants/{tenantID}/apps
func (h *TenantHandler) HandleCreateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req CreateAppRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	app, key, err := h.tenants.CreateApp(ctx, tenantID, req.Name, req.QuotaPerHr, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("app created",
		zap.String("request_id", requestID),
		zap.String("tenant_id", tenantID.String()),
		zap.String("app_id", app.ID.String()))

	setETag(w, app.Version)
	_ = utils.WriteCreated(w, AppWithKeyResponse{App: app, APIKey: key})
}

// HandleListApps handles GET /api/v1/tenants/{tenantID}/apps
func (h *TenantHandler) HandleListApps(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	apps, err := h.tenants.ListApps(r.Context(), tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, apps)
}

// HandleUpdateApp handles PATCH /api/v1/tenants/{tenantID}/apps/{appID}
func (h *TenantHandler) HandleUpdateApp(w http.ResponseWriter, r *http.Request) {
	tenantID, appID, err := tenantAndID(r, ParamAppID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req UpdateAppRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	app, err := h.tenants.UpdateApp(r.Context(), tenantID, appID, tenant.AppPatch{
		Name:       req.Name,
		QuotaPerHr: req.QuotaPerHr,
	}, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, app.Version)
	_ = utils.WriteOK(w, app)
}

// HandleRotateAppKey handles POST /api/v1/tenants/{tenantID}/apps/{appID}/rotate
func (h *TenantHandler) HandleRotateAppKey(w http.ResponseWriter, r *http.Request) {
	tenantID, appID, expected, ok := h.appVersionRequest(w, r)
	if !ok {
		return
	}

	app, key, err := h.tenants.RotateAppKey(r.Context(), tenantID, appID, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("app key rotated",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("app_id", appID.String()),
		zap.String("key_prefix", app.KeyPrefix))

	setETag(w, app.Version)
	_ = utils.WriteOK(w, AppWithKeyResponse{App: app, APIKey: key})
}

// HandleRevokeApp handles POST /api/v1/tenants/{tenantID}/apps/{appID}/revoke
func (h *TenantHandler) HandleRevokeApp(w http.ResponseWriter, r *http.Request) {
	tenantID, appID, expected, ok := h.appVersionRequest(w, r)
	if !ok {
		return
	}

	app, err := h.tenants.RevokeApp(r.Context(), tenantID, appID, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("app revoked",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("app_id", appID.String()))

	setETag(w, app.Version)
	_ = utils.WriteOK(w, app)
}

// appVersionRequest parses the ids and the optional body of rotate and
// revoke, writing the error response itself when ok is false
func (h *TenantHandler) appVersionRequest(w http.ResponseWriter, r *http.Request) (tenantID, appID uuid.UUID, expected int64, ok bool) {
	tenantID, appID, err := tenantAndID(r, ParamAppID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req AppVersionRequest
	if err := decodeJSON(r, &req); err != nil && err != errEmptyBody {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	expected, err = expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	return tenantID, appID, expected, true
}
