package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// Resolver computes the effective rule set of a policy
type Resolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, appID *uuid.UUID, policyID uuid.UUID) (*models.Resolution, error)
	Replay(ctx context.Context, tenantID, policyID uuid.UUID, version int64) (*models.Resolution, error)
}

// ResolutionResponse is a resolution plus the strictest decision across it
type ResolutionResponse struct {
	*models.Resolution
	StrictestDecision models.Decision `json:"strictest_decision"`
}

// ResolutionHandler handles live resolution and replay requests
type ResolutionHandler struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewResolutionHandler creates a new ResolutionHandler
func NewResolutionHandler(resolver Resolver, logger *zap.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolver: resolver,
		logger:   logger,
	}
}

// HandleResolve handles GET /api/v1/tenants/{tenantID}/policies/{policyID}/resolve.
// The app the request is metered against scopes the resolution.
func (h *ResolutionHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	appID := middleware.GetMeteredAppIDFromContext(ctx)

	res, err := h.resolver.Resolve(ctx, tenantID, appID, policyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("policy resolved",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("policy_id", policyID.String()),
		zap.Int64("version", res.PolicyVersion),
		zap.Int("rules", len(res.Rules)))

	setETag(w, res.PolicyVersion)
	_ = utils.WriteOK(w, ResolutionResponse{Resolution: res, StrictestDecision: res.StrictestDecision()})
}

// HandleReplay handles GET /api/v1/tenants/{tenantID}/policies/{policyID}/versions/{version}/resolve.
// Version 0 replays the latest recorded version.
func (h *ResolutionHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	version, err := strconv.ParseInt(chi.URLParam(r, ParamVersion), 10, 64)
	if err != nil || version < 0 {
		HandleServiceError(w, services.NewValidationError("version", "version must be a non-negative integer"), h.logger)
		return
	}

	res, err := h.resolver.Replay(r.Context(), tenantID, policyID, version)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ResolutionResponse{Resolution: res, StrictestDecision: res.StrictestDecision()})
}
