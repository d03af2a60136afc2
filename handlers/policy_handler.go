package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/services/policy"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// CreatePolicyRequest represents a request to create a policy
type CreatePolicyRequest struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Description string     `json:"description"`
	AppID       *uuid.UUID `json:"app_id,omitempty"`
}

// UpdatePolicyRequest represents a request to update a policy
type UpdatePolicyRequest struct {
	Name            *string              `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description     *string              `json:"description,omitempty"`
	Status          *models.PolicyStatus `json:"status,omitempty" validate:"omitempty,oneof=draft active"`
	AppID           *uuid.UUID           `json:"app_id,omitempty"`
	ClearApp        bool                 `json:"clear_app,omitempty"`
	ExpectedVersion *int64               `json:"expected_version,omitempty"`
}

// AttachRuleRequest represents a request to attach a rule to a policy
type AttachRuleRequest struct {
	Kind            models.RuleRefKind `json:"kind" validate:"required,rule_kind"`
	ID              uuid.UUID          `json:"id" validate:"required"`
	ExpectedVersion *int64             `json:"expected_version,omitempty"`
}

// AttachRuleResponse reports the policy after an attach and whether the
// call changed it
type AttachRuleResponse struct {
	Policy   *models.Policy `json:"policy"`
	Attached bool           `json:"attached"`
}

// PolicyService defines the interface for policy operations
type PolicyService interface {
	// CreatePolicy creates an empty draft policy
	CreatePolicy(ctx context.Context, tenantID uuid.UUID, name, description string, appID *uuid.UUID, actor string) (*models.Policy, error)

	// GetPolicy retrieves a policy of a tenant
	GetPolicy(ctx context.Context, tenantID, policyID uuid.UUID) (*models.Policy, error)

	// ListPolicies lists the policies of a tenant
	ListPolicies(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]*models.Policy, error)

	// UpdatePolicy changes the mutable fields of a policy
	UpdatePolicy(ctx context.Context, tenantID, policyID uuid.UUID, patch policy.PolicyPatch, expectedVersion int64, actor string) (*models.Policy, error)

	// DeletePolicy archives a policy
	DeletePolicy(ctx context.Context, tenantID, policyID uuid.UUID, expectedVersion int64, actor string) (*models.Policy, error)

	// AttachRule appends a rule reference, idempotently
	AttachRule(ctx context.Context, tenantID, policyID uuid.UUID, ref models.RuleRef, expectedVersion int64, actor string) (*models.Policy, bool, error)

	// DetachRule removes an attached rule reference
	DetachRule(ctx context.Context, tenantID, policyID uuid.UUID, ref models.RuleRef, expectedVersion int64, actor string) (*models.Policy, error)

	// ListPolicyHistory lists the tenant's history entries, newest first
	ListPolicyHistory(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.PolicyHistoryEntry, error)

	// GetPolicyHistory lists one policy's history ascending by version
	GetPolicyHistory(ctx context.Context, tenantID, policyID uuid.UUID) ([]*models.PolicyHistoryEntry, error)
}

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	policies PolicyService
	logger   *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(policies PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		policies: policies,
		logger:   logger,
	}
}

// HandleListPolicies handles GET /api/v1/tenants/{tenantID}/policies
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	policies, err := h.policies.ListPolicies(ctx, tenantID, includeArchived)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed policies",
		zap.String("request_id", requestID),
		zap.String("tenant_id", tenantID.String()),
		zap.Int("count", len(policies)))

	_ = utils.WriteOK(w, policies)
}

// HandleCreatePolicy handles POST /api/v1/tenants/{tenantID}/policies
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req CreatePolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	p, err := h.policies.CreatePolicy(ctx, tenantID, req.Name, req.Description, req.AppID, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy created",
		zap.String("request_id", requestID),
		zap.String("tenant_id", tenantID.String()),
		zap.String("policy_id", p.ID.String()))

	setETag(w, p.Version)
	_ = utils.WriteCreated(w, p)
}

// HandleGetPolicy handles GET /api/v1/tenants/{tenantID}/policies/{policyID}
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	p, err := h.policies.GetPolicy(r.Context(), tenantID, policyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, p.Version)
	_ = utils.WriteOK(w, p)
}

// HandleUpdatePolicy handles PATCH /api/v1/tenants/{tenantID}/policies/{policyID}
func (h *PolicyHandler) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req UpdatePolicyRequest
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
	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	p, err := h.policies.UpdatePolicy(ctx, tenantID, policyID, policy.PolicyPatch{
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
		AppID:       req.AppID,
		ClearApp:    req.ClearApp,
	}, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy updated",
		zap.String("request_id", requestID),
		zap.String("policy_id", policyID.String()),
		zap.Int64("version", p.Version))

	setETag(w, p.Version)
	_ = utils.WriteOK(w, p)
}

// HandleDeletePolicy handles DELETE /api/v1/tenants/{tenantID}/policies/{policyID}.
// The policy is archived, never removed.
func (h *PolicyHandler) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	expected, err := expectedVersion(r, nil)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	p, err := h.policies.DeletePolicy(ctx, tenantID, policyID, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy archived",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("policy_id", policyID.String()),
		zap.Int64("version", p.Version))

	_ = utils.WriteOK(w, p)
}

// HandleAttachRule handles POST /api/v1/tenants/{tenantID}/policies/{policyID}/rules
func (h *PolicyHandler) HandleAttachRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req AttachRuleRequest
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

	ref := models.RuleRef{Kind: req.Kind, ID: req.ID}
	p, attached, err := h.policies.AttachRule(ctx, tenantID, policyID, ref, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("rule attach processed",
		zap.String("request_id", requestID),
		zap.String("policy_id", policyID.String()),
		zap.String("ref", ref.String()),
		zap.Bool("attached", attached),
		zap.Int64("version", p.Version))

	setETag(w, p.Version)
	_ = utils.WriteOK(w, AttachRuleResponse{Policy: p, Attached: attached})
}

// HandleDetachRule handles DELETE /api/v1/tenants/{tenantID}/policies/{policyID}/rules/{kind}/{ruleID}
func (h *PolicyHandler) HandleDetachRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	kind := models.RuleRefKind(chi.URLParam(r, ParamKind))
	if !kind.IsValid() {
		HandleServiceError(w, services.NewValidationError("kind", "kind must be template or tenant_rule"), h.logger)
		return
	}
	ruleID, err := uuidParam(r, ParamRuleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	expected, err := expectedVersion(r, nil)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	ref := models.RuleRef{Kind: kind, ID: ruleID}
	p, err := h.policies.DetachRule(ctx, tenantID, policyID, ref, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("rule detached",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("policy_id", policyID.String()),
		zap.String("ref", ref.String()),
		zap.Int64("version", p.Version))

	setETag(w, p.Version)
	_ = utils.WriteOK(w, p)
}

// HandleListPolicyHistory handles GET /api/v1/tenants/{tenantID}/policies/history
func (h *PolicyHandler) HandleListPolicyHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	entries, err := h.policies.ListPolicyHistory(r.Context(), tenantID, limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, entries)
}

// HandleGetPolicyHistory handles GET /api/v1/tenants/{tenantID}/policies/{policyID}/history
func (h *PolicyHandler) HandleGetPolicyHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, policyID, err := tenantAndID(r, ParamPolicyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	entries, err := h.policies.GetPolicyHistory(r.Context(), tenantID, policyID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, entries)
}
