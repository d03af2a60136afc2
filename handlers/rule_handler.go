package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/services/rules"
	"github.com/upb/guardrails-control-plane/backend/utils"
	"go.uber.org/zap"
)

// RuleService defines the template and tenant rule operations used by RuleHandler
type RuleService interface {
	CreateTemplate(ctx context.Context, fields models.RuleFields, actor string) (*models.RuleTemplate, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.RuleTemplate, error)
	ListTemplates(ctx context.Context, filter models.RuleFilter) ([]*models.RuleTemplate, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, fields models.RuleFields, expectedVersion int64, actor string) (*models.RuleTemplate, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID, expectedVersion int64, actor string) (*models.RuleTemplate, error)
	CreateTenantRule(ctx context.Context, tenantID uuid.UUID, in rules.TenantRuleInput, actor string) (*rules.EffectiveRule, bool, error)
	GetTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*rules.EffectiveRule, error)
	ListTenantRules(ctx context.Context, tenantID uuid.UUID, filter models.RuleFilter) ([]*rules.EffectiveRule, error)
	UpdateTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID, scope models.OverrideScope, overrides models.RuleOverrides, expectedVersion int64, actor string) (*rules.EffectiveRule, error)
	DeleteTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID, expectedVersion int64, actor string) (*models.TenantRule, error)
}

// TemplateRequest represents a complete rule template in a create or update
type TemplateRequest struct {
	Jurisdiction    string          `json:"jurisdiction" validate:"required"`
	Regulation      string          `json:"regulation" validate:"required"`
	Vendor          string          `json:"vendor" validate:"required"`
	Product         string          `json:"product" validate:"required"`
	Severity        models.Severity `json:"severity" validate:"required,severity"`
	Decision        models.Decision `json:"decision" validate:"required,decision"`
	Tags            []string        `json:"tags"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	References      []string        `json:"references"`
	Remediation     string          `json:"remediation"`
	ExpectedVersion *int64          `json:"expected_version,omitempty"`
}

func (req TemplateRequest) fields() models.RuleFields {
	return models.RuleFields{
		Jurisdiction: req.Jurisdiction,
		Regulation:   req.Regulation,
		Vendor:       req.Vendor,
		Product:      req.Product,
		Severity:     req.Severity,
		Decision:     req.Decision,
		Tags:         models.NormalizeTags(req.Tags),
		Description:  req.Description,
		Category:     req.Category,
		References:   req.References,
		Remediation:  req.Remediation,
	}
}

// CreateTenantRuleRequest represents a request to create a tenant rule
type CreateTenantRuleRequest struct {
	TemplateID *uuid.UUID           `json:"template_id,omitempty"`
	Scope      models.OverrideScope `json:"scope,omitempty" validate:"omitempty,scope"`
	Overrides  models.RuleOverrides `json:"overrides"`
	Replace    bool                 `json:"replace"`
}

// UpdateTenantRuleRequest represents a request to replace a tenant rule's overrides
type UpdateTenantRuleRequest struct {
	Scope           models.OverrideScope `json:"scope,omitempty" validate:"omitempty,scope"`
	Overrides       models.RuleOverrides `json:"overrides"`
	ExpectedVersion *int64               `json:"expected_version,omitempty"`
}

// RuleHandler handles rule template, tenant rule and catalogue HTTP requests
type RuleHandler struct {
	rules  RuleService
	logger *zap.Logger
}

// NewRuleHandler creates a new RuleHandler
func NewRuleHandler(rules RuleService, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{
		rules:  rules,
		logger: logger,
	}
}

// ruleFilter reads the conjunctive rule filters from the query string
func ruleFilter(r *http.Request) models.RuleFilter {
	q := r.URL.Query()
	return models.RuleFilter{
		Jurisdiction: q.Get("jurisdiction"),
		Regulation:   q.Get("regulation"),
		Vendor:       q.Get("vendor"),
		Product:      q.Get("product"),
		Severity:     models.Severity(q.Get("severity")),
		Decision:     models.Decision(q.Get("decision")),
		Tag:          q.Get("tag"),
	}
}

// HandleListTemplates handles GET /api/v1/rules and GET /api/v1/catalog/templates
func (h *RuleHandler) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.rules.ListTemplates(r.Context(), ruleFilter(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, templates)
}

// HandleGetTemplate handles GET /api/v1/rules/{ruleID}
func (h *RuleHandler) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, ParamRuleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	t, err := h.rules.GetTemplate(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, t.Version)
	_ = utils.WriteOK(w, t)
}

// HandleCreateTemplate handles POST /api/v1/rules
func (h *RuleHandler) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req TemplateRequest
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

	t, err := h.rules.CreateTemplate(ctx, req.fields(), actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("rule template created",
		zap.String("request_id", requestID),
		zap.String("template_id", t.ID.String()),
		zap.String("rule_key", t.Key().String()))

	setETag(w, t.Version)
	_ = utils.WriteCreated(w, t)
}

// HandleUpdateTemplate handles PUT /api/v1/rules/{ruleID}
func (h *RuleHandler) HandleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, ParamRuleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req TemplateRequest
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

	t, err := h.rules.UpdateTemplate(r.Context(), id, req.fields(), expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, t.Version)
	_ = utils.WriteOK(w, t)
}

// HandleDeleteTemplate handles DELETE /api/v1/rules/{ruleID}
func (h *RuleHandler) HandleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, ParamRuleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	expected, err := expectedVersion(r, nil)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	t, err := h.rules.DeleteTemplate(r.Context(), id, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("rule template deleted",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("template_id", id.String()))

	_ = utils.WriteOK(w, t)
}

// HandleListTenantRules handles GET /api/v1/tenants/{tenantID}/rules
func (h *RuleHandler) HandleListTenantRules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	list, err := h.rules.ListTenantRules(r.Context(), tenantID, ruleFilter(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, list)
}

// HandleGetTenantRule handles GET /api/v1/tenants/{tenantID}/rules/{ruleID}
func (h *RuleHandler) HandleGetTenantRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ruleID, err := tenantAndID(r, ParamRuleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	rule, err := h.rules.GetTenantRule(r.Context(), tenantID, ruleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, rule.Version)
	_ = utils.WriteOK(w, rule)
}

// HandleCreateTenantRule handles POST /api/v1/tenants/{tenantID}/rules.
// Replacing an existing override answers 200 instead of 201.
func (h *RuleHandler) HandleCreateTenantRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, err := uuidParam(r, ParamTenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req CreateTenantRuleRequest
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

	rule, created, err := h.rules.CreateTenantRule(ctx, tenantID, rules.TenantRuleInput{
		TemplateID: req.TemplateID,
		Scope:      req.Scope,
		Overrides:  req.Overrides,
		Replace:    req.Replace,
	}, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("tenant rule saved",
		zap.String("request_id", requestID),
		zap.String("tenant_id", tenantID.String()),
		zap.String("rule_id", rule.ID.String()),
		zap.Bool("created", created))

	setETag(w, rule.Version)
	if created {
		_ = utils.WriteCreated(w, rule)
		return
	}
	_ = utils.WriteOK(w, rule)
}

// HandleUpdateTenantRule handles PUT /api/v1/tenants/{tenantID}/rules/{ruleID}
func (h *RuleHandler) HandleUpdateTenantRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ruleID, err := tenantAndID(r, ParamRuleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req UpdateTenantRuleRequest
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

	rule, err := h.rules.UpdateTenantRule(r.Context(), tenantID, ruleID, req.Scope, req.Overrides, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	setETag(w, rule.Version)
	_ = utils.WriteOK(w, rule)
}

// HandleDeleteTenantRule handles DELETE /api/v1/tenants/{tenantID}/rules/{ruleID}
func (h *RuleHandler) HandleDeleteTenantRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ruleID, err := tenantAndID(r, ParamRuleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	expected, err := expectedVersion(r, nil)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	rule, err := h.rules.DeleteTenantRule(r.Context(), tenantID, ruleID, expected, actor(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, rule)
}
