package rules

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
	"github.com/upb/guardrails-control-plane/backend/services/audit"
	"go.uber.org/zap"
)

// EffectiveRule is a tenant rule together with the fields it resolves to
type EffectiveRule struct {
	*models.TenantRule
	Effective models.RuleFields `json:"effective"`
}

// TenantRuleInput describes a tenant rule to create
type TenantRuleInput struct {
	TemplateID *uuid.UUID
	Scope      models.OverrideScope // defaults to inherit with a template, tenant_defined without
	Overrides  models.RuleOverrides
	// Replace updates an existing override of the same template in place
	// instead of failing with a conflict
	Replace bool
}

// Service manages the global rule template library and tenant rules
type Service struct {
	repos   *repositories.Repositories
	txMgr   repositories.TransactionManager
	audit   *audit.Service
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewService creates a new rules Service
func NewService(repos *repositories.Repositories, txMgr repositories.TransactionManager, auditSvc *audit.Service, logger *zap.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		repos:   repos,
		txMgr:   txMgr,
		audit:   auditSvc,
		logger:  logger,
		metrics: metrics,
	}
}

// CreateTemplate adds a template to the global library
func (s *Service) CreateTemplate(ctx context.Context, fields models.RuleFields, actor string) (*models.RuleTemplate, error) {
	return s.createTemplate(ctx, models.NewRuleTemplate(fields), actor)
}

// CreateSystemTemplate adds a template with a fixed id that cannot be
// deleted. Used when seeding the catalogue.
func (s *Service) CreateSystemTemplate(ctx context.Context, id uuid.UUID, fields models.RuleFields, actor string) (*models.RuleTemplate, error) {
	template := models.NewRuleTemplate(fields)
	template.ID = id
	template.IsSystem = true
	return s.createTemplate(ctx, template, actor)
}

func (s *Service) createTemplate(ctx context.Context, template *models.RuleTemplate, actor string) (*models.RuleTemplate, error) {
	if err := ValidateFields(template.RuleFields); err != nil {
		return nil, err
	}

	entry := models.NewAuditLog(models.AuditActionTemplateCreated, models.EntityRuleTemplate, template.ID, template.Version).
		WithActor(actor).
		WithAfter(template)

	err := services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		if err := s.repos.Templates.Create(ctx, template); err != nil {
			return services.FromRepositoryError(err, models.EntityRuleTemplate, template.ID)
		}
		return s.audit.Record(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Committed(entry)
	return template, nil
}

// GetTemplate returns a live template
func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*models.RuleTemplate, error) {
	template, err := s.repos.Templates.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityRuleTemplate, id)
	}
	if template.IsDeleted() {
		return nil, services.NewNotFoundError(models.EntityRuleTemplate, id)
	}
	return template, nil
}

// ListTemplates returns live templates matching every set criterion of
// filter, ordered by jurisdiction, regulation, vendor, product and id
func (s *Service) ListTemplates(ctx context.Context, filter models.RuleFilter) ([]*models.RuleTemplate, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	templates, err := s.repos.Templates.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list rule templates", err)
	}
	return templates, nil
}

// UpdateTemplate replaces the fields of a template. History snapshots
// already taken keep the fields they captured.
func (s *Service) UpdateTemplate(ctx context.Context, id uuid.UUID, fields models.RuleFields, expectedVersion int64, actor string) (*models.RuleTemplate, error) {
	fields.Tags = models.NormalizeTags(fields.Tags)
	if err := ValidateFields(fields); err != nil {
		return nil, err
	}

	var entry *models.AuditLog
	template, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.RuleTemplate, error) {
		cur, err := s.GetTemplate(ctx, id)
		if err != nil {
			return nil, err
		}
		expected, err := services.CheckVersion(models.EntityRuleTemplate, id, expectedVersion, cur.Version)
		if err != nil {
			return nil, err
		}

		next := cur.Clone()
		next.RuleFields = fields.Clone()
		next.Version = expected + 1
		next.UpdatedAt = time.Now().UTC()

		if err := s.repos.Templates.Update(ctx, next, expected); err != nil {
			return nil, services.WriteError(err, models.EntityRuleTemplate, id, expected)
		}
		entry = models.NewAuditLog(models.AuditActionTemplateUpdated, models.EntityRuleTemplate, id, next.Version).
			WithActor(actor).
			WithBefore(cur).
			WithAfter(next)
		return next, s.audit.Record(ctx, entry)
	})
	if err != nil {
		s.observeFailure(models.EntityRuleTemplate, err)
		return nil, err
	}

	s.audit.Committed(entry)
	return template, nil
}

// DeleteTemplate tombstones a template. System templates cannot be
// deleted, and a template stays while a non-archived policy attaches it or
// a live tenant rule overrides it.
func (s *Service) DeleteTemplate(ctx context.Context, id uuid.UUID, expectedVersion int64, actor string) (*models.RuleTemplate, error) {
	var entry *models.AuditLog
	template, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.RuleTemplate, error) {
		cur, err := s.lockTemplate(ctx, id, repositories.LockUpdate)
		if err != nil {
			return nil, err
		}
		if cur.IsSystem {
			return nil, services.NewValidationError("is_system", "system templates cannot be deleted").
				WithEntity(models.EntityRuleTemplate, id)
		}
		expected, err := services.CheckVersion(models.EntityRuleTemplate, id, expectedVersion, cur.Version)
		if err != nil {
			return nil, err
		}
		if err := s.ensureUnreferenced(ctx, models.TemplateRef(id)); err != nil {
			return nil, err
		}
		overrides, err := s.repos.TenantRules.ListByTemplate(ctx, id)
		if err != nil {
			return nil, services.WrapInternal("failed to list template overrides", err)
		}
		if len(overrides) > 0 {
			return nil, services.NewConflictError(models.EntityRuleTemplate, id, "template is overridden by tenant rules").
				WithDetail("tenant_rule_id", overrides[0].ID.String())
		}

		next := cur.Clone()
		now := time.Now().UTC()
		next.DeletedAt = &now
		next.UpdatedAt = now
		next.Version = expected + 1

		if err := s.repos.Templates.Update(ctx, next, expected); err != nil {
			return nil, services.WriteError(err, models.EntityRuleTemplate, id, expected)
		}
		entry = models.NewAuditLog(models.AuditActionTemplateDeleted, models.EntityRuleTemplate, id, next.Version).
			WithActor(actor).
			WithBefore(cur).
			WithAfter(next)
		return next, s.audit.Record(ctx, entry)
	})
	if err != nil {
		s.observeFailure(models.EntityRuleTemplate, err)
		return nil, err
	}

	s.audit.Committed(entry)
	return template, nil
}

// CreateTenantRule creates a tenant rule. A tenant holds at most one live
// override per template: a second one is a conflict unless in.Replace is
// set, in which case the existing override is updated in place. created
// reports which of the two happened.
func (s *Service) CreateTenantRule(ctx context.Context, tenantID uuid.UUID, in TenantRuleInput, actor string) (rule *EffectiveRule, created bool, err error) {
	scope := in.Scope
	if scope == "" {
		scope = models.OverrideScopeTenantDefined
		if in.TemplateID != nil {
			scope = models.OverrideScopeInherit
		}
	}
	if err := validateTenantRule(scope, in.TemplateID, in.Overrides); err != nil {
		return nil, false, err
	}

	var entry *models.AuditLog
	rule, err = services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*EffectiveRule, error) {
		if err := s.ensureTenant(ctx, tenantID); err != nil {
			return nil, err
		}
		var template *models.RuleTemplate
		if in.TemplateID != nil {
			t, err := s.lockTemplate(ctx, *in.TemplateID, repositories.LockShare)
			if err != nil {
				return nil, err
			}
			template = t

			existing, err := s.repos.TenantRules.GetOverride(ctx, tenantID, *in.TemplateID)
			switch {
			case err == nil && !in.Replace:
				return nil, services.NewConflictError(models.EntityTenantRule, existing.ID, "tenant already overrides this template").
					WithDetail("template_id", in.TemplateID.String())
			case err == nil:
				next, e := s.replaceTenantRule(ctx, existing, scope, in.Overrides, 0, actor)
				if e != nil {
					return nil, e
				}
				entry = next.entry
				return next.rule, nil
			case !errors.Is(err, repositories.ErrNotFound):
				return nil, services.WrapInternal("failed to look up template override", err)
			}
		}

		tr := models.NewTenantRule(tenantID, in.TemplateID, scope, in.Overrides.Clone())
		if err := s.repos.TenantRules.Create(ctx, tr); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return nil, services.NewConflictError(models.EntityTenantRule, tr.ID, "tenant already overrides this template")
			}
			return nil, services.WrapInternal("failed to create tenant rule", err)
		}
		entry = models.NewAuditLog(models.AuditActionTenantRuleCreated, models.EntityTenantRule, tr.ID, tr.Version).
			WithTenant(tenantID).
			WithActor(actor).
			WithAfter(tr)
		created = true
		return &EffectiveRule{TenantRule: tr, Effective: Effective(tr, template)}, s.audit.Record(ctx, entry)
	})
	if err != nil {
		s.observeFailure(models.EntityTenantRule, err)
		return nil, false, err
	}

	s.audit.Committed(entry)
	return rule, created, nil
}

// UpdateTenantRule replaces the scope and overrides of a tenant rule.
// An empty scope keeps the current one.
func (s *Service) UpdateTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID, scope models.OverrideScope, overrides models.RuleOverrides, expectedVersion int64, actor string) (*EffectiveRule, error) {
	var entry *models.AuditLog
	rule, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*EffectiveRule, error) {
		cur, err := s.getTenantRule(ctx, tenantID, ruleID)
		if err != nil {
			return nil, err
		}
		if scope == "" {
			scope = cur.Scope
		}
		if err := validateTenantRule(scope, cur.TemplateID, overrides); err != nil {
			return nil, err
		}
		next, err := s.replaceTenantRule(ctx, cur, scope, overrides, expectedVersion, actor)
		if err != nil {
			return nil, err
		}
		entry = next.entry
		return next.rule, nil
	})
	if err != nil {
		s.observeFailure(models.EntityTenantRule, err)
		return nil, err
	}

	s.audit.Committed(entry)
	return rule, nil
}

type replaced struct {
	rule  *EffectiveRule
	entry *models.AuditLog
}

// replaceTenantRule must run inside a transaction
func (s *Service) replaceTenantRule(ctx context.Context, cur *models.TenantRule, scope models.OverrideScope, overrides models.RuleOverrides, expectedVersion int64, actor string) (*replaced, error) {
	expected, err := services.CheckVersion(models.EntityTenantRule, cur.ID, expectedVersion, cur.Version)
	if err != nil {
		return nil, err
	}
	var template *models.RuleTemplate
	if cur.TemplateID != nil {
		if template, err = s.GetTemplate(ctx, *cur.TemplateID); err != nil {
			return nil, err
		}
	}

	next := cur.Clone()
	next.Scope = scope
	next.Overrides = overrides.Clone()
	next.Version = expected + 1
	next.UpdatedAt = time.Now().UTC()

	if err := s.repos.TenantRules.Update(ctx, next, expected); err != nil {
		return nil, services.WriteError(err, models.EntityTenantRule, cur.ID, expected)
	}
	entry := models.NewAuditLog(models.AuditActionTenantRuleUpdated, models.EntityTenantRule, cur.ID, next.Version).
		WithTenant(cur.TenantID).
		WithActor(actor).
		WithBefore(cur).
		WithAfter(next)
	if err := s.audit.Record(ctx, entry); err != nil {
		return nil, err
	}
	return &replaced{
		rule:  &EffectiveRule{TenantRule: next, Effective: Effective(next, template)},
		entry: entry,
	}, nil
}

// DeleteTenantRule tombstones a tenant rule no non-archived policy attaches
func (s *Service) DeleteTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID, expectedVersion int64, actor string) (*models.TenantRule, error) {
	var entry *models.AuditLog
	rule, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.TenantRule, error) {
		cur, err := s.lockTenantRule(ctx, tenantID, ruleID, repositories.LockUpdate)
		if err != nil {
			return nil, err
		}
		expected, err := services.CheckVersion(models.EntityTenantRule, ruleID, expectedVersion, cur.Version)
		if err != nil {
			return nil, err
		}
		if err := s.ensureUnreferenced(ctx, models.TenantRuleRef(ruleID)); err != nil {
			return nil, err
		}

		next := cur.Clone()
		now := time.Now().UTC()
		next.DeletedAt = &now
		next.UpdatedAt = now
		next.Version = expected + 1

		if err := s.repos.TenantRules.Update(ctx, next, expected); err != nil {
			return nil, services.WriteError(err, models.EntityTenantRule, ruleID, expected)
		}
		entry = models.NewAuditLog(models.AuditActionTenantRuleDeleted, models.EntityTenantRule, ruleID, next.Version).
			WithTenant(tenantID).
			WithActor(actor).
			WithBefore(cur).
			WithAfter(next)
		return next, s.audit.Record(ctx, entry)
	})
	if err != nil {
		s.observeFailure(models.EntityTenantRule, err)
		return nil, err
	}

	s.audit.Committed(entry)
	return rule, nil
}

// GetTenantRule returns a live tenant rule with its effective fields
func (s *Service) GetTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*EffectiveRule, error) {
	tr, err := s.getTenantRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	return s.effective(ctx, tr)
}

// ListTenantRules returns the live rules of a tenant whose effective
// fields match filter, ordered by creation time
func (s *Service) ListTenantRules(ctx context.Context, tenantID uuid.UUID, filter models.RuleFilter) ([]*EffectiveRule, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	if err := s.ensureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	trs, err := s.repos.TenantRules.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, services.WrapInternal("failed to list tenant rules", err)
	}

	out := make([]*EffectiveRule, 0, len(trs))
	for _, tr := range trs {
		er, err := s.effective(ctx, tr)
		if err != nil {
			return nil, err
		}
		if filter.Matches(er.Effective) {
			out = append(out, er)
		}
	}
	return out, nil
}

// Effective computes the fields a tenant rule resolves to. template must
// be the rule's template for inherit rules and is ignored otherwise.
func Effective(tr *models.TenantRule, template *models.RuleTemplate) models.RuleFields {
	if tr.Scope == models.OverrideScopeInherit && template != nil {
		fields, _ := tr.Overrides.Apply(template.RuleFields)
		return fields
	}
	return tr.Overrides.Materialize()
}

func (s *Service) effective(ctx context.Context, tr *models.TenantRule) (*EffectiveRule, error) {
	var template *models.RuleTemplate
	if tr.Scope == models.OverrideScopeInherit && tr.TemplateID != nil {
		t, err := s.repos.Templates.GetByID(ctx, *tr.TemplateID)
		if err != nil {
			return nil, services.FromRepositoryError(err, models.EntityRuleTemplate, *tr.TemplateID)
		}
		template = t
	}
	return &EffectiveRule{TenantRule: tr, Effective: Effective(tr, template)}, nil
}

func (s *Service) getTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID) (*models.TenantRule, error) {
	tr, err := s.repos.TenantRules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityTenantRule, ruleID)
	}
	if tr.TenantID != tenantID || tr.IsDeleted() {
		return nil, services.NewNotFoundError(models.EntityTenantRule, ruleID)
	}
	return tr, nil
}

// lockTemplate is GetTemplate with the row locked until the transaction
// in ctx ends. Deletes lock for update and anything creating a reference
// locks for share, so a reference check never races a tombstone.
func (s *Service) lockTemplate(ctx context.Context, id uuid.UUID, mode repositories.LockMode) (*models.RuleTemplate, error) {
	template, err := s.repos.Templates.Lock(ctx, id, mode)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityRuleTemplate, id)
	}
	if template.IsDeleted() {
		return nil, services.NewNotFoundError(models.EntityRuleTemplate, id)
	}
	return template, nil
}

func (s *Service) lockTenantRule(ctx context.Context, tenantID, ruleID uuid.UUID, mode repositories.LockMode) (*models.TenantRule, error) {
	tr, err := s.repos.TenantRules.Lock(ctx, ruleID, mode)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityTenantRule, ruleID)
	}
	if tr.TenantID != tenantID || tr.IsDeleted() {
		return nil, services.NewNotFoundError(models.EntityTenantRule, ruleID)
	}
	return tr, nil
}

func (s *Service) ensureTenant(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := s.repos.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return services.FromRepositoryError(err, models.EntityTenant, tenantID)
	}
	if tenant.IsDeleted() {
		return services.NewNotFoundError(models.EntityTenant, tenantID)
	}
	return nil
}

func (s *Service) ensureUnreferenced(ctx context.Context, ref models.RuleRef) error {
	policies, err := s.repos.Policies.ListReferencing(ctx, ref)
	if err != nil {
		return services.WrapInternal("failed to look up referencing policies", err)
	}
	if len(policies) > 0 {
		entityType := models.EntityRuleTemplate
		if ref.Kind == models.RuleRefTenantRule {
			entityType = models.EntityTenantRule
		}
		return services.NewConflictError(entityType, ref.ID, "rule is attached to a policy").
			WithDetail("policy_id", policies[0].ID.String())
	}
	return nil
}

func (s *Service) observeFailure(entityType string, err error) {
	if services.IsConflictError(err) {
		s.metrics.RecordConflict(entityType)
		s.logger.Debug("rule write conflict", zap.String("entity_type", entityType), zap.Error(err))
	}
}
