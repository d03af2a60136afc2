package policy

import (
	"context"
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
	"github.com/upb/guardrails-control-plane/backend/services/resolution"
	"go.uber.org/zap"
)

// DefaultHistoryLimit bounds tenant-wide history listings when no limit is given
const DefaultHistoryLimit = 100

// PolicyPatch carries the mutable fields of a policy. Nil fields are unchanged.
type PolicyPatch struct {
	Name        *string
	Description *string
	Status      *models.PolicyStatus
	AppID       *uuid.UUID
	// ClearApp makes the policy tenant-wide again
	ClearApp bool
}

// PolicyService manages policies, their rule attachments and their history
type PolicyService struct {
	repos   *repositories.Repositories
	txMgr   repositories.TransactionManager
	loader  resolution.Loader
	audit   *audit.Service
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewPolicyService creates a new PolicyService instance
func NewPolicyService(repos *repositories.Repositories, txMgr repositories.TransactionManager, auditSvc *audit.Service, logger *zap.Logger, metrics *observability.Metrics) *PolicyService {
	return &PolicyService{
		repos:   repos,
		txMgr:   txMgr,
		loader:  resolution.NewLoader(repos),
		audit:   auditSvc,
		logger:  logger,
		metrics: metrics,
	}
}

// CreatePolicy creates an empty draft policy at version 1
func (s *PolicyService) CreatePolicy(ctx context.Context, tenantID uuid.UUID, name, description string, appID *uuid.UUID, actor string) (*models.Policy, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, services.NewValidationError("name", "policy name is required")
	}

	var entry *models.AuditLog
	policy, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Policy, error) {
		if err := s.ensureTenant(ctx, tenantID); err != nil {
			return nil, err
		}
		if appID != nil {
			if err := s.ensureApp(ctx, tenantID, *appID); err != nil {
				return nil, err
			}
		}

		p := models.NewPolicy(tenantID, name, description, appID)
		if err := s.repos.Policies.Create(ctx, p); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return nil, services.NewConflictError(models.EntityPolicy, p.ID, fmt.Sprintf("policy %q already exists", name)).
					WithDetail("name", name)
			}
			return nil, services.WrapInternal("failed to create policy", err)
		}
		history := models.NewPolicyHistoryEntry(p, models.PolicyChangeCreated, []string{"created"}, nil, actor)
		if err := s.appendHistory(ctx, history); err != nil {
			return nil, err
		}
		entry = models.NewAuditLog(models.AuditActionPolicyCreated, models.EntityPolicy, p.ID, p.Version).
			WithTenant(tenantID).
			WithActor(actor).
			WithAfter(p)
		return p, s.audit.Record(ctx, entry)
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	s.audit.Committed(entry)
	return policy, nil
}

// UpdatePolicy changes name, description, status or app scope. Status
// moves between draft and active only; archiving goes through DeletePolicy.
func (s *PolicyService) UpdatePolicy(ctx context.Context, tenantID, policyID uuid.UUID, patch PolicyPatch, expectedVersion int64, actor string) (*models.Policy, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, services.NewValidationError("name", "policy name must not be empty")
	}
	if patch.Status != nil && *patch.Status != models.PolicyStatusDraft && *patch.Status != models.PolicyStatusActive {
		return nil, services.NewValidationError("status", "status must be draft or active")
	}

	return s.mutate(ctx, tenantID, policyID, expectedVersion, actor, func(ctx context.Context, cur, next *models.Policy) (*change, error) {
		var summary []string
		if patch.Name != nil {
			if name := strings.TrimSpace(*patch.Name); name != cur.Name {
				next.Name = name
				summary = append(summary, fmt.Sprintf("name: %q -> %q", cur.Name, name))
			}
		}
		if patch.Description != nil && *patch.Description != cur.Description {
			next.Description = *patch.Description
			summary = append(summary, "description changed")
		}
		if patch.Status != nil && *patch.Status != cur.Status {
			next.Status = *patch.Status
			summary = append(summary, fmt.Sprintf("status: %s -> %s", cur.Status, *patch.Status))
		}
		switch {
		case patch.ClearApp && cur.AppID != nil:
			next.AppID = nil
			summary = append(summary, "app scope removed")
		case patch.AppID != nil && (cur.AppID == nil || *cur.AppID != *patch.AppID):
			if err := s.ensureApp(ctx, tenantID, *patch.AppID); err != nil {
				return nil, err
			}
			id := *patch.AppID
			next.AppID = &id
			summary = append(summary, "app scope: "+id.String())
		}
		if len(summary) == 0 {
			return nil, nil
		}
		return &change{
			kind:    models.PolicyChangeUpdated,
			action:  models.AuditActionPolicyUpdated,
			summary: summary,
		}, nil
	})
}

// DeletePolicy archives a policy. Its history stays replayable.
func (s *PolicyService) DeletePolicy(ctx context.Context, tenantID, policyID uuid.UUID, expectedVersion int64, actor string) (*models.Policy, error) {
	return s.mutate(ctx, tenantID, policyID, expectedVersion, actor, func(ctx context.Context, cur, next *models.Policy) (*change, error) {
		latest, err := s.repos.PolicyHistory.GetLatest(ctx, policyID)
		if err != nil {
			return nil, services.FromRepositoryError(err, models.EntityPolicy, policyID)
		}
		now := time.Now().UTC()
		next.Status = models.PolicyStatusArchived
		next.ArchivedAt = &now
		return &change{
			kind:     models.PolicyChangeArchived,
			action:   models.AuditActionPolicyArchived,
			summary:  []string{fmt.Sprintf("status: %s -> %s", cur.Status, models.PolicyStatusArchived)},
			resolved: latest.Resolved,
			frozen:   true,
		}, nil
	})
}

// AttachRule appends ref to the policy's attachments. Attaching a ref that
// is already attached returns the policy unchanged and writes nothing.
// changed reports whether a new version was committed.
func (s *PolicyService) AttachRule(ctx context.Context, tenantID, policyID uuid.UUID, ref models.RuleRef, expectedVersion int64, actor string) (policy *models.Policy, changed bool, err error) {
	if !ref.Kind.IsValid() {
		return nil, false, services.NewValidationError("kind", "rule kind must be template or tenant_rule")
	}
	if ref.ID == uuid.Nil {
		return nil, false, services.NewValidationError("rule_id", "rule id is required")
	}

	policy, err = s.mutate(ctx, tenantID, policyID, expectedVersion, actor, func(ctx context.Context, cur, next *models.Policy) (*change, error) {
		if cur.IndexOf(ref) >= 0 {
			return nil, nil
		}
		if err := s.ensureAttachable(ctx, tenantID, ref); err != nil {
			return nil, err
		}
		next.Attachments = append(next.Attachments, models.RuleAttachment{
			Ref:        ref,
			AttachedAt: next.UpdatedAt,
			AttachedBy: actor,
		})
		changed = true
		return &change{
			kind:    models.PolicyChangeAttached,
			action:  models.AuditActionPolicyRuleAttached,
			summary: []string{"attached " + ref.String()},
		}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return policy, changed, nil
}

// DetachRule removes ref from the policy's attachments
func (s *PolicyService) DetachRule(ctx context.Context, tenantID, policyID uuid.UUID, ref models.RuleRef, expectedVersion int64, actor string) (*models.Policy, error) {
	return s.mutate(ctx, tenantID, policyID, expectedVersion, actor, func(ctx context.Context, cur, next *models.Policy) (*change, error) {
		i := cur.IndexOf(ref)
		if i < 0 {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "rule is not attached to the policy", services.ErrRuleNotAttached).
				WithEntity(models.EntityPolicy, policyID).
				WithDetail(services.DetailRefKind, string(ref.Kind)).
				WithDetail(services.DetailRefID, ref.ID.String())
		}
		next.Attachments = append(next.Attachments[:i:i], next.Attachments[i+1:]...)
		return &change{
			kind:    models.PolicyChangeDetached,
			action:  models.AuditActionPolicyRuleDetached,
			summary: []string{"detached " + ref.String()},
		}, nil
	})
}

// GetPolicy returns a policy of the tenant, archived ones included
func (s *PolicyService) GetPolicy(ctx context.Context, tenantID, policyID uuid.UUID) (*models.Policy, error) {
	p, err := s.repos.Policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, services.FromRepositoryError(err, models.EntityPolicy, policyID)
	}
	if p.TenantID != tenantID {
		return nil, services.NewNotFoundError(models.EntityPolicy, policyID)
	}
	return p, nil
}

// ListPolicies returns the tenant's policies ordered by creation time
func (s *PolicyService) ListPolicies(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]*models.Policy, error) {
	if err := s.ensureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	policies, err := s.repos.Policies.ListByTenant(ctx, tenantID, includeArchived)
	if err != nil {
		return nil, services.WrapInternal("failed to list policies", err)
	}
	return policies, nil
}

// ListPolicyHistory returns the tenant's policy history entries, newest first
func (s *PolicyService) ListPolicyHistory(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.PolicyHistoryEntry, error) {
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit < 1 || limit > audit.MaxListLimit {
		return nil, services.NewValidationError("limit", fmt.Sprintf("limit must be between 1 and %d", audit.MaxListLimit))
	}
	if err := s.ensureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	entries, err := s.repos.PolicyHistory.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list policy history", err)
	}
	return entries, nil
}

// GetPolicyHistory returns every version of one policy, ascending
func (s *PolicyService) GetPolicyHistory(ctx context.Context, tenantID, policyID uuid.UUID) ([]*models.PolicyHistoryEntry, error) {
	if _, err := s.GetPolicy(ctx, tenantID, policyID); err != nil {
		return nil, err
	}
	entries, err := s.repos.PolicyHistory.ListByPolicy(ctx, policyID)
	if err != nil {
		return nil, services.WrapInternal("failed to load policy history", err)
	}
	return entries, nil
}

// change describes the version a mutation produces
type change struct {
	kind    models.PolicyChangeType
	action  models.AuditAction
	summary []string
	// resolved is the snapshot to record when frozen is set; otherwise the
	// new version is materialized
	resolved []models.ResolvedRule
	frozen   bool
}

// mutate runs one compare-and-swap policy mutation. apply edits next, a
// copy of cur, and returns nil to leave the policy untouched.
func (s *PolicyService) mutate(ctx context.Context, tenantID, policyID uuid.UUID, expectedVersion int64, actor string,
	apply func(ctx context.Context, cur, next *models.Policy) (*change, error)) (*models.Policy, error) {
	var entry *models.AuditLog
	policy, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Policy, error) {
		cur, err := s.livePolicy(ctx, tenantID, policyID)
		if err != nil {
			return nil, err
		}
		expected, err := services.CheckVersion(models.EntityPolicy, policyID, expectedVersion, cur.Version)
		if err != nil {
			return nil, err
		}

		next := cur.Clone()
		next.Version = expected + 1
		next.UpdatedAt = time.Now().UTC()
		c, err := apply(ctx, cur, next)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return cur, nil
		}

		resolved := c.resolved
		if !c.frozen {
			if resolved, err = resolution.Materialize(ctx, s.loader, next); err != nil {
				return nil, err
			}
		}
		if err := s.repos.Policies.Update(ctx, next, expected); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return nil, services.NewConflictError(models.EntityPolicy, policyID, fmt.Sprintf("policy %q already exists", next.Name)).
					WithDetail("name", next.Name)
			}
			return nil, services.WriteError(err, models.EntityPolicy, policyID, expected)
		}
		if err := s.appendHistory(ctx, models.NewPolicyHistoryEntry(next, c.kind, c.summary, resolved, actor)); err != nil {
			return nil, err
		}
		entry = models.NewAuditLog(c.action, models.EntityPolicy, policyID, next.Version).
			WithTenant(tenantID).
			WithActor(actor).
			WithBefore(cur).
			WithAfter(next)
		return next, s.audit.Record(ctx, entry)
	})
	if err != nil {
		s.observeFailure(err)
		return nil, err
	}

	if entry != nil {
		s.audit.Committed(entry)
		s.logger.Debug("policy version committed",
			zap.String("policy_id", policyID.String()),
			zap.Int64("version", policy.Version),
			zap.String("event_type", string(entry.Action)),
		)
	}
	return policy, nil
}

func (s *PolicyService) appendHistory(ctx context.Context, h *models.PolicyHistoryEntry) error {
	if err := s.repos.PolicyHistory.Append(ctx, h); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return services.NewVersionConflictError(models.EntityPolicy, h.PolicyID, h.Version-1, 0)
		}
		return services.WrapInternal("failed to append policy history", err)
	}
	return nil
}

// livePolicy returns the policy unless it is archived or owned by another tenant
func (s *PolicyService) livePolicy(ctx context.Context, tenantID, policyID uuid.UUID) (*models.Policy, error) {
	p, err := s.GetPolicy(ctx, tenantID, policyID)
	if err != nil {
		return nil, err
	}
	if p.IsArchived() {
		return nil, services.NewNotFoundError(models.EntityPolicy, policyID).WithDetail("status", string(p.Status))
	}
	return p, nil
}

// ensureAttachable checks that ref resolves within the tenant. The rule
// row stays share-locked until the attach commits so a concurrent delete
// either sees the new attachment or is seen by it.
func (s *PolicyService) ensureAttachable(ctx context.Context, tenantID uuid.UUID, ref models.RuleRef) error {
	switch ref.Kind {
	case models.RuleRefTemplate:
		t, err := s.repos.Templates.Lock(ctx, ref.ID, repositories.LockShare)
		if err != nil {
			return services.FromRepositoryError(err, models.EntityRuleTemplate, ref.ID)
		}
		if t.IsDeleted() {
			return services.NewNotFoundError(models.EntityRuleTemplate, ref.ID)
		}
	case models.RuleRefTenantRule:
		tr, err := s.repos.TenantRules.Lock(ctx, ref.ID, repositories.LockShare)
		if err != nil {
			return services.FromRepositoryError(err, models.EntityTenantRule, ref.ID)
		}
		if tr.IsDeleted() || tr.TenantID != tenantID {
			return services.NewNotFoundError(models.EntityTenantRule, ref.ID)
		}
	}
	return nil
}

func (s *PolicyService) ensureTenant(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := s.repos.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return services.FromRepositoryError(err, models.EntityTenant, tenantID)
	}
	if tenant.IsDeleted() {
		return services.NewNotFoundError(models.EntityTenant, tenantID)
	}
	return nil
}

func (s *PolicyService) ensureApp(ctx context.Context, tenantID, appID uuid.UUID) error {
	app, err := s.repos.Apps.GetByID(ctx, appID)
	if err != nil {
		return services.FromRepositoryError(err, models.EntityApp, appID)
	}
	if app.TenantID != tenantID {
		return services.NewNotFoundError(models.EntityApp, appID)
	}
	return nil
}

func (s *PolicyService) observeFailure(err error) {
	if services.IsConflictError(err) {
		s.metrics.RecordConflict(models.EntityPolicy)
		s.logger.Debug("policy write conflict", zap.Error(err))
	}
}
