package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

// RuleTemplateRepository implements repositories.RuleTemplateRepository
type RuleTemplateRepository struct {
	s *Store
}

// Create inserts a new template
func (r *RuleTemplateRepository) Create(ctx context.Context, template *models.RuleTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.templates[template.ID]; ok {
		return repositories.ErrDuplicate
	}
	put(journalFor(ctx), r.s.templates, template.ID, template.Clone())
	return nil
}

// GetByID retrieves a template by ID
func (r *RuleTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RuleTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.templates[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return t.Clone(), nil
}

// Lock retrieves a template after locking its row for the transaction in ctx
func (r *RuleTemplateRepository) Lock(ctx context.Context, id uuid.UUID, mode repositories.LockMode) (*models.RuleTemplate, error) {
	if err := lockRow(ctx, id, mode); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// List retrieves live templates matching filter ordered by rule identity
func (r *RuleTemplateRepository) List(ctx context.Context, filter models.RuleFilter) ([]*models.RuleTemplate, error) {
	r.s.mu.RLock()
	out := make([]*models.RuleTemplate, 0)
	for _, t := range r.s.templates {
		if !t.IsDeleted() && filter.Matches(t.RuleFields) {
			out = append(out, t.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].Key(), out[j].Key()
		if ki != kj {
			return ki.Less(kj)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Update stores template if the stored version equals expectedVersion
func (r *RuleTemplateRepository) Update(ctx context.Context, template *models.RuleTemplate, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.templates[template.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	put(journalFor(ctx), r.s.templates, template.ID, template.Clone())
	return nil
}

// TenantRuleRepository implements repositories.TenantRuleRepository
type TenantRuleRepository struct {
	s *Store
}

// Create inserts a new tenant rule
func (r *TenantRuleRepository) Create(ctx context.Context, rule *models.TenantRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tenantRules[rule.ID]; ok {
		return repositories.ErrDuplicate
	}
	if rule.TemplateID != nil && r.liveOverride(rule.TenantID, *rule.TemplateID) != nil {
		return repositories.ErrDuplicate
	}
	put(journalFor(ctx), r.s.tenantRules, rule.ID, rule.Clone())
	return nil
}

// liveOverride must be called with s.mu held
func (r *TenantRuleRepository) liveOverride(tenantID, templateID uuid.UUID) *models.TenantRule {
	for _, tr := range r.s.tenantRules {
		if tr.TenantID == tenantID && !tr.IsDeleted() && tr.TemplateID != nil && *tr.TemplateID == templateID {
			return tr
		}
	}
	return nil
}

// GetByID retrieves a tenant rule by ID
func (r *TenantRuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TenantRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	tr, ok := r.s.tenantRules[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return tr.Clone(), nil
}

// Lock retrieves a tenant rule after locking its row for the transaction in ctx
func (r *TenantRuleRepository) Lock(ctx context.Context, id uuid.UUID, mode repositories.LockMode) (*models.TenantRule, error) {
	if err := lockRow(ctx, id, mode); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// GetOverride retrieves the live override of templateID within a tenant
func (r *TenantRuleRepository) GetOverride(ctx context.Context, tenantID, templateID uuid.UUID) (*models.TenantRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if tr := r.liveOverride(tenantID, templateID); tr != nil {
		return tr.Clone(), nil
	}
	return nil, repositories.ErrNotFound
}

// ListByTenant retrieves the live rules of a tenant ordered by creation time
func (r *TenantRuleRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantRule, error) {
	return r.list(func(tr *models.TenantRule) bool { return tr.TenantID == tenantID }), nil
}

// ListByTemplate retrieves live rules of any tenant that override templateID
func (r *TenantRuleRepository) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*models.TenantRule, error) {
	return r.list(func(tr *models.TenantRule) bool {
		return tr.TemplateID != nil && *tr.TemplateID == templateID
	}), nil
}

func (r *TenantRuleRepository) list(keep func(*models.TenantRule) bool) []*models.TenantRule {
	r.s.mu.RLock()
	out := make([]*models.TenantRule, 0)
	for _, tr := range r.s.tenantRules {
		if !tr.IsDeleted() && keep(tr) {
			out = append(out, tr.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Update stores rule if the stored version equals expectedVersion
func (r *TenantRuleRepository) Update(ctx context.Context, rule *models.TenantRule, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.tenantRules[rule.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	if rule.TemplateID != nil && !rule.IsDeleted() {
		if other := r.liveOverride(rule.TenantID, *rule.TemplateID); other != nil && other.ID != rule.ID {
			return repositories.ErrDuplicate
		}
	}
	put(journalFor(ctx), r.s.tenantRules, rule.ID, rule.Clone())
	return nil
}
