package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

// PolicyRepository implements repositories.PolicyRepository
type PolicyRepository struct {
	s *Store
}

// Create inserts a new policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.policies[policy.ID]; ok {
		return repositories.ErrDuplicate
	}
	if r.nameTaken(policy) {
		return repositories.ErrDuplicate
	}
	put(journalFor(ctx), r.s.policies, policy.ID, policy.Clone())
	return nil
}

// nameTaken must be called with s.mu held
func (r *PolicyRepository) nameTaken(policy *models.Policy) bool {
	if policy.IsArchived() {
		return false
	}
	for _, p := range r.s.policies {
		if p.ID != policy.ID && p.TenantID == policy.TenantID && !p.IsArchived() && p.Name == policy.Name {
			return true
		}
	}
	return false
}

// GetByID retrieves a policy by ID
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.policies[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return p.Clone(), nil
}

// ListByTenant retrieves the policies of a tenant ordered by creation time
func (r *PolicyRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]*models.Policy, error) {
	return r.list(func(p *models.Policy) bool {
		return p.TenantID == tenantID && (includeArchived || !p.IsArchived())
	}), nil
}

// ListReferencing retrieves non-archived policies attaching ref
func (r *PolicyRepository) ListReferencing(ctx context.Context, ref models.RuleRef) ([]*models.Policy, error) {
	return r.list(func(p *models.Policy) bool {
		return !p.IsArchived() && p.IndexOf(ref) >= 0
	}), nil
}

func (r *PolicyRepository) list(keep func(*models.Policy) bool) []*models.Policy {
	r.s.mu.RLock()
	out := make([]*models.Policy, 0)
	for _, p := range r.s.policies {
		if keep(p) {
			out = append(out, p.Clone())
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

// Update stores policy if the stored version equals expectedVersion
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.policies[policy.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	if r.nameTaken(policy) {
		return repositories.ErrDuplicate
	}
	put(journalFor(ctx), r.s.policies, policy.ID, policy.Clone())
	return nil
}

// PolicyHistoryRepository implements repositories.PolicyHistoryRepository
type PolicyHistoryRepository struct {
	s *Store
}

// Append adds an entry to the policy's history
func (r *PolicyHistoryRepository) Append(ctx context.Context, entry *models.PolicyHistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.history[entry.PolicyID] {
		if e.Version == entry.Version {
			return repositories.ErrDuplicate
		}
	}
	stored := cloneHistory(entry)
	r.s.history[entry.PolicyID] = append(r.s.history[entry.PolicyID], stored)

	journalFor(ctx).record(func() {
		entries := r.s.history[entry.PolicyID]
		for i, e := range entries {
			if e == stored {
				r.s.history[entry.PolicyID] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	})
	return nil
}

// GetVersion retrieves the entry of one policy version
func (r *PolicyHistoryRepository) GetVersion(ctx context.Context, policyID uuid.UUID, version int64) (*models.PolicyHistoryEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, e := range r.s.history[policyID] {
		if e.Version == version {
			return cloneHistory(e), nil
		}
	}
	return nil, repositories.ErrNotFound
}

// GetLatest retrieves the newest entry of a policy
func (r *PolicyHistoryRepository) GetLatest(ctx context.Context, policyID uuid.UUID) (*models.PolicyHistoryEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *models.PolicyHistoryEntry
	for _, e := range r.s.history[policyID] {
		if latest == nil || e.Version > latest.Version {
			latest = e
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	return cloneHistory(latest), nil
}

// ListByPolicy retrieves the entries of a policy ascending by version
func (r *PolicyHistoryRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyHistoryEntry, error) {
	r.s.mu.RLock()
	out := make([]*models.PolicyHistoryEntry, 0, len(r.s.history[policyID]))
	for _, e := range r.s.history[policyID] {
		out = append(out, cloneHistory(e))
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ListByTenant retrieves the entries of a tenant newest first
func (r *PolicyHistoryRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.PolicyHistoryEntry, error) {
	r.s.mu.RLock()
	out := make([]*models.PolicyHistoryEntry, 0)
	for _, entries := range r.s.history {
		for _, e := range entries {
			if e.TenantID == tenantID {
				out = append(out, cloneHistory(e))
			}
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].PolicyID != out[j].PolicyID {
			return out[i].PolicyID.String() < out[j].PolicyID.String()
		}
		return out[i].Version > out[j].Version
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneHistory(e *models.PolicyHistoryEntry) *models.PolicyHistoryEntry {
	c := *e
	c.ChangeSummary = append([]string{}, e.ChangeSummary...)
	c.Attachments = append([]models.RuleAttachment{}, e.Attachments...)
	c.Resolved = make([]models.ResolvedRule, len(e.Resolved))
	for i, r := range e.Resolved {
		c.Resolved[i] = r.Clone()
	}
	return &c
}
