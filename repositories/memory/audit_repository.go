package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

// CapabilityRepository implements repositories.CapabilityRepository
type CapabilityRepository struct {
	s *Store
}

// Create inserts a capability
func (r *CapabilityRepository) Create(ctx context.Context, capability *models.Capability) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.capabilities {
		if c.ID == capability.ID || c.Name == capability.Name {
			return repositories.ErrDuplicate
		}
	}
	put(journalFor(ctx), r.s.capabilities, capability.ID, capability.Clone())
	return nil
}

// GetByName retrieves a capability by name
func (r *CapabilityRepository) GetByName(ctx context.Context, name string) (*models.Capability, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.s.capabilities {
		if c.Name == name {
			return c.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

// List retrieves capabilities carrying tag ordered by name
func (r *CapabilityRepository) List(ctx context.Context, tag string) ([]*models.Capability, error) {
	r.s.mu.RLock()
	out := make([]*models.Capability, 0, len(r.s.capabilities))
	for _, c := range r.s.capabilities {
		if tag == "" || c.HasTag(tag) {
			out = append(out, c.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].Name, out[j].Name) < 0 })
	return out, nil
}

// AuditRepository implements repositories.AuditRepository
type AuditRepository struct {
	s *Store
}

// Insert appends an entry to the ledger
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := auditKey{entityID: log.EntityID, version: log.EntityVersion}
	if _, ok := r.s.auditKeys[key]; ok {
		return repositories.ErrDuplicate
	}
	stored := cloneAudit(log)
	r.s.audit = append(r.s.audit, stored)
	r.s.auditKeys[key] = struct{}{}

	journalFor(ctx).record(func() {
		for i := len(r.s.audit) - 1; i >= 0; i-- {
			if r.s.audit[i] == stored {
				r.s.audit = append(r.s.audit[:i:i], r.s.audit[i+1:]...)
				delete(r.s.auditKeys, key)
				return
			}
		}
	})
	return nil
}

// List retrieves entries matching filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*models.AuditLog, 0)
	// Append order is commit order, so walking backwards is newest first.
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		e := r.s.audit[i]
		if !filter.Matches(e) {
			continue
		}
		out = append(out, cloneAudit(e))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// ListByEntity retrieves the entries of one entity ascending by version
func (r *AuditRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error) {
	r.s.mu.RLock()
	out := make([]*models.AuditLog, 0)
	for _, e := range r.s.audit {
		if e.EntityID == entityID {
			out = append(out, cloneAudit(e))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityVersion < out[j].EntityVersion })
	return out, nil
}

func cloneAudit(e *models.AuditLog) *models.AuditLog {
	c := *e
	if e.TenantID != nil {
		id := *e.TenantID
		c.TenantID = &id
	}
	return &c
}
