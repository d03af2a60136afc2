package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

// TenantRepository implements repositories.TenantRepository
type TenantRepository struct {
	s *Store
}

// Create inserts a new tenant
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tenants[tenant.ID]; ok {
		return repositories.ErrDuplicate
	}
	for _, t := range r.s.tenants {
		if !t.IsDeleted() && t.Name == tenant.Name {
			return repositories.ErrDuplicate
		}
	}
	put(journalFor(ctx), r.s.tenants, tenant.ID, tenant.Clone())
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.tenants[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return t.Clone(), nil
}

// GetByName retrieves a live tenant by name
func (r *TenantRepository) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, t := range r.s.tenants {
		if !t.IsDeleted() && t.Name == name {
			return t.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

// List retrieves live tenants ordered by creation time
func (r *TenantRepository) List(ctx context.Context) ([]*models.Tenant, error) {
	r.s.mu.RLock()
	out := make([]*models.Tenant, 0, len(r.s.tenants))
	for _, t := range r.s.tenants {
		if !t.IsDeleted() {
			out = append(out, t.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Update stores tenant if the stored version equals expectedVersion
func (r *TenantRepository) Update(ctx context.Context, tenant *models.Tenant, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.tenants[tenant.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	put(journalFor(ctx), r.s.tenants, tenant.ID, tenant.Clone())
	return nil
}

// AppRepository implements repositories.AppRepository
type AppRepository struct {
	s *Store
}

// Create inserts a new app
func (r *AppRepository) Create(ctx context.Context, app *models.App) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.apps[app.ID]; ok {
		return repositories.ErrDuplicate
	}
	for _, a := range r.s.apps {
		if a.TenantID == app.TenantID && a.Name == app.Name {
			return repositories.ErrDuplicate
		}
	}
	put(journalFor(ctx), r.s.apps, app.ID, app.Clone())
	return nil
}

// GetByID retrieves an app by ID
func (r *AppRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.App, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.apps[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return a.Clone(), nil
}

// GetByAPIKeyHash retrieves an app by API key hash
func (r *AppRepository) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*models.App, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.apps {
		if a.APIKeyHash == apiKeyHash {
			return a.Clone(), nil
		}
	}
	return nil, repositories.ErrNotFound
}

// ListByTenant retrieves all apps of a tenant ordered by creation time
func (r *AppRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.App, error) {
	r.s.mu.RLock()
	out := make([]*models.App, 0)
	for _, a := range r.s.apps {
		if a.TenantID == tenantID {
			out = append(out, a.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Update stores app if the stored version equals expectedVersion
func (r *AppRepository) Update(ctx context.Context, app *models.App, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.apps[app.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	for _, a := range r.s.apps {
		if a.ID != app.ID && a.TenantID == app.TenantID && a.Name == app.Name {
			return repositories.ErrDuplicate
		}
	}
	put(journalFor(ctx), r.s.apps, app.ID, app.Clone())
	return nil
}
