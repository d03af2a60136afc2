// Package memory implements the repository contracts over an in-process
// arena of immutable records. Every write replaces a record pointer with a
// fresh copy, so readers holding an old pointer never observe a torn value.
package memory

import (
	"sync"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"go.uber.org/zap"
)

type auditKey struct {
	entityID uuid.UUID
	version  int64
}

// Store holds every entity kind behind a single lock
type Store struct {
	mu sync.RWMutex

	tenants      map[uuid.UUID]*models.Tenant
	apps         map[uuid.UUID]*models.App
	templates    map[uuid.UUID]*models.RuleTemplate
	tenantRules  map[uuid.UUID]*models.TenantRule
	policies     map[uuid.UUID]*models.Policy
	history      map[uuid.UUID][]*models.PolicyHistoryEntry
	capabilities map[uuid.UUID]*models.Capability
	audit        []*models.AuditLog
	auditKeys    map[auditKey]struct{}

	// Row locks are taken outside mu and held until a transaction ends
	locks rowLocks

	logger *zap.Logger
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		tenants:      make(map[uuid.UUID]*models.Tenant),
		apps:         make(map[uuid.UUID]*models.App),
		templates:    make(map[uuid.UUID]*models.RuleTemplate),
		tenantRules:  make(map[uuid.UUID]*models.TenantRule),
		policies:     make(map[uuid.UUID]*models.Policy),
		history:      make(map[uuid.UUID][]*models.PolicyHistoryEntry),
		capabilities: make(map[uuid.UUID]*models.Capability),
		auditKeys:    make(map[auditKey]struct{}),
		logger:       logger,
	}
}

// NewRepositories returns every repository backed by this store
func (s *Store) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Tenants:       &TenantRepository{s: s},
		Apps:          &AppRepository{s: s},
		Templates:     &RuleTemplateRepository{s: s},
		TenantRules:   &TenantRuleRepository{s: s},
		Policies:      &PolicyRepository{s: s},
		PolicyHistory: &PolicyHistoryRepository{s: s},
		Capabilities:  &CapabilityRepository{s: s},
		AuditLogs:     &AuditRepository{s: s},
	}
}

// GetTransactionManager returns a transaction manager for this store
func (s *Store) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(s, s.logger)
}

// put replaces m[id] with next and journals the inverse write. Must be
// called with s.mu held for writing.
func put[T any](j *txHandle, m map[uuid.UUID]*T, id uuid.UUID, next *T) {
	prev, existed := m[id]
	m[id] = next
	j.record(func() {
		// Only undo if nobody has written over us since.
		if m[id] != next {
			return
		}
		if existed {
			m[id] = prev
		} else {
			delete(m, id)
		}
	})
}
