package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
)

// Sentinel errors returned by every repository implementation
var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a compare-and-swap update finds a
	// version other than the expected one
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate is returned when a unique key is already taken
	ErrDuplicate = errors.New("duplicate record")
)

// LockMode selects how Lock holds a row until the transaction ends
type LockMode int

const (
	// LockShare keeps concurrent writers of the row out
	LockShare LockMode = iota
	// LockUpdate keeps every other locker of the row out
	LockUpdate
)

// TransactionManager manages transactions. Repositories join the
// transaction carried by the context passed to them.
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a unit of work
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns a context carrying the transaction
	Context() context.Context
}

// TenantRepository handles tenant data operations
type TenantRepository interface {
	// Create inserts a new tenant, ErrDuplicate if the name is taken by a live tenant
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant by ID, including tombstoned ones
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// GetByName retrieves a live tenant by name
	GetByName(ctx context.Context, name string) (*models.Tenant, error)

	// List retrieves live tenants ordered by creation time
	List(ctx context.Context) ([]*models.Tenant, error)

	// Update stores tenant if the stored version equals expectedVersion
	Update(ctx context.Context, tenant *models.Tenant, expectedVersion int64) error
}

// AppRepository handles app data operations
type AppRepository interface {
	// Create inserts a new app, ErrDuplicate if the name is taken in the tenant
	Create(ctx context.Context, app *models.App) error

	// GetByID retrieves an app by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.App, error)

	// GetByAPIKeyHash retrieves an app by API key hash
	GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*models.App, error)

	// ListByTenant retrieves all apps of a tenant ordered by creation time
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.App, error)

	// Update stores app if the stored version equals expectedVersion
	Update(ctx context.Context, app *models.App, expectedVersion int64) error
}

// RuleTemplateRepository handles rule template data operations
type RuleTemplateRepository interface {
	// Create inserts a new template
	Create(ctx context.Context, template *models.RuleTemplate) error

	// GetByID retrieves a template by ID, including tombstoned ones
	GetByID(ctx context.Context, id uuid.UUID) (*models.RuleTemplate, error)

	// Lock retrieves a template like GetByID and locks its row until the
	// transaction carried by ctx ends
	Lock(ctx context.Context, id uuid.UUID, mode LockMode) (*models.RuleTemplate, error)

	// List retrieves live templates matching filter
	List(ctx context.Context, filter models.RuleFilter) ([]*models.RuleTemplate, error)

	// Update stores template if the stored version equals expectedVersion
	Update(ctx context.Context, template *models.RuleTemplate, expectedVersion int64) error
}

// TenantRuleRepository handles tenant rule data operations
type TenantRuleRepository interface {
	// Create inserts a new tenant rule
	Create(ctx context.Context, rule *models.TenantRule) error

	// GetByID retrieves a tenant rule by ID, including tombstoned ones
	GetByID(ctx context.Context, id uuid.UUID) (*models.TenantRule, error)

	// Lock retrieves a tenant rule like GetByID and locks its row until the
	// transaction carried by ctx ends
	Lock(ctx context.Context, id uuid.UUID, mode LockMode) (*models.TenantRule, error)

	// GetOverride retrieves the live override of templateID within a tenant
	GetOverride(ctx context.Context, tenantID, templateID uuid.UUID) (*models.TenantRule, error)

	// ListByTenant retrieves the live rules of a tenant ordered by creation time
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantRule, error)

	// ListByTemplate retrieves live rules of any tenant that override templateID
	ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*models.TenantRule, error)

	// Update stores rule if the stored version equals expectedVersion
	Update(ctx context.Context, rule *models.TenantRule, expectedVersion int64) error
}

// PolicyRepository handles policy data operations
type PolicyRepository interface {
	// Create inserts a new policy, ErrDuplicate if a non-archived policy of
	// the tenant already uses the name
	Create(ctx context.Context, policy *models.Policy) error

	// GetByID retrieves a policy with its attachments as one consistent record
	GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error)

	// ListByTenant retrieves the policies of a tenant ordered by creation time
	ListByTenant(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]*models.Policy, error)

	// ListReferencing retrieves non-archived policies attaching ref
	ListReferencing(ctx context.Context, ref models.RuleRef) ([]*models.Policy, error)

	// Update stores policy if the stored version equals expectedVersion
	Update(ctx context.Context, policy *models.Policy, expectedVersion int64) error
}

// PolicyHistoryRepository handles the append-only policy history
type PolicyHistoryRepository interface {
	// Append adds an entry, ErrDuplicate if (policy id, version) already exists
	Append(ctx context.Context, entry *models.PolicyHistoryEntry) error

	// GetVersion retrieves the entry of one policy version
	GetVersion(ctx context.Context, policyID uuid.UUID, version int64) (*models.PolicyHistoryEntry, error)

	// GetLatest retrieves the newest entry of a policy
	GetLatest(ctx context.Context, policyID uuid.UUID) (*models.PolicyHistoryEntry, error)

	// ListByPolicy retrieves the entries of a policy ascending by version
	ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyHistoryEntry, error)

	// ListByTenant retrieves the entries of a tenant newest first
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.PolicyHistoryEntry, error)
}

// CapabilityRepository handles capability data operations
type CapabilityRepository interface {
	// Create inserts a capability, ErrDuplicate if the name is taken
	Create(ctx context.Context, capability *models.Capability) error

	// GetByName retrieves a capability by name
	GetByName(ctx context.Context, name string) (*models.Capability, error)

	// List retrieves capabilities carrying tag (all when empty) ordered by name
	List(ctx context.Context, tag string) ([]*models.Capability, error)
}

// AuditFilter narrows an audit query. Zero values mean "any".
type AuditFilter struct {
	TenantID  *uuid.UUID
	EntityID  *uuid.UUID
	EventType string // exact type or category prefix
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Matches reports whether entry satisfies the filter, ignoring Limit
func (f AuditFilter) Matches(entry *models.AuditLog) bool {
	if f.TenantID != nil && (entry.TenantID == nil || *entry.TenantID != *f.TenantID) {
		return false
	}
	if f.EntityID != nil && entry.EntityID != *f.EntityID {
		return false
	}
	if !entry.Action.MatchesFilter(f.EventType) {
		return false
	}
	if !f.Since.IsZero() && entry.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// AuditRepository handles the append-only audit ledger
type AuditRepository interface {
	// Insert appends an entry, ErrDuplicate if (entity id, version) already exists
	Insert(ctx context.Context, log *models.AuditLog) error

	// List retrieves entries matching filter, newest first
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error)

	// ListByEntity retrieves the entries of one entity ascending by version
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Tenants       TenantRepository
	Apps          AppRepository
	Templates     RuleTemplateRepository
	TenantRules   TenantRuleRepository
	Policies      PolicyRepository
	PolicyHistory PolicyHistoryRepository
	Capabilities  CapabilityRepository
	AuditLogs     AuditRepository
}
