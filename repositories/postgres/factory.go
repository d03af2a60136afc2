package postgres

import (
	"context"

	"github.com/upb/guardrails-control-plane/backend/config"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositoryFactoryFromDB wraps an existing connection pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// InitSchema creates tables and indexes if they do not exist
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx)
}

// NewRepositories creates all repository instances. The audit ledger shares
// the main database so ledger appends commit with the mutation they record.
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Tenants:       NewTenantRepository(f.db, f.logger),
		Apps:          NewAppRepository(f.db, f.logger),
		Templates:     NewRuleTemplateRepository(f.db, f.logger),
		TenantRules:   NewTenantRuleRepository(f.db, f.logger),
		Policies:      NewPolicyRepository(f.db, f.logger),
		PolicyHistory: NewPolicyHistoryRepository(f.db, f.logger),
		Capabilities:  NewCapabilityRepository(f.db, f.logger),
		AuditLogs:     NewAuditRepository(f.db, f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
