package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/guardrails-control-plane/backend/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()
	
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Tenants table
		CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMPTZ
		);

		-- Apps table
		CREATE TABLE IF NOT EXISTS apps (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id),
			name VARCHAR(255) NOT NULL,
			quota_per_hr BIGINT NOT NULL CHECK (quota_per_hr > 0),
			api_key_hash VARCHAR(255) NOT NULL UNIQUE,
			key_prefix VARCHAR(32) NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT false,
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(tenant_id, name)
		);

		-- Rule templates table
		CREATE TABLE IF NOT EXISTS rule_templates (
			id UUID PRIMARY KEY,
			jurisdiction VARCHAR(100) NOT NULL,
			regulation VARCHAR(100) NOT NULL,
			vendor VARCHAR(100) NOT NULL,
			product VARCHAR(100) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			decision VARCHAR(20) NOT NULL,
			tags JSONB NOT NULL DEFAULT '[]',
			description TEXT NOT NULL DEFAULT '',
			category VARCHAR(100) NOT NULL DEFAULT '',
			reference_links JSONB NOT NULL DEFAULT '[]',
			remediation TEXT NOT NULL DEFAULT '',
			is_system BOOLEAN NOT NULL DEFAULT false,
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMPTZ
		);

		-- Tenant rules table
		CREATE TABLE IF NOT EXISTS tenant_rules (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id),
			template_id UUID REFERENCES rule_templates(id),
			scope VARCHAR(20) NOT NULL,
			overrides JSONB NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMPTZ
		);

		-- Policies table, attachments kept inline so one row is one consistent snapshot
		CREATE TABLE IF NOT EXISTS policies (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id),
			app_id UUID REFERENCES apps(id),
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			attachments JSONB NOT NULL DEFAULT '[]',
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			archived_at TIMESTAMPTZ
		);

		-- Policy history table (append-only)
		CREATE TABLE IF NOT EXISTS policy_history (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES policies(id),
			tenant_id UUID NOT NULL,
			version BIGINT NOT NULL,
			change_type VARCHAR(30) NOT NULL,
			change_summary JSONB NOT NULL DEFAULT '[]',
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			attachments JSONB NOT NULL DEFAULT '[]',
			resolved JSONB NOT NULL DEFAULT '[]',
			actor VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(policy_id, version)
		);

		-- Capabilities table
		CREATE TABLE IF NOT EXISTS capabilities (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			tags JSONB NOT NULL DEFAULT '[]',
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	` + auditSchema + `
		-- Indexes for performance
		CREATE UNIQUE INDEX IF NOT EXISTS uq_tenants_live_name ON tenants(name) WHERE deleted_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_apps_tenant_id ON apps(tenant_id);

		CREATE INDEX IF NOT EXISTS idx_rule_templates_identity ON rule_templates(jurisdiction, regulation, vendor, product);
		CREATE INDEX IF NOT EXISTS idx_rule_templates_tags ON rule_templates USING GIN (tags);

		CREATE INDEX IF NOT EXISTS idx_tenant_rules_tenant_id ON tenant_rules(tenant_id);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_tenant_rules_live_override
			ON tenant_rules(tenant_id, template_id) WHERE deleted_at IS NULL AND template_id IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_policies_tenant_id ON policies(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_policies_attachments ON policies USING GIN (attachments jsonb_path_ops);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_policies_live_name ON policies(tenant_id, name) WHERE status <> 'archived';

		CREATE INDEX IF NOT EXISTS idx_policy_history_tenant ON policy_history(tenant_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_capabilities_tags ON capabilities USING GIN (tags);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// auditSchema is the append-only ledger. (entity_id, entity_version) is the
// ledger key, so a retried mutation can never be recorded twice.
const auditSchema = `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			entity_type VARCHAR(50) NOT NULL,
			entity_id UUID NOT NULL,
			entity_version BIGINT NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			tenant_id UUID,
			actor VARCHAR(255) NOT NULL,
			request_id VARCHAR(255),
			before JSONB,
			after JSONB,
			outcome VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(entity_id, entity_version)
		);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant_id ON audit_logs(tenant_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC);
`
