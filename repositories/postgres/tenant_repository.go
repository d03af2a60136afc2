package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"go.uber.org/zap"
)

// TenantRepository implements the repositories.TenantRepository interface
type TenantRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB, logger *zap.Logger) repositories.TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

const tenantColumns = `id, name, version, created_at, updated_at, deleted_at`

// Create creates a new tenant
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, version, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.Version,
		tenant.CreatedAt,
		tenant.UpdatedAt,
		tenant.DeletedAt,
	)
	if err != nil {
		return mapWriteError(err, "failed to create tenant")
	}

	r.logger.Debug("tenant created", zap.String("id", tenant.ID.String()))
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	tenant, err := scanTenant(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "tenant", id)
	}
	return tenant, nil
}

// GetByName retrieves a live tenant by name
func (r *TenantRepository) GetByName(ctx context.Context, name string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE name = $1 AND deleted_at IS NULL`

	executor := GetExecutor(ctx, r.db)
	tenant, err := scanTenant(executor.QueryRowContext(ctx, query, name))
	if err != nil {
		return nil, mapReadError(err, "tenant", name)
	}
	return tenant, nil
}

// List retrieves live tenants ordered by creation time
func (r *TenantRepository) List(ctx context.Context) ([]*models.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

// Update stores tenant if the stored version equals expectedVersion
func (r *TenantRepository) Update(ctx context.Context, tenant *models.Tenant, expectedVersion int64) error {
	query := `
		UPDATE tenants
		SET name = $2, version = $3, updated_at = $4, deleted_at = $5
		WHERE id = $1 AND version = $6
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.Version,
		tenant.UpdatedAt,
		tenant.DeletedAt,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "failed to update tenant")
	}
	if err := checkCAS(ctx, executor, result, "tenants", tenant.ID); err != nil {
		return err
	}

	r.logger.Debug("tenant updated", zap.String("id", tenant.ID.String()), zap.Int64("version", tenant.Version))
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Version,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
		&tenant.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// AppRepository implements the repositories.AppRepository interface
type AppRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAppRepository creates a new app repository
func NewAppRepository(db *DB, logger *zap.Logger) repositories.AppRepository {
	return &AppRepository{
		db:     db,
		logger: logger,
	}
}

const appColumns = `id, tenant_id, name, quota_per_hr, api_key_hash, key_prefix, revoked, version, created_at, updated_at`

// Create creates a new app
func (r *AppRepository) Create(ctx context.Context, app *models.App) error {
	query := `
		INSERT INTO apps (` + appColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		app.ID,
		app.TenantID,
		app.Name,
		app.QuotaPerHr,
		app.APIKeyHash,
		app.KeyPrefix,
		app.Revoked,
		app.Version,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "failed to create app")
	}

	r.logger.Debug("app created", zap.String("id", app.ID.String()))
	return nil
}

// GetByID retrieves an app by ID
func (r *AppRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	app, err := scanApp(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "app", id)
	}
	return app, nil
}

// GetByAPIKeyHash retrieves an app by API key hash
func (r *AppRepository) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*models.App, error) {
	query := `SELECT ` + appColumns + ` FROM apps WHERE api_key_hash = $1`

	executor := GetExecutor(ctx, r.db)
	app, err := scanApp(executor.QueryRowContext(ctx, query, apiKeyHash))
	if err != nil {
		return nil, mapReadError(err, "app", "by api key")
	}
	return app, nil
}

// ListByTenant retrieves all apps of a tenant ordered by creation time
func (r *AppRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.App, error) {
	query := `
		SELECT ` + appColumns + `
		FROM apps
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query apps: %w", err)
	}
	defer rows.Close()

	var apps []*models.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating apps: %w", err)
	}
	return apps, nil
}

// Update stores app if the stored version equals expectedVersion
func (r *AppRepository) Update(ctx context.Context, app *models.App, expectedVersion int64) error {
	query := `
		UPDATE apps
		SET name = $2, quota_per_hr = $3, api_key_hash = $4, key_prefix = $5,
			revoked = $6, version = $7, updated_at = $8
		WHERE id = $1 AND version = $9
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		app.ID,
		app.Name,
		app.QuotaPerHr,
		app.APIKeyHash,
		app.KeyPrefix,
		app.Revoked,
		app.Version,
		app.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "failed to update app")
	}
	if err := checkCAS(ctx, executor, result, "apps", app.ID); err != nil {
		return err
	}

	r.logger.Debug("app updated", zap.String("id", app.ID.String()), zap.Int64("version", app.Version))
	return nil
}

func scanApp(row rowScanner) (*models.App, error) {
	app := &models.App{}
	err := row.Scan(
		&app.ID,
		&app.TenantID,
		&app.Name,
		&app.QuotaPerHr,
		&app.APIKeyHash,
		&app.KeyPrefix,
		&app.Revoked,
		&app.Version,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return app, nil
}
