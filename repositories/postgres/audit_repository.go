package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `id, entity_type, entity_id, entity_version, event_type, tenant_id, actor, request_id, before, after, outcome, created_at`

// Insert appends a ledger entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.EntityType,
		log.EntityID,
		log.EntityVersion,
		log.Action,
		log.TenantID,
		log.Actor,
		log.RequestID,
		nullJSON(log.Before),
		nullJSON(log.After),
		log.Outcome,
		log.Timestamp,
	)
	if err != nil {
		return mapWriteError(err, "failed to insert audit log")
	}

	r.logger.Debug("audit log inserted",
		zap.String("event_type", string(log.Action)),
		zap.String("entity_id", log.EntityID.String()),
		zap.Int64("entity_version", log.EntityVersion))
	return nil
}

// List retrieves entries matching filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TenantID != nil {
		conditions = append(conditions, "tenant_id = "+arg(*filter.TenantID))
	}
	if filter.EntityID != nil {
		conditions = append(conditions, "entity_id = "+arg(*filter.EntityID))
	}
	if filter.EventType != "" {
		conditions = append(conditions, fmt.Sprintf("(event_type = %s OR event_type LIKE %s)",
			arg(filter.EventType), arg(escapeLike(filter.EventType)+".%")))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "created_at <= "+arg(filter.Until))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, entity_version DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	return r.queryAuditLogs(ctx, query, args...)
}

// ListByEntity retrieves the entries of one entity ascending by version
func (r *AuditRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE entity_id = $1
		ORDER BY entity_version ASC
	`
	return r.queryAuditLogs(ctx, query, entityID)
}

// queryAuditLogs is a helper function to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var requestID *string
		var before, after []byte
		err := rows.Scan(
			&log.ID,
			&log.EntityType,
			&log.EntityID,
			&log.EntityVersion,
			&log.Action,
			&log.TenantID,
			&log.Actor,
			&requestID,
			&before,
			&after,
			&log.Outcome,
			&log.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if requestID != nil {
			log.RequestID = *requestID
		}
		log.Before = before
		log.After = after
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// CapabilityRepository implements the repositories.CapabilityRepository interface
type CapabilityRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCapabilityRepository creates a new capability repository
func NewCapabilityRepository(db *DB, logger *zap.Logger) repositories.CapabilityRepository {
	return &CapabilityRepository{
		db:     db,
		logger: logger,
	}
}

const capabilityColumns = `id, name, description, tags, version, created_at`

// Create creates a new capability
func (r *CapabilityRepository) Create(ctx context.Context, capability *models.Capability) error {
	query := `
		INSERT INTO capabilities (` + capabilityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	tags, err := toJSON(models.NormalizeTags(capability.Tags))
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		capability.ID,
		capability.Name,
		capability.Description,
		tags,
		capability.Version,
		capability.CreatedAt,
	)
	if err != nil {
		return mapWriteError(err, "failed to create capability")
	}

	r.logger.Debug("capability created", zap.String("name", capability.Name))
	return nil
}

// GetByName retrieves a capability by name
func (r *CapabilityRepository) GetByName(ctx context.Context, name string) (*models.Capability, error) {
	query := `SELECT ` + capabilityColumns + ` FROM capabilities WHERE name = $1`

	executor := GetExecutor(ctx, r.db)
	capability, err := scanCapability(executor.QueryRowContext(ctx, query, name))
	if err != nil {
		return nil, mapReadError(err, "capability", name)
	}
	return capability, nil
}

// List retrieves capabilities carrying tag ordered by name
func (r *CapabilityRepository) List(ctx context.Context, tag string) ([]*models.Capability, error) {
	query := `SELECT ` + capabilityColumns + ` FROM capabilities`
	var args []interface{}
	if tag != "" {
		query += ` WHERE tags ? $1`
		args = append(args, tag)
	}
	query += ` ORDER BY name ASC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query capabilities: %w", err)
	}
	defer rows.Close()

	var capabilities []*models.Capability
	for rows.Next() {
		capability, err := scanCapability(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		capabilities = append(capabilities, capability)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capabilities: %w", err)
	}
	return capabilities, nil
}

func scanCapability(row rowScanner) (*models.Capability, error) {
	capability := &models.Capability{}
	var tags []byte
	err := row.Scan(
		&capability.ID,
		&capability.Name,
		&capability.Description,
		&tags,
		&capability.Version,
		&capability.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	capability.Tags = []string{}
	if err := fromJSON(tags, &capability.Tags); err != nil {
		return nil, err
	}
	return capability, nil
}
