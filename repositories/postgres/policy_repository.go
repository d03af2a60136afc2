package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"go.uber.org/zap"
)

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

const policyColumns = `id, tenant_id, app_id, name, description, status, attachments, version, created_at, updated_at, archived_at`

// Create creates a new policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	attachments, err := toJSON(policy.Attachments)
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		policy.ID,
		policy.TenantID,
		policy.AppID,
		policy.Name,
		policy.Description,
		policy.Status,
		attachments,
		policy.Version,
		policy.CreatedAt,
		policy.UpdatedAt,
		policy.ArchivedAt,
	)
	if err != nil {
		return mapWriteError(err, "failed to create policy")
	}

	r.logger.Debug("policy created", zap.String("id", policy.ID.String()))
	return nil
}

// GetByID retrieves a policy by ID
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	policy, err := scanPolicy(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "policy", id)
	}
	return policy, nil
}

// ListByTenant retrieves the policies of a tenant ordered by creation time
func (r *PolicyRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, includeArchived bool) ([]*models.Policy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM policies
		WHERE tenant_id = $1 AND ($2 OR status <> 'archived')
		ORDER BY created_at ASC, id ASC
	`
	return r.queryPolicies(ctx, query, tenantID, includeArchived)
}

// ListReferencing retrieves non-archived policies attaching ref
func (r *PolicyRepository) ListReferencing(ctx context.Context, ref models.RuleRef) ([]*models.Policy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM policies
		WHERE status <> 'archived' AND attachments @> $1::jsonb
		ORDER BY created_at ASC, id ASC
	`

	contains, err := toJSON([]map[string]models.RuleRef{{"ref": ref}})
	if err != nil {
		return nil, err
	}
	return r.queryPolicies(ctx, query, contains)
}

// Update stores policy if the stored version equals expectedVersion
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy, expectedVersion int64) error {
	query := `
		UPDATE policies
		SET app_id = $2, name = $3, description = $4, status = $5, attachments = $6,
			version = $7, updated_at = $8, archived_at = $9
		WHERE id = $1 AND version = $10
	`

	attachments, err := toJSON(policy.Attachments)
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.AppID,
		policy.Name,
		policy.Description,
		policy.Status,
		attachments,
		policy.Version,
		policy.UpdatedAt,
		policy.ArchivedAt,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "failed to update policy")
	}
	if err := checkCAS(ctx, executor, result, "policies", policy.ID); err != nil {
		return err
	}

	r.logger.Debug("policy updated", zap.String("id", policy.ID.String()), zap.Int64("version", policy.Version))
	return nil
}

// queryPolicies is a helper function to query multiple policies
func (r *PolicyRepository) queryPolicies(ctx context.Context, query string, args ...interface{}) ([]*models.Policy, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.Policy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policies: %w", err)
	}
	return policies, nil
}

func scanPolicy(row rowScanner) (*models.Policy, error) {
	policy := &models.Policy{}
	var attachments []byte
	err := row.Scan(
		&policy.ID,
		&policy.TenantID,
		&policy.AppID,
		&policy.Name,
		&policy.Description,
		&policy.Status,
		&attachments,
		&policy.Version,
		&policy.CreatedAt,
		&policy.UpdatedAt,
		&policy.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	policy.Attachments = []models.RuleAttachment{}
	if err := fromJSON(attachments, &policy.Attachments); err != nil {
		return nil, err
	}
	return policy, nil
}

// PolicyHistoryRepository implements the repositories.PolicyHistoryRepository interface
type PolicyHistoryRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyHistoryRepository creates a new policy history repository
func NewPolicyHistoryRepository(db *DB, logger *zap.Logger) repositories.PolicyHistoryRepository {
	return &PolicyHistoryRepository{
		db:     db,
		logger: logger,
	}
}

const historyColumns = `id, policy_id, tenant_id, version, change_type, change_summary, name, status, attachments, resolved, actor, created_at`

// Append adds an entry to the policy history
func (r *PolicyHistoryRepository) Append(ctx context.Context, entry *models.PolicyHistoryEntry) error {
	query := `
		INSERT INTO policy_history (` + historyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	summary, err := toJSON(nonNil(entry.ChangeSummary))
	if err != nil {
		return err
	}
	attachments, err := toJSON(entry.Attachments)
	if err != nil {
		return err
	}
	resolved, err := toJSON(entry.Resolved)
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		entry.ID,
		entry.PolicyID,
		entry.TenantID,
		entry.Version,
		entry.ChangeType,
		summary,
		entry.Name,
		entry.Status,
		attachments,
		resolved,
		entry.Actor,
		entry.CreatedAt,
	)
	if err != nil {
		return mapWriteError(err, "failed to append policy history")
	}

	r.logger.Debug("policy history appended",
		zap.String("policy_id", entry.PolicyID.String()),
		zap.Int64("version", entry.Version))
	return nil
}

// GetVersion retrieves the entry of one policy version
func (r *PolicyHistoryRepository) GetVersion(ctx context.Context, policyID uuid.UUID, version int64) (*models.PolicyHistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM policy_history WHERE policy_id = $1 AND version = $2`

	executor := GetExecutor(ctx, r.db)
	entry, err := scanHistory(executor.QueryRowContext(ctx, query, policyID, version))
	if err != nil {
		return nil, mapReadError(err, "policy history", fmt.Sprintf("%s@%d", policyID, version))
	}
	return entry, nil
}

// GetLatest retrieves the newest entry of a policy
func (r *PolicyHistoryRepository) GetLatest(ctx context.Context, policyID uuid.UUID) (*models.PolicyHistoryEntry, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM policy_history
		WHERE policy_id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	entry, err := scanHistory(executor.QueryRowContext(ctx, query, policyID))
	if err != nil {
		return nil, mapReadError(err, "policy history", policyID)
	}
	return entry, nil
}

// ListByPolicy retrieves the entries of a policy ascending by version
func (r *PolicyHistoryRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyHistoryEntry, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM policy_history
		WHERE policy_id = $1
		ORDER BY version ASC
	`
	return r.queryHistory(ctx, query, policyID)
}

// ListByTenant retrieves the entries of a tenant newest first
func (r *PolicyHistoryRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.PolicyHistoryEntry, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM policy_history
		WHERE tenant_id = $1
		ORDER BY created_at DESC, policy_id ASC, version DESC
		LIMIT $2
	`
	return r.queryHistory(ctx, query, tenantID, limit)
}

func (r *PolicyHistoryRepository) queryHistory(ctx context.Context, query string, args ...interface{}) ([]*models.PolicyHistoryEntry, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy history: %w", err)
	}
	defer rows.Close()

	var entries []*models.PolicyHistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy history: %w", err)
	}
	return entries, nil
}

func scanHistory(row rowScanner) (*models.PolicyHistoryEntry, error) {
	entry := &models.PolicyHistoryEntry{}
	var summary, attachments, resolved []byte
	err := row.Scan(
		&entry.ID,
		&entry.PolicyID,
		&entry.TenantID,
		&entry.Version,
		&entry.ChangeType,
		&summary,
		&entry.Name,
		&entry.Status,
		&attachments,
		&resolved,
		&entry.Actor,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.ChangeSummary = []string{}
	entry.Attachments = []models.RuleAttachment{}
	entry.Resolved = []models.ResolvedRule{}
	if err := fromJSON(summary, &entry.ChangeSummary); err != nil {
		return nil, err
	}
	if err := fromJSON(attachments, &entry.Attachments); err != nil {
		return nil, err
	}
	if err := fromJSON(resolved, &entry.Resolved); err != nil {
		return nil, err
	}
	return entry, nil
}
