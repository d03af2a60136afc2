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

// RuleTemplateRepository implements the repositories.RuleTemplateRepository interface
type RuleTemplateRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRuleTemplateRepository creates a new rule template repository
func NewRuleTemplateRepository(db *DB, logger *zap.Logger) repositories.RuleTemplateRepository {
	return &RuleTemplateRepository{
		db:     db,
		logger: logger,
	}
}

const templateColumns = `id, jurisdiction, regulation, vendor, product, severity, decision, tags,
	description, category, reference_links, remediation, is_system, version, created_at, updated_at, deleted_at`

// Create creates a new rule template
func (r *RuleTemplateRepository) Create(ctx context.Context, template *models.RuleTemplate) error {
	query := `
		INSERT INTO rule_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	tags, err := toJSON(models.NormalizeTags(template.Tags))
	if err != nil {
		return err
	}
	refs, err := toJSON(nonNil(template.References))
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		template.ID,
		template.Jurisdiction,
		template.Regulation,
		template.Vendor,
		template.Product,
		template.Severity,
		template.Decision,
		tags,
		template.Description,
		template.Category,
		refs,
		template.Remediation,
		template.IsSystem,
		template.Version,
		template.CreatedAt,
		template.UpdatedAt,
		template.DeletedAt,
	)
	if err != nil {
		return mapWriteError(err, "failed to create rule template")
	}

	r.logger.Debug("rule template created", zap.String("id", template.ID.String()))
	return nil
}

// GetByID retrieves a rule template by ID
func (r *RuleTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RuleTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM rule_templates WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	template, err := scanTemplate(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "rule template", id)
	}
	return template, nil
}

// Lock retrieves a rule template and locks its row for the enclosing transaction
func (r *RuleTemplateRepository) Lock(ctx context.Context, id uuid.UUID, mode repositories.LockMode) (*models.RuleTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM rule_templates WHERE id = $1` + lockClause(mode)

	executor := GetExecutor(ctx, r.db)
	template, err := scanTemplate(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "rule template", id)
	}
	return template, nil
}

// List retrieves live templates matching filter ordered by rule identity
func (r *RuleTemplateRepository) List(ctx context.Context, filter models.RuleFilter) ([]*models.RuleTemplate, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}
	add := func(column string, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("jurisdiction", filter.Jurisdiction)
	add("regulation", filter.Regulation)
	add("vendor", filter.Vendor)
	add("product", filter.Product)
	add("severity", string(filter.Severity))
	add("decision", string(filter.Decision))
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements_text(tags) AS t(tag) WHERE strpos(t.tag, $%d) > 0)", len(args)))
	}

	query := `
		SELECT ` + templateColumns + `
		FROM rule_templates
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY jurisdiction, regulation, vendor, product, id
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.RuleTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule template: %w", err)
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule templates: %w", err)
	}
	return templates, nil
}

// Update stores template if the stored version equals expectedVersion
func (r *RuleTemplateRepository) Update(ctx context.Context, template *models.RuleTemplate, expectedVersion int64) error {
	query := `
		UPDATE rule_templates
		SET jurisdiction = $2, regulation = $3, vendor = $4, product = $5, severity = $6,
			decision = $7, tags = $8, description = $9, category = $10, reference_links = $11,
			remediation = $12, is_system = $13, version = $14, updated_at = $15, deleted_at = $16
		WHERE id = $1 AND version = $17
	`

	tags, err := toJSON(models.NormalizeTags(template.Tags))
	if err != nil {
		return err
	}
	refs, err := toJSON(nonNil(template.References))
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		template.ID,
		template.Jurisdiction,
		template.Regulation,
		template.Vendor,
		template.Product,
		template.Severity,
		template.Decision,
		tags,
		template.Description,
		template.Category,
		refs,
		template.Remediation,
		template.IsSystem,
		template.Version,
		template.UpdatedAt,
		template.DeletedAt,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "failed to update rule template")
	}
	if err := checkCAS(ctx, executor, result, "rule_templates", template.ID); err != nil {
		return err
	}

	r.logger.Debug("rule template updated", zap.String("id", template.ID.String()), zap.Int64("version", template.Version))
	return nil
}

func scanTemplate(row rowScanner) (*models.RuleTemplate, error) {
	template := &models.RuleTemplate{}
	var tags, refs []byte
	err := row.Scan(
		&template.ID,
		&template.Jurisdiction,
		&template.Regulation,
		&template.Vendor,
		&template.Product,
		&template.Severity,
		&template.Decision,
		&tags,
		&template.Description,
		&template.Category,
		&refs,
		&template.Remediation,
		&template.IsSystem,
		&template.Version,
		&template.CreatedAt,
		&template.UpdatedAt,
		&template.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	template.Tags = []string{}
	if err := fromJSON(tags, &template.Tags); err != nil {
		return nil, err
	}
	if err := fromJSON(refs, &template.References); err != nil {
		return nil, err
	}
	return template, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// TenantRuleRepository implements the repositories.TenantRuleRepository interface
type TenantRuleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTenantRuleRepository creates a new tenant rule repository
func NewTenantRuleRepository(db *DB, logger *zap.Logger) repositories.TenantRuleRepository {
	return &TenantRuleRepository{
		db:     db,
		logger: logger,
	}
}

const tenantRuleColumns = `id, tenant_id, template_id, scope, overrides, version, created_at, updated_at, deleted_at`

// Create creates a new tenant rule
func (r *TenantRuleRepository) Create(ctx context.Context, rule *models.TenantRule) error {
	query := `
		INSERT INTO tenant_rules (` + tenantRuleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	overrides, err := toJSON(rule.Overrides)
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		rule.ID,
		rule.TenantID,
		rule.TemplateID,
		rule.Scope,
		overrides,
		rule.Version,
		rule.CreatedAt,
		rule.UpdatedAt,
		rule.DeletedAt,
	)
	if err != nil {
		return mapWriteError(err, "failed to create tenant rule")
	}

	r.logger.Debug("tenant rule created", zap.String("id", rule.ID.String()))
	return nil
}

// GetByID retrieves a tenant rule by ID
func (r *TenantRuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TenantRule, error) {
	query := `SELECT ` + tenantRuleColumns + ` FROM tenant_rules WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	rule, err := scanTenantRule(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "tenant rule", id)
	}
	return rule, nil
}

// Lock retrieves a tenant rule and locks its row for the enclosing transaction
func (r *TenantRuleRepository) Lock(ctx context.Context, id uuid.UUID, mode repositories.LockMode) (*models.TenantRule, error) {
	query := `SELECT ` + tenantRuleColumns + ` FROM tenant_rules WHERE id = $1` + lockClause(mode)

	executor := GetExecutor(ctx, r.db)
	rule, err := scanTenantRule(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapReadError(err, "tenant rule", id)
	}
	return rule, nil
}

// GetOverride retrieves the live override of templateID within a tenant
func (r *TenantRuleRepository) GetOverride(ctx context.Context, tenantID, templateID uuid.UUID) (*models.TenantRule, error) {
	query := `
		SELECT ` + tenantRuleColumns + `
		FROM tenant_rules
		WHERE tenant_id = $1 AND template_id = $2 AND deleted_at IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	rule, err := scanTenantRule(executor.QueryRowContext(ctx, query, tenantID, templateID))
	if err != nil {
		return nil, mapReadError(err, "tenant rule override", templateID)
	}
	return rule, nil
}

// ListByTenant retrieves the live rules of a tenant ordered by creation time
func (r *TenantRuleRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantRule, error) {
	query := `
		SELECT ` + tenantRuleColumns + `
		FROM tenant_rules
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
	`
	return r.queryTenantRules(ctx, query, tenantID)
}

// ListByTemplate retrieves live rules of any tenant that override templateID
func (r *TenantRuleRepository) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*models.TenantRule, error) {
	query := `
		SELECT ` + tenantRuleColumns + `
		FROM tenant_rules
		WHERE template_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
	`
	return r.queryTenantRules(ctx, query, templateID)
}

// Update stores rule if the stored version equals expectedVersion
func (r *TenantRuleRepository) Update(ctx context.Context, rule *models.TenantRule, expectedVersion int64) error {
	query := `
		UPDATE tenant_rules
		SET template_id = $2, scope = $3, overrides = $4, version = $5, updated_at = $6, deleted_at = $7
		WHERE id = $1 AND version = $8
	`

	overrides, err := toJSON(rule.Overrides)
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		rule.ID,
		rule.TemplateID,
		rule.Scope,
		overrides,
		rule.Version,
		rule.UpdatedAt,
		rule.DeletedAt,
		expectedVersion,
	)
	if err != nil {
		return mapWriteError(err, "failed to update tenant rule")
	}
	if err := checkCAS(ctx, executor, result, "tenant_rules", rule.ID); err != nil {
		return err
	}

	r.logger.Debug("tenant rule updated", zap.String("id", rule.ID.String()), zap.Int64("version", rule.Version))
	return nil
}

func (r *TenantRuleRepository) queryTenantRules(ctx context.Context, query string, args ...interface{}) ([]*models.TenantRule, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.TenantRule
	for rows.Next() {
		rule, err := scanTenantRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant rules: %w", err)
	}
	return rules, nil
}

func scanTenantRule(row rowScanner) (*models.TenantRule, error) {
	rule := &models.TenantRule{}
	var overrides []byte
	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&rule.TemplateID,
		&rule.Scope,
		&overrides,
		&rule.Version,
		&rule.CreatedAt,
		&rule.UpdatedAt,
		&rule.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := fromJSON(overrides, &rule.Overrides); err != nil {
		return nil, err
	}
	return rule, nil
}
