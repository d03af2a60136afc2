package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the event type recorded for a mutation
type AuditAction string

const (
	AuditActionTenantCreated AuditAction = "tenant.created"
	AuditActionTenantDeleted AuditAction = "tenant.deleted"

	AuditActionAppCreated    AuditAction = "app.created"
	AuditActionAppUpdated    AuditAction = "app.updated"
	AuditActionAppKeyRotated AuditAction = "app.key_rotated"
	AuditActionAppRevoked    AuditAction = "app.revoked"

	AuditActionTemplateCreated AuditAction = "rule_template.created"
	AuditActionTemplateUpdated AuditAction = "rule_template.updated"
	AuditActionTemplateDeleted AuditAction = "rule_template.deleted"

	AuditActionTenantRuleCreated AuditAction = "tenant_rule.created"
	AuditActionTenantRuleUpdated AuditAction = "tenant_rule.updated"
	AuditActionTenantRuleDeleted AuditAction = "tenant_rule.deleted"

	AuditActionPolicyCreated      AuditAction = "policy.created"
	AuditActionPolicyUpdated      AuditAction = "policy.updated"
	AuditActionPolicyArchived     AuditAction = "policy.archived"
	AuditActionPolicyRuleAttached AuditAction = "policy.rule_attached"
	AuditActionPolicyRuleDetached AuditAction = "policy.rule_detached"

	AuditActionCapabilityCreated AuditAction = "capability.created"
)

// Category returns the part of the event type before the first dot
func (a AuditAction) Category() string {
	if i := strings.IndexByte(string(a), '.'); i >= 0 {
		return string(a[:i])
	}
	return string(a)
}

// MatchesFilter reports whether the action equals filter or falls
// under the filter's category
func (a AuditAction) MatchesFilter(filter string) bool {
	if filter == "" {
		return true
	}
	return string(a) == filter || strings.HasPrefix(string(a), filter+".")
}

// Audited entity types
const (
	EntityTenant       = "tenant"
	EntityApp          = "app"
	EntityRuleTemplate = "rule_template"
	EntityTenantRule   = "tenant_rule"
	EntityPolicy       = "policy"
	EntityCapability   = "capability"
)

// AuditOutcomeSuccess is recorded for committed mutations
const AuditOutcomeSuccess = "success"

// AuditLog is one append-only ledger entry, unique on (EntityID, EntityVersion)
type AuditLog struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	EntityType    string          `json:"entity_type" db:"entity_type"`
	EntityID      uuid.UUID       `json:"entity_id" db:"entity_id"`
	EntityVersion int64           `json:"entity_version" db:"entity_version"`
	Action        AuditAction     `json:"event_type" db:"event_type"`
	TenantID      *uuid.UUID      `json:"tenant_id,omitempty" db:"tenant_id"` // Null for global entities
	Actor         string          `json:"actor" db:"actor"`
	RequestID     string          `json:"request_id,omitempty" db:"request_id"`
	Before        json.RawMessage `json:"before,omitempty" db:"before"` // JSONB
	After         json.RawMessage `json:"after,omitempty" db:"after"`   // JSONB
	Outcome       string          `json:"outcome" db:"outcome"`
	Timestamp     time.Time       `json:"timestamp" db:"created_at"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a successful ledger entry for one entity version
func NewAuditLog(action AuditAction, entityType string, entityID uuid.UUID, entityVersion int64) *AuditLog {
	return &AuditLog{
		ID:            uuid.New(),
		EntityType:    entityType,
		EntityID:      entityID,
		EntityVersion: entityVersion,
		Action:        action,
		Outcome:       AuditOutcomeSuccess,
		Timestamp:     time.Now().UTC(),
	}
}

// WithTenant sets the owning tenant
func (a *AuditLog) WithTenant(tenantID uuid.UUID) *AuditLog {
	a.TenantID = &tenantID
	return a
}

// WithActor sets who performed the mutation
func (a *AuditLog) WithActor(actor string) *AuditLog {
	a.Actor = actor
	return a
}

// WithBefore sets the snapshot taken before the mutation
func (a *AuditLog) WithBefore(before interface{}) *AuditLog {
	a.Before = marshalSnapshot(before)
	return a
}

// WithAfter sets the snapshot taken after the mutation
func (a *AuditLog) WithAfter(after interface{}) *AuditLog {
	a.After = marshalSnapshot(after)
	return a
}

func marshalSnapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil
	}
	return data
}
