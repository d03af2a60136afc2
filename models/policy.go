package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PolicyStatus represents the lifecycle state of a policy
type PolicyStatus string

const (
	PolicyStatusDraft    PolicyStatus = "draft"
	PolicyStatusActive   PolicyStatus = "active"
	PolicyStatusArchived PolicyStatus = "archived" // Terminal, only reachable through delete
)

// IsValid reports whether s is a known policy status
func (s PolicyStatus) IsValid() bool {
	switch s {
	case PolicyStatusDraft, PolicyStatusActive, PolicyStatusArchived:
		return true
	}
	return false
}

// RuleRefKind discriminates the RuleRef union
type RuleRefKind string

const (
	RuleRefTemplate   RuleRefKind = "template"
	RuleRefTenantRule RuleRefKind = "tenant_rule"
)

// IsValid reports whether k is a known rule reference kind
func (k RuleRefKind) IsValid() bool {
	return k == RuleRefTemplate || k == RuleRefTenantRule
}

// RuleRef points at either a RuleTemplate or a TenantRule
type RuleRef struct {
	Kind RuleRefKind `json:"kind"`
	ID   uuid.UUID   `json:"id"`
}

// TemplateRef builds a reference to a rule template
func TemplateRef(id uuid.UUID) RuleRef {
	return RuleRef{Kind: RuleRefTemplate, ID: id}
}

// TenantRuleRef builds a reference to a tenant rule
func TenantRuleRef(id uuid.UUID) RuleRef {
	return RuleRef{Kind: RuleRefTenantRule, ID: id}
}

func (r RuleRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// RuleAttachment records that a rule is attached to a policy
type RuleAttachment struct {
	Ref        RuleRef   `json:"ref"`
	AttachedAt time.Time `json:"attached_at"`
	AttachedBy string    `json:"attached_by"`
}

// Policy groups an ordered list of rule attachments for a tenant
type Policy struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	TenantID    uuid.UUID        `json:"tenant_id" db:"tenant_id"`
	AppID       *uuid.UUID       `json:"app_id,omitempty" db:"app_id"` // Null if tenant-wide
	Name        string           `json:"name" db:"name"`
	Description string           `json:"description" db:"description"`
	Status      PolicyStatus     `json:"status" db:"status"`
	Attachments []RuleAttachment `json:"attachments" db:"attachments"` // JSONB, insertion order
	Version     int64            `json:"version" db:"version"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
	ArchivedAt  *time.Time       `json:"archived_at,omitempty" db:"archived_at"`
}

// TableName returns the table name for the Policy model
func (Policy) TableName() string {
	return "policies"
}

// NewPolicy creates a new draft Policy at version 1 with no attachments
func NewPolicy(tenantID uuid.UUID, name, description string, appID *uuid.UUID) *Policy {
	now := time.Now().UTC()
	return &Policy{
		ID:          uuid.New(),
		TenantID:    tenantID,
		AppID:       appID,
		Name:        name,
		Description: description,
		Status:      PolicyStatusDraft,
		Attachments: []RuleAttachment{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsArchived reports whether the policy has been archived
func (p *Policy) IsArchived() bool {
	return p.Status == PolicyStatusArchived
}

// IndexOf returns the attachment position of ref, or -1
func (p *Policy) IndexOf(ref RuleRef) int {
	for i, a := range p.Attachments {
		if a.Ref == ref {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to mutate
func (p *Policy) Clone() *Policy {
	c := *p
	c.Attachments = append([]RuleAttachment{}, p.Attachments...)
	if p.AppID != nil {
		id := *p.AppID
		c.AppID = &id
	}
	if p.ArchivedAt != nil {
		t := *p.ArchivedAt
		c.ArchivedAt = &t
	}
	return &c
}
