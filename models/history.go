package models

import (
	"time"

	"github.com/google/uuid"
)

// FieldSource names the layer that supplied a resolved field value
type FieldSource string

const (
	FieldSourceTemplate       FieldSource = "template"
	FieldSourceTenantOverride FieldSource = "tenant_override"
	FieldSourceTenantRule     FieldSource = "tenant_rule"
)

// ResolvedRule is one effective rule after merge and de-duplication
type ResolvedRule struct {
	Identity RuleKey `json:"key"`
	RuleFields
	Strictness        int                    `json:"strictness"` // block=2, flag=1, allow=0
	Source            RuleRef                `json:"source"`
	AttachmentIndex   int                    `json:"attachment_index"`
	TemplateID        *uuid.UUID             `json:"template_id,omitempty"`
	TemplateVersion   int64                  `json:"template_version,omitempty"`
	TenantRuleID      *uuid.UUID             `json:"tenant_rule_id,omitempty"`
	TenantRuleVersion int64                  `json:"tenant_rule_version,omitempty"`
	Trace             map[string]FieldSource `json:"trace"`
	Superseded        []RuleRef              `json:"superseded,omitempty"`
}

// Clone returns a deep copy safe to mutate
func (r ResolvedRule) Clone() ResolvedRule {
	c := r
	c.RuleFields = r.RuleFields.Clone()
	if r.TemplateID != nil {
		id := *r.TemplateID
		c.TemplateID = &id
	}
	if r.TenantRuleID != nil {
		id := *r.TenantRuleID
		c.TenantRuleID = &id
	}
	if r.Trace != nil {
		c.Trace = make(map[string]FieldSource, len(r.Trace))
		for k, v := range r.Trace {
			c.Trace[k] = v
		}
	}
	c.Superseded = append([]RuleRef(nil), r.Superseded...)
	return c
}

// Resolution is the concrete rule set effective for one policy version
type Resolution struct {
	TenantID      uuid.UUID      `json:"tenant_id"`
	PolicyID      uuid.UUID      `json:"policy_id"`
	PolicyVersion int64          `json:"policy_version"`
	Status        PolicyStatus   `json:"status"`
	Rules         []ResolvedRule `json:"rules"`
	ResolvedAt    time.Time      `json:"resolved_at"`
	Replay        bool           `json:"replay"`
}

// StrictestDecision returns the strictest decision across the rule set,
// or allow for an empty set
func (r *Resolution) StrictestDecision() Decision {
	out := DecisionAllow
	for _, rule := range r.Rules {
		if rule.Decision.Strictness() > out.Strictness() {
			out = rule.Decision
		}
	}
	return out
}

// PolicyChangeType classifies the mutation that produced a history entry
type PolicyChangeType string

const (
	PolicyChangeCreated  PolicyChangeType = "created"
	PolicyChangeUpdated  PolicyChangeType = "updated"
	PolicyChangeAttached PolicyChangeType = "rule_attached"
	PolicyChangeDetached PolicyChangeType = "rule_detached"
	PolicyChangeArchived PolicyChangeType = "archived"
)

// PolicyHistoryEntry is an immutable snapshot of a policy at one version
type PolicyHistoryEntry struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	PolicyID      uuid.UUID        `json:"policy_id" db:"policy_id"`
	TenantID      uuid.UUID        `json:"tenant_id" db:"tenant_id"`
	Version       int64            `json:"version" db:"version"`
	ChangeType    PolicyChangeType `json:"change_type" db:"change_type"`
	ChangeSummary []string         `json:"change_summary" db:"change_summary"` // JSONB
	Name          string           `json:"name" db:"name"`
	Status        PolicyStatus     `json:"status" db:"status"`
	Attachments   []RuleAttachment `json:"attachments" db:"attachments"` // JSONB
	Resolved      []ResolvedRule   `json:"resolved" db:"resolved"`       // JSONB
	Actor         string           `json:"actor" db:"actor"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyHistoryEntry model
func (PolicyHistoryEntry) TableName() string {
	return "policy_history"
}

// NewPolicyHistoryEntry snapshots p together with its resolved rule set
func NewPolicyHistoryEntry(p *Policy, change PolicyChangeType, summary []string, resolved []ResolvedRule, actor string) *PolicyHistoryEntry {
	if summary == nil {
		summary = []string{}
	}
	if resolved == nil {
		resolved = []ResolvedRule{}
	}
	return &PolicyHistoryEntry{
		ID:            uuid.New(),
		PolicyID:      p.ID,
		TenantID:      p.TenantID,
		Version:       p.Version,
		ChangeType:    change,
		ChangeSummary: summary,
		Name:          p.Name,
		Status:        p.Status,
		Attachments:   append([]RuleAttachment{}, p.Attachments...),
		Resolved:      resolved,
		Actor:         actor,
		CreatedAt:     p.UpdatedAt,
	}
}
