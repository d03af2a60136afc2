package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity ranks how serious a rule violation is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether s is a known severity
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Decision is the action a rule prescribes when it matches
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionFlag  Decision = "flag"
	DecisionBlock Decision = "block"
)

// IsValid reports whether d is a known decision
func (d Decision) IsValid() bool {
	switch d {
	case DecisionAllow, DecisionFlag, DecisionBlock:
		return true
	}
	return false
}

// Strictness orders decisions: block > flag > allow.
// Unknown decisions rank below allow.
func (d Decision) Strictness() int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionFlag:
		return 1
	case DecisionAllow:
		return 0
	}
	return -1
}

// Rule field names used in override traces and change summaries
const (
	FieldJurisdiction = "jurisdiction"
	FieldRegulation   = "regulation"
	FieldVendor       = "vendor"
	FieldProduct      = "product"
	FieldSeverity     = "severity"
	FieldDecision     = "decision"
	FieldTags         = "tags"
	FieldDescription  = "description"
	FieldCategory     = "category"
	FieldReferences   = "references"
	FieldRemediation  = "remediation"
)

// RuleFieldNames lists every rule field in presentation order
var RuleFieldNames = []string{
	FieldJurisdiction, FieldRegulation, FieldVendor, FieldProduct,
	FieldSeverity, FieldDecision, FieldTags, FieldDescription,
	FieldCategory, FieldReferences, FieldRemediation,
}

// RuleKey identifies a rule for de-duplication during resolution
type RuleKey struct {
	Jurisdiction string `json:"jurisdiction"`
	Regulation   string `json:"regulation"`
	Vendor       string `json:"vendor"`
	Product      string `json:"product"`
}

func (k RuleKey) String() string {
	return strings.Join([]string{k.Jurisdiction, k.Regulation, k.Vendor, k.Product}, "|")
}

// Less orders keys field by field
func (k RuleKey) Less(other RuleKey) bool {
	if k.Jurisdiction != other.Jurisdiction {
		return k.Jurisdiction < other.Jurisdiction
	}
	if k.Regulation != other.Regulation {
		return k.Regulation < other.Regulation
	}
	if k.Vendor != other.Vendor {
		return k.Vendor < other.Vendor
	}
	return k.Product < other.Product
}

// RuleFields holds the descriptive content shared by templates and tenant rules
type RuleFields struct {
	Jurisdiction string   `json:"jurisdiction" db:"jurisdiction"`
	Regulation   string   `json:"regulation" db:"regulation"`
	Vendor       string   `json:"vendor" db:"vendor"`
	Product      string   `json:"product" db:"product"`
	Severity     Severity `json:"severity" db:"severity"`
	Decision     Decision `json:"decision" db:"decision"`
	Tags         []string `json:"tags" db:"tags"`
	Description  string   `json:"description" db:"description"`
	Category     string   `json:"category,omitempty" db:"category"`
	References   []string `json:"references,omitempty" db:"references"`
	Remediation  string   `json:"remediation,omitempty" db:"remediation"`
}

// Key returns the de-duplication identity of the rule
func (f RuleFields) Key() RuleKey {
	return RuleKey{
		Jurisdiction: f.Jurisdiction,
		Regulation:   f.Regulation,
		Vendor:       f.Vendor,
		Product:      f.Product,
	}
}

// Clone returns a copy that shares no slices with f
func (f RuleFields) Clone() RuleFields {
	c := f
	c.Tags = append([]string{}, f.Tags...)
	c.References = append([]string(nil), f.References...)
	return c
}

// MatchesTag reports whether some tag contains tag. An exact member
// always matches.
func (f RuleFields) MatchesTag(tag string) bool {
	for _, t := range f.Tags {
		if strings.Contains(t, tag) {
			return true
		}
	}
	return false
}

// Diff returns the names of the fields that differ between f and other
func (f RuleFields) Diff(other RuleFields) []string {
	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}
	add(FieldJurisdiction, f.Jurisdiction != other.Jurisdiction)
	add(FieldRegulation, f.Regulation != other.Regulation)
	add(FieldVendor, f.Vendor != other.Vendor)
	add(FieldProduct, f.Product != other.Product)
	add(FieldSeverity, f.Severity != other.Severity)
	add(FieldDecision, f.Decision != other.Decision)
	add(FieldTags, !equalStrings(f.Tags, other.Tags))
	add(FieldDescription, f.Description != other.Description)
	add(FieldCategory, f.Category != other.Category)
	add(FieldReferences, !equalStrings(f.References, other.References))
	add(FieldRemediation, f.Remediation != other.Remediation)
	return changed
}

// NormalizeTags trims, drops empties, de-duplicates and sorts a tag list.
// The result is never nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RuleTemplate is a globally shared rule definition
type RuleTemplate struct {
	ID uuid.UUID `json:"id" db:"id"`
	RuleFields
	IsSystem  bool       `json:"is_system" db:"is_system"` // Seeded from the catalogue, cannot be deleted
	Version   int64      `json:"version" db:"version"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// TableName returns the table name for the RuleTemplate model
func (RuleTemplate) TableName() string {
	return "rule_templates"
}

// NewRuleTemplate creates a new RuleTemplate instance at version 1
func NewRuleTemplate(fields RuleFields) *RuleTemplate {
	now := time.Now().UTC()
	fields.Tags = NormalizeTags(fields.Tags)
	return &RuleTemplate{
		ID:         uuid.New(),
		RuleFields: fields,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsDeleted reports whether the template carries a tombstone
func (t *RuleTemplate) IsDeleted() bool {
	return t.DeletedAt != nil
}

// Clone returns a deep copy safe to mutate
func (t *RuleTemplate) Clone() *RuleTemplate {
	c := *t
	c.RuleFields = t.RuleFields.Clone()
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// OverrideScope says how a tenant rule relates to its template
type OverrideScope string

const (
	// OverrideScopeInherit starts from the template and applies non-null overrides
	OverrideScopeInherit OverrideScope = "inherit"
	// OverrideScopeTenantDefined carries every field itself
	OverrideScopeTenantDefined OverrideScope = "tenant_defined"
)

// IsValid reports whether s is a known override scope
func (s OverrideScope) IsValid() bool {
	return s == OverrideScopeInherit || s == OverrideScopeTenantDefined
}

// RuleOverrides carries every rule field as nullable. A nil field means
// "not set by the tenant".
type RuleOverrides struct {
	Jurisdiction *string   `json:"jurisdiction,omitempty"`
	Regulation   *string   `json:"regulation,omitempty"`
	Vendor       *string   `json:"vendor,omitempty"`
	Product      *string   `json:"product,omitempty"`
	Severity     *Severity `json:"severity,omitempty"`
	Decision     *Decision `json:"decision,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Category     *string   `json:"category,omitempty"`
	References   []string  `json:"references,omitempty"`
	Remediation  *string   `json:"remediation,omitempty"`
}

// Apply merges the non-null overrides onto base field by field and returns
// the merged fields plus the names of the fields the overrides supplied.
func (o RuleOverrides) Apply(base RuleFields) (RuleFields, []string) {
	out := base.Clone()
	var set []string
	if o.Jurisdiction != nil {
		out.Jurisdiction = *o.Jurisdiction
		set = append(set, FieldJurisdiction)
	}
	if o.Regulation != nil {
		out.Regulation = *o.Regulation
		set = append(set, FieldRegulation)
	}
	if o.Vendor != nil {
		out.Vendor = *o.Vendor
		set = append(set, FieldVendor)
	}
	if o.Product != nil {
		out.Product = *o.Product
		set = append(set, FieldProduct)
	}
	if o.Severity != nil {
		out.Severity = *o.Severity
		set = append(set, FieldSeverity)
	}
	if o.Decision != nil {
		out.Decision = *o.Decision
		set = append(set, FieldDecision)
	}
	if o.Tags != nil {
		out.Tags = NormalizeTags(o.Tags)
		set = append(set, FieldTags)
	}
	if o.Description != nil {
		out.Description = *o.Description
		set = append(set, FieldDescription)
	}
	if o.Category != nil {
		out.Category = *o.Category
		set = append(set, FieldCategory)
	}
	if o.References != nil {
		out.References = append([]string(nil), o.References...)
		set = append(set, FieldReferences)
	}
	if o.Remediation != nil {
		out.Remediation = *o.Remediation
		set = append(set, FieldRemediation)
	}
	return out, set
}

// Materialize returns the overrides as a complete field set, unset
// fields taking their zero value.
func (o RuleOverrides) Materialize() RuleFields {
	out, _ := o.Apply(RuleFields{Tags: []string{}})
	return out
}

// MissingRequired lists the identity and outcome fields a fully
// tenant-defined rule must carry but does not.
func (o RuleOverrides) MissingRequired() []string {
	var missing []string
	if o.Jurisdiction == nil || *o.Jurisdiction == "" {
		missing = append(missing, FieldJurisdiction)
	}
	if o.Regulation == nil || *o.Regulation == "" {
		missing = append(missing, FieldRegulation)
	}
	if o.Vendor == nil || *o.Vendor == "" {
		missing = append(missing, FieldVendor)
	}
	if o.Product == nil || *o.Product == "" {
		missing = append(missing, FieldProduct)
	}
	if o.Severity == nil {
		missing = append(missing, FieldSeverity)
	}
	if o.Decision == nil {
		missing = append(missing, FieldDecision)
	}
	return missing
}

// IsEmpty reports whether no field is overridden
func (o RuleOverrides) IsEmpty() bool {
	_, set := o.Apply(RuleFields{})
	return len(set) == 0
}

// Clone returns a deep copy safe to mutate
func (o RuleOverrides) Clone() RuleOverrides {
	c := o
	cp := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := *s
		return &v
	}
	c.Jurisdiction = cp(o.Jurisdiction)
	c.Regulation = cp(o.Regulation)
	c.Vendor = cp(o.Vendor)
	c.Product = cp(o.Product)
	c.Description = cp(o.Description)
	c.Category = cp(o.Category)
	c.Remediation = cp(o.Remediation)
	if o.Severity != nil {
		v := *o.Severity
		c.Severity = &v
	}
	if o.Decision != nil {
		v := *o.Decision
		c.Decision = &v
	}
	if o.Tags != nil {
		c.Tags = append([]string{}, o.Tags...)
	}
	if o.References != nil {
		c.References = append([]string{}, o.References...)
	}
	return c
}

// TenantRule is a rule owned by one tenant, either overriding a template
// or standing on its own
type TenantRule struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	TenantID   uuid.UUID     `json:"tenant_id" db:"tenant_id"`
	TemplateID *uuid.UUID    `json:"template_id,omitempty" db:"template_id"`
	Scope      OverrideScope `json:"scope" db:"scope"`
	Overrides  RuleOverrides `json:"overrides" db:"overrides"` // JSONB
	Version    int64         `json:"version" db:"version"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
	DeletedAt  *time.Time    `json:"deleted_at,omitempty" db:"deleted_at"`
}

// TableName returns the table name for the TenantRule model
func (TenantRule) TableName() string {
	return "tenant_rules"
}

// NewTenantRule creates a new TenantRule instance at version 1
func NewTenantRule(tenantID uuid.UUID, templateID *uuid.UUID, scope OverrideScope, overrides RuleOverrides) *TenantRule {
	now := time.Now().UTC()
	return &TenantRule{
		ID:         uuid.New(),
		TenantID:   tenantID,
		TemplateID: templateID,
		Scope:      scope,
		Overrides:  overrides,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsDeleted reports whether the rule carries a tombstone
func (r *TenantRule) IsDeleted() bool {
	return r.DeletedAt != nil
}

// IsOverride reports whether the rule points back to a template
func (r *TenantRule) IsOverride() bool {
	return r.TemplateID != nil
}

// Clone returns a deep copy safe to mutate
func (r *TenantRule) Clone() *TenantRule {
	c := *r
	c.Overrides = r.Overrides.Clone()
	if r.TemplateID != nil {
		id := *r.TemplateID
		c.TemplateID = &id
	}
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// RuleFilter selects rules by exact field values. Empty fields match anything.
type RuleFilter struct {
	Jurisdiction string   `json:"jurisdiction,omitempty"`
	Regulation   string   `json:"regulation,omitempty"`
	Vendor       string   `json:"vendor,omitempty"`
	Product      string   `json:"product,omitempty"`
	Severity     Severity `json:"severity,omitempty"`
	Decision     Decision `json:"decision,omitempty"`
	Tag          string   `json:"tag,omitempty"`
}

// Matches reports whether f satisfies every set criterion of the filter
func (rf RuleFilter) Matches(f RuleFields) bool {
	if rf.Jurisdiction != "" && rf.Jurisdiction != f.Jurisdiction {
		return false
	}
	if rf.Regulation != "" && rf.Regulation != f.Regulation {
		return false
	}
	if rf.Vendor != "" && rf.Vendor != f.Vendor {
		return false
	}
	if rf.Product != "" && rf.Product != f.Product {
		return false
	}
	if rf.Severity != "" && rf.Severity != f.Severity {
		return false
	}
	if rf.Decision != "" && rf.Decision != f.Decision {
		return false
	}
	if rf.Tag != "" && !f.MatchesTag(rf.Tag) {
		return false
	}
	return true
}
