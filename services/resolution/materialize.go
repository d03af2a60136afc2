package resolution

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/services"
)

// Loader reads the rule records a policy's attachments point at. Both
// methods return repositories.ErrNotFound for unknown ids.
type Loader interface {
	Template(ctx context.Context, id uuid.UUID) (*models.RuleTemplate, error)
	TenantRule(ctx context.Context, id uuid.UUID) (*models.TenantRule, error)
}

type repoLoader struct {
	repos *repositories.Repositories
}

// NewLoader returns a Loader reading through repos. Called with a
// transaction context it reads inside that transaction.
func NewLoader(repos *repositories.Repositories) Loader {
	return &repoLoader{repos: repos}
}

func (l *repoLoader) Template(ctx context.Context, id uuid.UUID) (*models.RuleTemplate, error) {
	return l.repos.Templates.GetByID(ctx, id)
}

func (l *repoLoader) TenantRule(ctx context.Context, id uuid.UUID) (*models.TenantRule, error) {
	return l.repos.TenantRules.GetByID(ctx, id)
}

// Materialize computes the effective rule set of policy. It never writes.
//
// Attachments are resolved in order; a tenant rule that inherits starts
// from its template and applies its non-null overrides. Rules sharing an
// identity key collapse to the one attached last, and the survivors keep
// attachment order. Any reference that does not resolve aborts with an
// integrity error.
func Materialize(ctx context.Context, loader Loader, policy *models.Policy) ([]models.ResolvedRule, error) {
	byKey := make(map[models.RuleKey]int, len(policy.Attachments))
	resolved := make([]*models.ResolvedRule, 0, len(policy.Attachments))

	for i, attachment := range policy.Attachments {
		rule, err := resolveRef(ctx, loader, policy, attachment.Ref)
		if err != nil {
			return nil, err
		}
		rule.AttachmentIndex = i

		if prev, ok := byKey[rule.Identity]; ok {
			loser := resolved[prev]
			rule.Superseded = append(append([]models.RuleRef{}, loser.Superseded...), loser.Source)
			resolved[prev] = nil
		}
		byKey[rule.Identity] = len(resolved)
		resolved = append(resolved, rule)
	}

	out := make([]models.ResolvedRule, 0, len(byKey))
	for _, r := range resolved {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttachmentIndex < out[j].AttachmentIndex })
	return out, nil
}

func resolveRef(ctx context.Context, loader Loader, policy *models.Policy, ref models.RuleRef) (*models.ResolvedRule, error) {
	switch ref.Kind {
	case models.RuleRefTemplate:
		template, err := liveTemplate(ctx, loader, policy.ID, ref, ref.ID)
		if err != nil {
			return nil, err
		}
		rule := newResolvedRule(ref, template.RuleFields, traceAll(models.FieldSourceTemplate))
		rule.TemplateID = &template.ID
		rule.TemplateVersion = template.Version
		return rule, nil

	case models.RuleRefTenantRule:
		tr, err := loader.TenantRule(ctx, ref.ID)
		if err != nil {
			return nil, loadError(err, policy.ID, ref, "tenant rule is missing")
		}
		if tr.IsDeleted() {
			return nil, services.NewIntegrityError(policy.ID, string(ref.Kind), ref.ID, "tenant rule is deleted")
		}
		if tr.TenantID != policy.TenantID {
			return nil, services.NewIntegrityError(policy.ID, string(ref.Kind), ref.ID, "tenant rule belongs to another tenant")
		}

		var rule *models.ResolvedRule
		if tr.Scope == models.OverrideScopeInherit {
			if tr.TemplateID == nil {
				return nil, services.NewIntegrityError(policy.ID, string(ref.Kind), ref.ID, "inheriting tenant rule has no template")
			}
			template, err := liveTemplate(ctx, loader, policy.ID, ref, *tr.TemplateID)
			if err != nil {
				return nil, err
			}
			fields, set := tr.Overrides.Apply(template.RuleFields)
			trace := traceAll(models.FieldSourceTemplate)
			for _, name := range set {
				trace[name] = models.FieldSourceTenantOverride
			}
			rule = newResolvedRule(ref, fields, trace)
			rule.TemplateID = &template.ID
			rule.TemplateVersion = template.Version
		} else {
			rule = newResolvedRule(ref, tr.Overrides.Materialize(), traceAll(models.FieldSourceTenantRule))
		}
		rule.TenantRuleID = &tr.ID
		rule.TenantRuleVersion = tr.Version
		return rule, nil
	}
	return nil, services.NewIntegrityError(policy.ID, string(ref.Kind), ref.ID, "unknown reference kind")
}

// liveTemplate loads template id on behalf of the attachment ref
func liveTemplate(ctx context.Context, loader Loader, policyID uuid.UUID, ref models.RuleRef, id uuid.UUID) (*models.RuleTemplate, error) {
	template, err := loader.Template(ctx, id)
	if err != nil {
		return nil, loadError(err, policyID, ref, "template "+id.String()+" is missing")
	}
	if template.IsDeleted() {
		return nil, services.NewIntegrityError(policyID, string(ref.Kind), ref.ID, "template "+id.String()+" is deleted")
	}
	return template, nil
}

func loadError(err error, policyID uuid.UUID, ref models.RuleRef, reason string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.NewIntegrityError(policyID, string(ref.Kind), ref.ID, reason)
	}
	return services.WrapInternal("failed to load "+string(ref.Kind), err)
}

func newResolvedRule(ref models.RuleRef, fields models.RuleFields, trace map[string]models.FieldSource) *models.ResolvedRule {
	fields = fields.Clone()
	return &models.ResolvedRule{
		Identity:   fields.Key(),
		RuleFields: fields,
		Strictness: fields.Decision.Strictness(),
		Source:     ref,
		Trace:      trace,
	}
}

func traceAll(source models.FieldSource) map[string]models.FieldSource {
	trace := make(map[string]models.FieldSource, len(models.RuleFieldNames))
	for _, name := range models.RuleFieldNames {
		trace[name] = source
	}
	return trace
}
