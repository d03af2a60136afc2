package rules

import (
	"strings"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/models"
	"github.com/upb/guardrails-control-plane/backend/services"
)

// ValidateFields checks a complete rule field set
func ValidateFields(f models.RuleFields) error {
	identity := []struct{ name, value string }{
		{models.FieldJurisdiction, f.Jurisdiction},
		{models.FieldRegulation, f.Regulation},
		{models.FieldVendor, f.Vendor},
		{models.FieldProduct, f.Product},
	}
	for _, field := range identity {
		if strings.TrimSpace(field.value) == "" {
			return services.NewValidationError(field.name, field.name+" is required")
		}
	}
	if !f.Severity.IsValid() {
		return services.NewValidationError(models.FieldSeverity, "severity must be one of low, medium, high, critical")
	}
	if !f.Decision.IsValid() {
		return services.NewValidationError(models.FieldDecision, "decision must be one of allow, flag, block")
	}
	return nil
}

func validateOverrides(o models.RuleOverrides) error {
	set := []struct {
		name  string
		value *string
	}{
		{models.FieldJurisdiction, o.Jurisdiction},
		{models.FieldRegulation, o.Regulation},
		{models.FieldVendor, o.Vendor},
		{models.FieldProduct, o.Product},
	}
	for _, field := range set {
		if field.value != nil && strings.TrimSpace(*field.value) == "" {
			return services.NewValidationError(field.name, field.name+" must not be empty when overridden")
		}
	}
	if o.Severity != nil && !o.Severity.IsValid() {
		return services.NewValidationError(models.FieldSeverity, "severity must be one of low, medium, high, critical")
	}
	if o.Decision != nil && !o.Decision.IsValid() {
		return services.NewValidationError(models.FieldDecision, "decision must be one of allow, flag, block")
	}
	return nil
}

func validateTenantRule(scope models.OverrideScope, templateID *uuid.UUID, o models.RuleOverrides) error {
	if !scope.IsValid() {
		return services.NewValidationError("scope", "scope must be inherit or tenant_defined")
	}
	if err := validateOverrides(o); err != nil {
		return err
	}
	switch scope {
	case models.OverrideScopeInherit:
		if templateID == nil {
			return services.NewValidationError("template_id", "an inheriting rule needs a template")
		}
	case models.OverrideScopeTenantDefined:
		if missing := o.MissingRequired(); len(missing) > 0 {
			return services.NewValidationError(missing[0], "a tenant-defined rule must set "+strings.Join(missing, ", ")).
				WithDetail("missing", missing)
		}
	}
	return nil
}

func validateFilter(f models.RuleFilter) error {
	if f.Severity != "" && !f.Severity.IsValid() {
		return services.NewValidationError(models.FieldSeverity, "unknown severity filter")
	}
	if f.Decision != "" && !f.Decision.IsValid() {
		return services.NewValidationError(models.FieldDecision, "unknown decision filter")
	}
	return nil
}
