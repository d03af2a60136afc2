package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appRequest struct {
	Name       string `json:"name" validate:"required"`
	QuotaPerHr int64  `json:"quota_per_hr" validate:"gt=0"`
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=draft active"`
}

type ruleRequest struct {
	Severity string `json:"severity" validate:"required,severity"`
	Decision string `json:"decision" validate:"required,decision"`
	Scope    string `json:"scope,omitempty" validate:"omitempty,scope"`
	Kind     string `json:"kind" validate:"required,rule_kind"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		err := ValidateStruct(&appRequest{Name: "billing", QuotaPerHr: 100})
		assert.NoError(t, err)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := ValidateStruct(&appRequest{QuotaPerHr: 100})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, GetValidationFields(err), "name")
	})

	t.Run("non-positive quota", func(t *testing.T) {
		err := ValidateStruct(&appRequest{Name: "billing", QuotaPerHr: 0})
		require.Error(t, err)
		assert.Equal(t, "quota_per_hr must be greater than 0", GetValidationFields(err)["quota_per_hr"])
	})

	t.Run("status outside oneof", func(t *testing.T) {
		err := ValidateStruct(&appRequest{Name: "billing", QuotaPerHr: 1, Status: "archived"})
		require.Error(t, err)
		assert.Contains(t, GetValidationFields(err)["status"], "draft active")
	})
}

func TestValidateStruct_DomainEnums(t *testing.T) {
	t.Run("known values pass", func(t *testing.T) {
		err := ValidateStruct(&ruleRequest{Severity: "critical", Decision: "block", Scope: "inherit", Kind: "tenant_rule"})
		assert.NoError(t, err)
	})

	t.Run("unknown values are reported per field", func(t *testing.T) {
		err := ValidateStruct(&ruleRequest{Severity: "urgent", Decision: "deny", Scope: "global", Kind: "policy"})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Equal(t, "severity must be one of: low medium high critical", fields["severity"])
		assert.Equal(t, "decision must be one of: allow flag block", fields["decision"])
		assert.Equal(t, "scope must be one of: inherit tenant_defined", fields["scope"])
		assert.Equal(t, "kind must be one of: template tenant_rule", fields["kind"])
	})

	t.Run("decision is case-sensitive", func(t *testing.T) {
		err := ValidateStruct(&ruleRequest{Severity: "low", Decision: "Block", Kind: "template"})
		require.Error(t, err)
		assert.Contains(t, GetValidationFields(err), "decision")
	})
}

func TestValidateStruct_ReportsEveryInvalidField(t *testing.T) {
	err := ValidateStruct(&appRequest{QuotaPerHr: -1})
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)

	assert.Equal(t, "Validation failed", validationErr.Message)
	assert.Contains(t, validationErr.Fields, "name")
	assert.Contains(t, validationErr.Fields, "quota_per_hr")
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Test validation error",
		Fields: map[string]string{
			"field1": "error1",
		},
	}

	assert.Equal(t, "Test validation error", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test", Fields: map[string]string{}}))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestGetValidationFields(t *testing.T) {
	t.Run("gets fields from validation error", func(t *testing.T) {
		fields := map[string]string{
			"field1": "error1",
			"field2": "error2",
		}
		extracted := GetValidationFields(&ValidationError{Message: "test", Fields: fields})
		assert.Equal(t, fields, extracted)
	})

	t.Run("returns nil for non-validation error", func(t *testing.T) {
		assert.Nil(t, GetValidationFields(assert.AnError))
	})
}
