package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "policy not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: policy not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same error type", NewNotFoundError("policy", uuid.New()), ErrPolicyNotFound, true},
		{"different error type", NewValidationError("", "bad"), ErrPolicyNotFound, false},
		{"not a domain error", NewNotFoundError("policy", uuid.New()), errors.New("regular error"), false},
		{"integrity", NewIntegrityError(uuid.New(), "template", uuid.New(), "deleted"), ErrDanglingRuleRef, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)

	err.WithDetail("field", "name").WithDetail("value", "")

	assert.Equal(t, "name", err.Details["field"])
	assert.Equal(t, "", err.Details["value"])
}

func TestNewNotFoundError_CarriesEntity(t *testing.T) {
	id := uuid.New()
	err := NewNotFoundError("tenant_rule", id)

	assert.True(t, IsNotFoundError(err))
	assert.Equal(t, "tenant_rule", err.Details[DetailEntityType])
	assert.Equal(t, id.String(), err.Details[DetailEntityID])
}

func TestNewVersionConflictError(t *testing.T) {
	id := uuid.New()

	err := NewVersionConflictError("policy", id, 3, 4)
	assert.True(t, IsConflictError(err))
	assert.Equal(t, int64(3), err.Details[DetailExpectedVersion])
	assert.Equal(t, int64(4), err.Details[DetailCurrentVersion])
	assert.ErrorIs(t, err, repositories.ErrVersionConflict)

	unknown := NewVersionConflictError("policy", id, 3, 0)
	assert.NotContains(t, unknown.Details, DetailCurrentVersion)
}

func TestNewIntegrityError(t *testing.T) {
	policyID, refID := uuid.New(), uuid.New()
	err := NewIntegrityError(policyID, "tenant_rule", refID, "rule deleted")

	assert.True(t, IsIntegrityError(err))
	assert.Equal(t, policyID.String(), err.Details[DetailEntityID])
	assert.Equal(t, "tenant_rule", err.Details[DetailRefKind])
	assert.Equal(t, refID.String(), err.Details[DetailRefID])
	assert.Contains(t, err.Error(), "rule deleted")
}

func TestFromRepositoryError(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"not found", fmt.Errorf("get: %w", repositories.ErrNotFound), ErrorTypeNotFound},
		{"version conflict", repositories.ErrVersionConflict, ErrorTypeConflict},
		{"duplicate", repositories.ErrDuplicate, ErrorTypeConflict},
		{"other", errors.New("connection reset"), ErrorTypeInternal},
		{"domain error passes through", NewValidationError("name", "bad"), ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(FromRepositoryError(tt.err, "policy", id)))
		})
	}
	assert.Nil(t, FromRepositoryError(nil, "policy", id))
}

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found error", ErrPolicyNotFound, true},
		{"wrapped not found", fmt.Errorf("wrapped: %w", ErrTenantNotFound), true},
		{"validation error", ErrInvalidInput, false},
		{"regular error", errors.New("regular"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNotFoundError(tt.err))
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, IsRateLimitError(ErrQuotaExceeded))
	assert.False(t, IsRateLimitError(ErrAppRevoked))
	assert.True(t, IsForbiddenError(ErrAppRevoked))
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"not found", ErrPolicyNotFound, ErrorTypeNotFound},
		{"validation", ErrInvalidInput, ErrorTypeValidation},
		{"rate limit", ErrQuotaExceeded, ErrorTypeRateLimit},
		{"integrity", ErrDanglingRuleRef, ErrorTypeIntegrity},
		{"regular error", errors.New("regular"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)
	err.WithDetail("field", "quota_per_hr").WithDetail("reason", "must be positive")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "quota_per_hr", details["field"])
	assert.Equal(t, "must be positive", details["reason"])

	assert.Nil(t, GetErrorDetails(errors.New("regular error")))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("database connection failed")
	wrapped := WrapInternal("failed to connect", baseErr)

	var domainErr *DomainError
	require.True(t, errors.As(wrapped, &domainErr))
	assert.Equal(t, "failed to connect", domainErr.Message)
	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}

func TestErrorTypeCheckersCoverage(t *testing.T) {
	typeCheckers := map[ErrorType]func(error) bool{
		ErrorTypeNotFound:     IsNotFoundError,
		ErrorTypeValidation:   IsValidationError,
		ErrorTypeUnauthorized: IsUnauthorizedError,
		ErrorTypeForbidden:    IsForbiddenError,
		ErrorTypeRateLimit:    IsRateLimitError,
		ErrorTypeConflict:     IsConflictError,
		ErrorTypeIntegrity:    IsIntegrityError,
		ErrorTypeInternal:     IsInternalError,
	}

	for errType, checker := range typeCheckers {
		t.Run(string(errType), func(t *testing.T) {
			err := NewDomainError(errType, "test error", nil)
			assert.True(t, checker(err), "checker should return true for %s", errType)
		})
	}
}
