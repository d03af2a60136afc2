package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeIntegrity    ErrorType = "integrity"
	ErrorTypeInternal     ErrorType = "internal"
)

// Detail keys shared by every error that names an entity
const (
	DetailEntityType      = "entity_type"
	DetailEntityID        = "entity_id"
	DetailExpectedVersion = "expected_version"
	DetailCurrentVersion  = "current_version"
	DetailField           = "field"
	DetailRefKind         = "ref_kind"
	DetailRefID           = "ref_id"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithEntity records the kind and id of the offending entity
func (e *DomainError) WithEntity(entityType string, id uuid.UUID) *DomainError {
	return e.WithDetail(DetailEntityType, entityType).WithDetail(DetailEntityID, id.String())
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. They are compared with errors.Is, which matches
// on type only; never attach details to them.

var (
	// Not Found Errors
	ErrTenantNotFound        = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrAppNotFound           = NewDomainError(ErrorTypeNotFound, "app not found", nil)
	ErrTemplateNotFound      = NewDomainError(ErrorTypeNotFound, "rule template not found", nil)
	ErrTenantRuleNotFound    = NewDomainError(ErrorTypeNotFound, "tenant rule not found", nil)
	ErrPolicyNotFound        = NewDomainError(ErrorTypeNotFound, "policy not found", nil)
	ErrPolicyVersionNotFound = NewDomainError(ErrorTypeNotFound, "policy version not found", nil)
	ErrRuleNotAttached       = NewDomainError(ErrorTypeNotFound, "rule is not attached to the policy", nil)

	// Validation Errors
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden               = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)
	ErrTenantMismatch          = NewDomainError(ErrorTypeForbidden, "tenant mismatch", nil)
	ErrAppRevoked              = NewDomainError(ErrorTypeForbidden, "app has been revoked", nil)

	// Rate Limit Errors
	ErrQuotaExceeded = NewDomainError(ErrorTypeRateLimit, "hourly app quota exceeded", nil)

	// Conflict Errors
	ErrVersionConflict = NewDomainError(ErrorTypeConflict, "version conflict", nil)
	ErrDuplicateName   = NewDomainError(ErrorTypeConflict, "name already exists", nil)
	ErrRuleInUse       = NewDomainError(ErrorTypeConflict, "rule is still referenced", nil)

	// Integrity Errors
	ErrDanglingRuleRef = NewDomainError(ErrorTypeIntegrity, "policy references a rule that does not resolve", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// NewNotFoundError reports that entityType id does not exist
func NewNotFoundError(entityType string, id uuid.UUID) *DomainError {
	return NewDomainError(ErrorTypeNotFound, entityType+" not found", nil).WithEntity(entityType, id)
}

// NewValidationError reports invalid input. field may be empty.
func NewValidationError(field, message string) *DomainError {
	err := NewDomainError(ErrorTypeValidation, message, nil)
	if field != "" {
		err.WithDetail(DetailField, field)
	}
	return err
}

// NewConflictError reports a state conflict on entityType id
func NewConflictError(entityType string, id uuid.UUID, message string) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, nil).WithEntity(entityType, id)
}

// NewVersionConflictError reports a failed compare-and-swap. current is
// omitted from the details when it is unknown (zero).
func NewVersionConflictError(entityType string, id uuid.UUID, expected, current int64) *DomainError {
	err := NewDomainError(ErrorTypeConflict, entityType+" was modified concurrently", repositories.ErrVersionConflict).
		WithEntity(entityType, id).
		WithDetail(DetailExpectedVersion, expected)
	if current > 0 {
		err.WithDetail(DetailCurrentVersion, current)
	}
	return err
}

// NewIntegrityError reports that policyID attaches a rule reference that
// no longer resolves
func NewIntegrityError(policyID uuid.UUID, refKind string, refID uuid.UUID, reason string) *DomainError {
	return NewDomainError(ErrorTypeIntegrity, "policy references a rule that does not resolve: "+reason, nil).
		WithEntity("policy", policyID).
		WithDetail(DetailRefKind, refKind).
		WithDetail(DetailRefID, refID.String())
}

// FromRepositoryError maps a repository sentinel to the error taxonomy.
// Errors that already carry a domain type pass through unchanged.
func FromRepositoryError(err error, entityType string, id uuid.UUID) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return NewNotFoundError(entityType, id)
	case errors.Is(err, repositories.ErrVersionConflict):
		return NewVersionConflictError(entityType, id, 0, 0)
	case errors.Is(err, repositories.ErrDuplicate):
		return NewConflictError(entityType, id, entityType+" already exists")
	}
	return WrapInternal(fmt.Sprintf("failed to access %s", entityType), err)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsIntegrityError checks if an error is a referential integrity error
func IsIntegrityError(err error) bool {
	return GetErrorType(err) == ErrorTypeIntegrity
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
