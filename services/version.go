package services

import (
	"errors"

	"github.com/google/uuid"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

// CheckVersion returns the version a compare-and-swap write must expect.
// A zero expected version means "whatever was read", so a concurrent
// commit between the read and the write still fails the swap.
func CheckVersion(entityType string, id uuid.UUID, expected, current int64) (int64, error) {
	if expected < 0 {
		return 0, NewValidationError("expected_version", "expected version must be positive")
	}
	if expected == 0 {
		return current, nil
	}
	if expected != current {
		return 0, NewVersionConflictError(entityType, id, expected, current)
	}
	return expected, nil
}

// WriteError maps the error of a compare-and-swap write
func WriteError(err error, entityType string, id uuid.UUID, expected int64) error {
	if errors.Is(err, repositories.ErrVersionConflict) {
		return NewVersionConflictError(entityType, id, expected, 0)
	}
	return FromRepositoryError(err, entityType, id)
}
