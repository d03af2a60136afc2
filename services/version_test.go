package services

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/guardrails-control-plane/backend/repositories"
)

func TestCheckVersion(t *testing.T) {
	id := uuid.New()

	v, err := CheckVersion("policy", id, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = CheckVersion("policy", id, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	_, err = CheckVersion("policy", id, 3, 4)
	assert.True(t, IsConflictError(err))
	assert.Equal(t, int64(4), GetErrorDetails(err)[DetailCurrentVersion])

	_, err = CheckVersion("policy", id, -1, 4)
	assert.True(t, IsValidationError(err))
}

func TestWriteError(t *testing.T) {
	id := uuid.New()

	err := WriteError(fmt.Errorf("update: %w", repositories.ErrVersionConflict), "app", id, 2)
	assert.True(t, IsConflictError(err))
	assert.Equal(t, int64(2), GetErrorDetails(err)[DetailExpectedVersion])

	assert.True(t, IsNotFoundError(WriteError(repositories.ErrNotFound, "app", id, 2)))
}
