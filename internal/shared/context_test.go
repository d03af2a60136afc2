package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestMetadata(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, Actor(ctx))

	ctx = WithActor(WithRequestID(ctx, "req-1"), "user-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "user-1", Actor(ctx))
}
