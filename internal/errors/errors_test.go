package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodePredicates(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("snapshot")))
	assert.False(t, IsNotFound(NewRateLimitedError("slow down")))

	assert.True(t, IsRateLimited(NewRateLimitedError("slow down")))
	assert.False(t, IsRateLimited(NewNotFoundError("snapshot")))

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsRateLimited(nil))
}

func TestErrorFormatting(t *testing.T) {
	wrapped := NewRetryExhaustedError("commit fetch failing", errors.New("boom"))
	assert.Equal(t, "RETRY_EXHAUSTED: commit fetch failing (boom)", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "boom")

	bare := NewBadConfigError("GITHUB_TOKEN is required", nil)
	assert.Equal(t, "BAD_CONFIG: GITHUB_TOKEN is required", bare.Error())
	assert.Nil(t, errors.Unwrap(bare))
}
