package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAndRetryable(t *testing.T) {
	err := New(Unavailable, "storage peer unreachable")
	assert.True(t, Is(err, Unavailable))
	assert.False(t, Is(err, NotFound))
	assert.True(t, Retryable(err))

	notFound := New(NotFound, "segment missing")
	assert.False(t, Retryable(notFound))
}

func TestWrapPreservesKind(t *testing.T) {
	base := New(PreconditionFailed, "segment sealed")
	wrapped := Wrap(PreconditionFailed, base)
	assert.True(t, Is(wrapped, PreconditionFailed))
}
