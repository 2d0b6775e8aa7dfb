package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string   { return "collaborator error" }
func (e retryableErr) Retryable() bool { return e.retry }

func TestShouldRetryStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)
	err := errors.New("boom")

	assert.True(t, p.ShouldRetry(err, 1))
	assert.True(t, p.ShouldRetry(err, 2))
	assert.False(t, p.ShouldRetry(err, 3))
}

func TestShouldRetryNeverOnContextErrors(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()

	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	assert.False(t, p.ShouldRetry(nil, 1))
}

func TestShouldRetryHonorsRetryableMarker(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()

	assert.True(t, p.ShouldRetry(retryableErr{retry: true}, 1))
	assert.False(t, p.ShouldRetry(retryableErr{retry: false}, 1))
}

func TestBackoffGrowsAndStaysBounded(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, time.Second)

	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		require.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
