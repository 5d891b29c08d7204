package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond

	tests := []struct {
		name     string
		attempt  int
		max      time.Duration
		expected time.Duration
	}{
		{name: "first_attempt", attempt: 0, max: time.Second, expected: base},
		{name: "doubles", attempt: 2, max: time.Second, expected: 40 * time.Millisecond},
		{name: "capped", attempt: 10, max: 50 * time.Millisecond, expected: 50 * time.Millisecond},
		{name: "uncapped", attempt: 3, max: 0, expected: 80 * time.Millisecond},
		{name: "negative_attempt", attempt: -1, max: time.Second, expected: base},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Backoff(tt.attempt, base, tt.max))
		})
	}
}

func TestBackoffZeroBase(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Backoff(3, 0, time.Second))
}

func TestPause(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Pause(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Pause(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Pause(ctx, 0), context.Canceled, "a done context wins over a zero wait")
}

func TestPauseBeforeRetryWaitsBackoff(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, PauseBeforeRetry(context.Background(), 2, 10*time.Millisecond, time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
