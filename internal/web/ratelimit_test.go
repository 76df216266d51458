package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("client-a"))
	}
	require.False(t, rl.Allow("client-a"))
	require.Equal(t, 0, rl.Remaining("client-a"))

	// Other clients have their own window.
	require.True(t, rl.Allow("client-b"))
	require.Equal(t, 2, rl.Remaining("client-b"))

	// The window slides: old requests age out.
	now = now.Add(61 * time.Second)
	require.True(t, rl.Allow("client-a"))
	require.Equal(t, 2, rl.Remaining("client-a"))
}

func TestRateLimiterReset(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	require.True(t, rl.Allow("client"))
	require.False(t, rl.Allow("client"))
	rl.Reset("client")
	require.True(t, rl.Allow("client"))
}
