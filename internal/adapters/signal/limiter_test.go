package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJoinLimiter(t *testing.T) {
	rl := NewJoinLimiter(2, time.Minute)

	require.True(t, rl.Allow("peer-a"))
	require.True(t, rl.Allow("peer-a"))
	require.False(t, rl.Allow("peer-a"))

	// Other peers have their own window.
	require.True(t, rl.Allow("peer-b"))
}

func TestJoinLimiterWindowExpiry(t *testing.T) {
	rl := NewJoinLimiter(1, 10*time.Millisecond)

	require.True(t, rl.Allow("peer-a"))
	require.False(t, rl.Allow("peer-a"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, rl.Allow("peer-a"))
}
