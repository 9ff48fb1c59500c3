package loopcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRememberThenMatches(t *testing.T) {
	c := New(10, time.Minute)
	c.Remember("sm/Temperature", "hash-1")
	require.True(t, c.Matches("sm/Temperature", "hash-1"))
	require.False(t, c.Matches("sm/Temperature", "hash-2"))
	require.False(t, c.Matches("sm/Other", "hash-1"))
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New(10, 5*time.Second).WithClock(clock)
	c.Remember("k", "h")
	require.True(t, c.Matches("k", "h"))

	now = now.Add(6 * time.Second)
	require.False(t, c.Matches("k", "h"))
}

func TestBoundedByMaxEntriesLRU(t *testing.T) {
	c := New(2, time.Minute)
	c.Remember("a", "1")
	c.Remember("b", "1")
	c.Remember("c", "1")
	require.Equal(t, 2, c.Len())
	require.False(t, c.Matches("a", "1"))
	require.True(t, c.Matches("b", "1"))
	require.True(t, c.Matches("c", "1"))
}

func TestZeroTTLDisablesSuppression(t *testing.T) {
	c := New(10, 0)
	c.Remember("k", "h")
	require.False(t, c.Matches("k", "h"))
	require.Equal(t, 0, c.Len())
}
