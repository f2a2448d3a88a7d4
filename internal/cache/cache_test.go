package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("k", 42, 50*time.Millisecond)
	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 42, got)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("k", "v", time.Minute)
	c.Delete("k")
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestTTLCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("k", 1, 0)
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestReferenceCache(t *testing.T) {
	rc := NewReferenceCache()

	_, ok := rc.GetLatestStartTime()
	require.False(t, ok)

	ts := time.Date(2022, 12, 15, 11, 0, 0, 0, time.UTC)
	rc.SetLatestStartTime(ts)
	got, ok := rc.GetLatestStartTime()
	require.True(t, ok)
	require.Equal(t, ts, got)

	rc.Invalidate()
	_, ok = rc.GetLatestStartTime()
	require.False(t, ok)

	// Zero values are never cached; an empty store must stay a miss.
	rc.SetLatestStartTime(time.Time{})
	_, ok = rc.GetLatestStartTime()
	require.False(t, ok)
}
