package noise

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuppressionEntryConcurrentIncrements(t *testing.T) {
	entry := &SuppressionEntry{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry.Increment()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), entry.Count())
}

func TestSuppressionCacheRoundTrip(t *testing.T) {
	cache := NewSuppressionCache()

	_, ok := cache.Get("missing")
	assert.False(t, ok)

	entry := &SuppressionEntry{}
	cache.Set("econnreset|/api/bookings", entry, time.Minute)

	got, ok := cache.Get("econnreset|/api/bookings")
	require.True(t, ok)
	assert.Same(t, entry, got)
	assert.Equal(t, 1, cache.Len())
}

func TestSuppressionCacheExpiry(t *testing.T) {
	cache := NewSuppressionCache()

	cache.Set("short-lived", &SuppressionEntry{}, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := cache.Get("short-lived")
	assert.False(t, ok, "expired entries must not be returned")

	cache.Prune()
	assert.Equal(t, 0, cache.Len())
}
