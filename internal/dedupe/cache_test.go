// ABOUTME: Tests for the idempotency cache used by message ingest.
// ABOUTME: Validates TTL expiration, size limits, eviction, cleanup, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_LookupMissing(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	_, ok := cache.Lookup("never-seen-key")
	assert.False(t, ok)
}

func TestCache_RememberAndLookup(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Remember(Key(42, "m-1"), 7)

	id, ok := cache.Lookup(Key(42, "m-1"))
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, ok = cache.Lookup(Key(43, "m-1"))
	assert.False(t, ok, "keys are scoped per sender")
}

func TestCache_Expired(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Remember("k", 1)

	cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := cache.Lookup("k")
	assert.False(t, ok)

	cache.runCleanup()
	assert.Equal(t, 0, cache.Len())
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := New(5*time.Minute, 2)
	defer cache.Close()

	cache.Remember("a", 1)
	cache.Remember("b", 2)
	cache.Remember("c", 3)

	_, ok := cache.Lookup("a")
	assert.False(t, ok)
	_, ok = cache.Lookup("c")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestCache_RememberRefreshesPosition(t *testing.T) {
	cache := New(5*time.Minute, 2)
	defer cache.Close()

	cache.Remember("a", 1)
	cache.Remember("b", 2)
	cache.Remember("a", 10)
	cache.Remember("c", 3)

	id, ok := cache.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, int64(10), id)
	_, ok = cache.Lookup("b")
	assert.False(t, ok)
}

func TestCache_Forget(t *testing.T) {
	cache := New(5*time.Minute, 10)
	defer cache.Close()

	cache.Remember("a", 1)
	cache.Forget("a")
	cache.Forget("missing")

	_, ok := cache.Lookup("a")
	assert.False(t, ok)
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k-%d", i%10)
			cache.Remember(key, int64(i))
			cache.Lookup(key)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, cache.Len())
}
