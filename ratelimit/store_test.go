// ABOUTME: Tests for the LRU-bounded bucket store.
// ABOUTME: Validates identity reuse, recency updates, and eviction order.

package ratelimit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketStore_GetOrCreate_ReturnsSameBucket(t *testing.T) {
	s := newBucketStore(10)

	a := s.getOrCreate("key-a")
	b := s.getOrCreate("key-a")

	assert.Same(t, a, b)
	assert.Equal(t, 1, s.len())
}

func TestBucketStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s := newBucketStore(3)

	s.getOrCreate("key-1")
	second := s.getOrCreate("key-2")
	s.getOrCreate("key-3")

	// Touch key-1 so key-2 becomes the eviction candidate.
	first := s.getOrCreate("key-1")

	s.getOrCreate("key-4")
	assert.Equal(t, 3, s.len())

	// key-1 survived the eviction.
	assert.Same(t, first, s.getOrCreate("key-1"))

	// key-2 was evicted: a fresh bucket comes back for its key.
	assert.NotSame(t, second, s.getOrCreate("key-2"))
}

func TestBucketStore_CapacityNeverExceeded(t *testing.T) {
	s := newBucketStore(5)

	for i := 0; i < 50; i++ {
		s.getOrCreate(fmt.Sprintf("key-%d", i))
	}

	assert.Equal(t, 5, s.len())
}
