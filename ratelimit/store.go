// ABOUTME: LRU-bounded store of rate-limit buckets keyed by bucket identity.
// ABOUTME: Buckets are never destroyed explicitly, only evicted when capacity is hit.

package ratelimit

import (
	"container/list"
	"sync"
)

// storeEntry pairs a bucket with its position in the recency list.
type storeEntry struct {
	bucket  *Bucket
	element *list.Element
}

// bucketStore holds buckets with least-recently-used eviction. Uses a
// doubly-linked list to maintain recency order for O(1) eviction.
type bucketStore struct {
	mu      sync.Mutex
	buckets map[string]*storeEntry
	order   *list.List // keys in recency order (least recent at front)
	maxSize int
}

func newBucketStore(maxSize int) *bucketStore {
	return &bucketStore{
		buckets: make(map[string]*storeEntry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// getOrCreate returns the bucket for key, creating it if absent, and marks it
// most recently used. Eviction of the least-recent bucket happens here when
// the store is at capacity.
func (s *bucketStore) getOrCreate(key string) *Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.buckets[key]; ok {
		s.order.MoveToBack(entry.element)
		return entry.bucket
	}

	if len(s.buckets) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.order.PushBack(key)
	bucket := NewBucket(key)
	s.buckets[key] = &storeEntry{bucket: bucket, element: elem}
	return bucket
}

// len reports the number of buckets currently held.
func (s *bucketStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// evictOldest removes the least recently used bucket. Must be called with mu
// held.
func (s *bucketStore) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.buckets, key)
}
