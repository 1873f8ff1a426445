package ingest

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxSeenKeys bounds the sliding window of idempotency keys an ingestor
// remembers. Once the window holds more than MaxSeenKeys entries, the oldest
// half is pruned in one pass (see seenKeys.add).
const MaxSeenKeys = 2000

// seenKeys tracks idempotency keys in insertion order so the oldest-half
// prune policy is well defined. It wraps an LRU cache sized generously above
// MaxSeenKeys so Contains/Add never trigger the library's own one-at-a-time
// eviction before our bulk prune runs — membership checks never touch
// recency, so "oldest" always means "earliest inserted".
type seenKeys struct {
	cache *lru.Cache[string, struct{}]
}

func newSeenKeys() *seenKeys {
	// Capacity is a safety net only; add() enforces the real MaxSeenKeys
	// policy before the cache would ever hit it.
	c, _ := lru.New[string, struct{}](MaxSeenKeys * 4)
	return &seenKeys{cache: c}
}

// contains reports whether key has been seen. It does not affect recency.
func (s *seenKeys) contains(key string) bool {
	return s.cache.Contains(key)
}

// add records key as seen, then prunes the oldest half of the window if it
// has grown past MaxSeenKeys.
func (s *seenKeys) add(key string) {
	s.cache.Add(key, struct{}{})

	if s.cache.Len() <= MaxSeenKeys {
		return
	}

	toRemove := s.cache.Len() / 2
	for i := 0; i < toRemove; i++ {
		if _, _, ok := s.cache.RemoveOldest(); !ok {
			break
		}
	}
}

func (s *seenKeys) len() int {
	return s.cache.Len()
}
