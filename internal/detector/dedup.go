package detector

import (
	"sync"

	"github.com/perpwatch/engine/internal/model"
)

// DedupCache is a bounded recency cache over alert signatures. Once
// size exceeds cap, the oldest entries are evicted down to retain.
// Very old signatures therefore become eligible again after enough
// volume, which caps memory at the cost of re-alerting after long
// quiescence.
type DedupCache struct {
	mu      sync.Mutex
	cap     int
	retain  int
	seen    map[model.AlertSignature]struct{}
	ordered []model.AlertSignature // insertion order, oldest first
}

// NewDedupCache creates a cache that evicts down to retain entries
// once size exceeds cap. retain must be less than cap.
func NewDedupCache(cap, retain int) *DedupCache {
	return &DedupCache{
		cap:    cap,
		retain: retain,
		seen:   make(map[model.AlertSignature]struct{}, cap),
	}
}

// ShouldEmit reports whether a signature has not been recorded within
// the cache's retention horizon.
func (c *DedupCache) ShouldEmit(sig model.AlertSignature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[sig]
	return !ok
}

// Record marks a signature as emitted, evicting the oldest half when
// the cap is exceeded.
func (c *DedupCache) Record(sig model.AlertSignature) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[sig]; ok {
		return
	}

	c.seen[sig] = struct{}{}
	c.ordered = append(c.ordered, sig)

	if len(c.ordered) > c.cap {
		cut := len(c.ordered) - c.retain
		for _, old := range c.ordered[:cut] {
			delete(c.seen, old)
		}
		c.ordered = append(c.ordered[:0], c.ordered[cut:]...)
	}
}

// Len returns the number of signatures currently retained.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ordered)
}
