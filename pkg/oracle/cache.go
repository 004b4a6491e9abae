package oracle

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DecisionCache memoises permission decisions. Entries are keyed under a
// generation counter; Invalidate bumps the generation, which orphans every
// existing entry at once without walking the LRU. Orphans age out via TTL.
type DecisionCache struct {
	lru *expirable.LRU[string, Decision]
	gen atomic.Uint64
}

const (
	defaultCacheSize = 8192
	defaultCacheTTL  = 30 * time.Second
)

// NewDecisionCache creates a cache with the given capacity and entry TTL.
// Zero values select the defaults.
func NewDecisionCache(size int, ttl time.Duration) *DecisionCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &DecisionCache{
		lru: expirable.NewLRU[string, Decision](size, nil, ttl),
	}
}

func (c *DecisionCache) key(k string) string {
	return fmt.Sprintf("%d|%s", c.gen.Load(), k)
}

// Get returns a cached decision from the current generation.
func (c *DecisionCache) Get(k string) (Decision, bool) {
	return c.lru.Get(c.key(k))
}

// Put records a decision under the current generation.
func (c *DecisionCache) Put(k string, d Decision) {
	c.lru.Add(c.key(k), d)
}

// Invalidate discards all cached decisions. Callers invoke it after any
// committed mutation; decisions depend on shared state in ways a per-key
// eviction cannot track.
func (c *DecisionCache) Invalidate() {
	c.gen.Add(1)
}

// Len reports the number of live entries, stale generations included.
func (c *DecisionCache) Len() int {
	return c.lru.Len()
}
