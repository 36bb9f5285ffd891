package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tejusbharadwaj/tscore/internal/timeseries"
)

// aggregateCache memoizes aggregation results per series. Entries are keyed
// by series id first so a mutation can drop everything derived from it.
// A nil cache is a valid, always-missing cache.
//
// Each series carries a generation bumped on invalidation. A result computed
// from a read that started before a mutation is dropped rather than cached.
type aggregateCache struct {
	lru *lru.Cache

	mu   sync.Mutex
	gens map[string]uint64
}

func newAggregateCache(size int) (*aggregateCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregate cache: %w", err)
	}
	return &aggregateCache{lru: c, gens: make(map[string]uint64)}, nil
}

func cacheKey(id string, kind timeseries.AggregationType, from, to time.Time, period string) string {
	return fmt.Sprintf("%s\x00%d\x00%d\x00%d\x00%s", id, kind, from.UnixNano(), to.UnixNano(), period)
}

func (c *aggregateCache) get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

// generation must be read before the repository so add can tell whether
// the series changed in between.
func (c *aggregateCache) generation(id string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id]
}

// add stores value unless series id was invalidated since gen was read.
func (c *aggregateCache) add(id string, gen uint64, key string, value any) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[id] != gen {
		return false
	}
	c.lru.Add(key, value)
	return true
}

// invalidate drops every entry derived from series id.
func (c *aggregateCache) invalidate(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[id]++
	prefix := id + "\x00"
	for _, k := range c.lru.Keys() {
		if key, ok := k.(string); ok && strings.HasPrefix(key, prefix) {
			c.lru.Remove(k)
		}
	}
}

func (c *aggregateCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
