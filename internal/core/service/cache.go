package service

import (
	"sync"
	"time"

	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
	"k8s.io/apimachinery/pkg/util/cache"
)

// CallCache memoizes read results of one device session.
//
// Every invalidation bumps a generation counter. A read that missed records
// the generation it saw and its result is only stored if no invalidation
// happened meanwhile, so a read racing a mutation never repopulates the
// cache with pre-mutation state. While a mutation is pending, lookups miss.
type CallCache struct {
	mu         sync.Mutex
	entries    *cache.LRUExpireCache
	ttl        time.Duration
	generation uint64
	pending    int
}

func NewCallCache(size int, ttl time.Duration, clock cache.Clock) *CallCache {
	return &CallCache{
		entries: cache.NewLRUExpireCacheWithClock(size, clock),
		ttl:     ttl,
	}
}

// Get returns the cached result for key and the generation observed.
func (c *CallCache) Get(key string) (*scalarweb.Result, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending > 0 || c.ttl <= 0 {
		return nil, c.generation, false
	}
	value, ok := c.entries.Get(key)
	if !ok {
		return nil, c.generation, false
	}
	return value.(*scalarweb.Result), c.generation, true
}

// Put stores res unless the cache was invalidated after generation.
func (c *CallCache) Put(key string, res *scalarweb.Result, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 || c.pending > 0 || generation != c.generation {
		return false
	}
	c.entries.Add(key, res, c.ttl)
	return true
}

// BeginMutation drops every entry and keeps lookups missing until the
// matching EndMutation.
func (c *CallCache) BeginMutation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
	c.pending++
}

func (c *CallCache) EndMutation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
	if c.pending > 0 {
		c.pending--
	}
}

func (c *CallCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *CallCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries.Keys())
}

func (c *CallCache) invalidateLocked() {
	c.generation++
	c.entries.RemoveAll(func(any) bool { return true })
}
