// Package cache provides a small TTL'd LRU used for transient lookups
// such as swap quotes. Everything cached here is advisory: disabling
// the cache must never change a computed result, only its cost.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type entry struct {
	value    interface{}
	deadline time.Time
}

// TTL is an LRU cache whose entries expire after a fixed duration.
type TTL struct {
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

// NewTTL creates a cache holding at most size entries for at most ttl.
func NewTTL(size int, ttl time.Duration) (*TTL, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	inner, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &TTL{lru: inner, ttl: ttl, now: time.Now}, nil
}

// Get returns the live value for key, if any. Expired entries are
// removed on access.
func (c *TTL) Get(key uint64) (interface{}, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if c.now().After(e.deadline) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Add stores value under key with a fresh deadline.
func (c *TTL) Add(key uint64, value interface{}) {
	c.lru.Add(key, entry{value: value, deadline: c.now().Add(c.ttl)})
}

// Len reports the number of entries currently held, including any that
// have expired but not yet been evicted.
func (c *TTL) Len() int {
	return c.lru.Len()
}
