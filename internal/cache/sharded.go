// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package cache provides a concurrency-safe, sharded LRU cache.
package cache

import (
	"container/list"
	"hash/maphash"
	"sync"
	"sync/atomic"
)

// Default configuration constants.
const (
	// ShardCount is the number of shards. Must be a power of 2.
	ShardCount = 8

	// DefaultCapacity is the default maximum entries per shard.
	DefaultCapacity = 16

	shardMask = ShardCount - 1
)

// Stats is a snapshot of cache activity.
type Stats struct {
	Len       int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Sharded is a sharded LRU cache keyed by K.
//
// Each shard has its own lock and evicts its least recently used entry
// once it holds capacity entries.
type Sharded[K comparable, V any] struct {
	shards   [ShardCount]shard[K, V]
	seed     maphash.Seed
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*list.Element
	lru     list.List // front is most recent; values are *entry[K, V]
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache holding up to capacity entries per shard.
// If capacity <= 0, DefaultCapacity is used.
func New[K comparable, V any](capacity int) *Sharded[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Sharded[K, V]{seed: maphash.MakeSeed(), capacity: capacity}
	for i := range c.shards {
		c.shards[i].entries = make(map[K]*list.Element)
	}
	return c
}

func (c *Sharded[K, V]) shardFor(key K) *shard[K, V] {
	return &c.shards[maphash.Comparable(c.seed, key)&shardMask]
}

// Get returns the value cached for key.
func (c *Sharded[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.lru.MoveToFront(el)
		c.hits.Add(1)
		return el.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// GetOrCreate returns the cached value for key, creating it with create
// on a miss. create runs with the shard lock held, so concurrent callers
// for the same key wait for a single creation.
func (c *Sharded[K, V]) GetOrCreate(key K, create func() V) V {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.lru.MoveToFront(el)
		c.hits.Add(1)
		return el.Value.(*entry[K, V]).value
	}
	c.misses.Add(1)

	value := create()
	for s.lru.Len() >= c.capacity {
		oldest := s.lru.Back()
		delete(s.entries, oldest.Value.(*entry[K, V]).key)
		s.lru.Remove(oldest)
		c.evictions.Add(1)
	}
	s.entries[key] = s.lru.PushFront(&entry[K, V]{key: key, value: value})
	return value
}

// Len returns the number of cached entries.
func (c *Sharded[K, V]) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Clear removes all entries. Statistics are kept.
func (c *Sharded[K, V]) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		clear(s.entries)
		s.lru.Init()
		s.mu.Unlock()
	}
}

// Stats returns current cache statistics.
func (c *Sharded[K, V]) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
