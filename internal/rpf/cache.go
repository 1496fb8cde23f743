// Package rpf provides the reverse-path-forwarding result cache owned by each
// PIM instance.
//
// Entries are cache-only: dropping one costs a fresh routing lookup, never
// correctness. The cache has no per-entry expiry. Stale entries are removed
// by explicit Delete calls from the code that learns of a routing change,
// and the whole cache is drained through a caller-supplied cleanup action
// when the owning instance terminates.
package rpf

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrInvalidCapacity indicates a non-positive cache capacity.
var ErrInvalidCapacity = errors.New("rpf cache capacity must be > 0")

// Hasher supplies the hash and equality functions for a key type. The key
// shape is route-specific, so the cache does not require comparable keys.
type Hasher[K any] interface {
	Hash(key K) uint64
	Equal(a, b K) bool
}

type entry[K, V any] struct {
	key   K
	value V
}

// bucket chains the entries whose keys share a hash.
type bucket[K, V any] struct {
	entries []entry[K, V]
}

func (b *bucket[K, V]) find(h Hasher[K], key K) int {
	for i := range b.entries {
		if h.Equal(b.entries[i].key, key) {
			return i
		}
	}
	return -1
}

// Cache is a hash-indexed cache with pluggable key hashing.
//
// Buckets are kept in recency order. When more than capacity buckets are
// live the least recently used bucket is dropped and onEvict (if set) runs
// for each of its entries.
//
// Cache is not safe for concurrent use; it belongs to a single instance on
// the daemon's event loop.
type Cache[K, V any] struct {
	name     string
	hasher   Hasher[K]
	buckets  *lru.Cache[uint64, *bucket[K, V]]
	size     int
	onEvict  func(K, V)
	draining bool
}

// New creates an empty cache. name identifies the cache in logs.
func New[K, V any](name string, capacity int, hasher Hasher[K], onEvict func(K, V)) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("create %s: %w", name, ErrInvalidCapacity)
	}

	c := &Cache[K, V]{
		name:    name,
		hasher:  hasher,
		onEvict: onEvict,
	}

	buckets, err := lru.NewWithEvict[uint64, *bucket[K, V]](capacity, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	c.buckets = buckets

	return c, nil
}

// evicted is the lru callback. It fires for capacity eviction, Remove and
// Purge; only capacity eviction of a non-empty bucket needs handling.
func (c *Cache[K, V]) evicted(_ uint64, b *bucket[K, V]) {
	if c.draining || len(b.entries) == 0 {
		return
	}

	c.size -= len(b.entries)
	if c.onEvict != nil {
		for _, e := range b.entries {
			c.onEvict(e.key, e.value)
		}
	}
	b.entries = nil
}

// Name returns the cache name.
func (c *Cache[K, V]) Name() string { return c.name }

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int { return c.size }

// Get returns the cached value for key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	b, ok := c.buckets.Get(c.hasher.Hash(key))
	if !ok {
		return zero, false
	}
	i := b.find(c.hasher, key)
	if i < 0 {
		return zero, false
	}
	return b.entries[i].value, true
}

// Put stores value under key. If key was present its previous value is
// returned with replaced set; the caller owns the previous value.
func (c *Cache[K, V]) Put(key K, value V) (V, bool) {
	var zero V

	h := c.hasher.Hash(key)
	b, ok := c.buckets.Get(h)
	if !ok {
		c.buckets.Add(h, &bucket[K, V]{entries: []entry[K, V]{{key: key, value: value}}})
		c.size++
		return zero, false
	}

	if i := b.find(c.hasher, key); i >= 0 {
		old := b.entries[i].value
		b.entries[i].value = value
		return old, true
	}

	b.entries = append(b.entries, entry[K, V]{key: key, value: value})
	c.size++
	return zero, false
}

// Delete removes key and returns its value. The caller owns the value.
func (c *Cache[K, V]) Delete(key K) (V, bool) {
	var zero V

	h := c.hasher.Hash(key)
	b, ok := c.buckets.Peek(h)
	if !ok {
		return zero, false
	}
	i := b.find(c.hasher, key)
	if i < 0 {
		return zero, false
	}

	old := b.entries[i].value
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	c.size--

	if len(b.entries) == 0 {
		c.buckets.Remove(h)
	}
	return old, true
}

// Range calls fn for every entry, least recently used bucket first, until
// fn returns false. fn must not modify the cache.
func (c *Cache[K, V]) Range(fn func(K, V) bool) {
	for _, b := range c.buckets.Values() {
		for _, e := range b.entries {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

// Drain runs cleanup for every entry and empties the cache. It returns the
// number of entries released. cleanup may be nil.
func (c *Cache[K, V]) Drain(cleanup func(K, V)) int {
	released := 0
	for _, b := range c.buckets.Values() {
		for _, e := range b.entries {
			if cleanup != nil {
				cleanup(e.key, e.value)
			}
			released++
		}
		b.entries = nil
	}

	c.draining = true
	c.buckets.Purge()
	c.draining = false
	c.size = 0

	return released
}
