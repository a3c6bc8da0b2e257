// Package paircache implements a bounded memo table keyed by ordered pairs.
//
// It is used by pairwise recursive algorithms, such as automaton
// intersection, that may revisit a pair while it is still being computed.
// Revisiting an in-progress pair yields a default answer instead of
// recursing forever.
package paircache

import (
	"fmt"
	"hash/maphash"
)

// MaxCacheSize is the capacity of a cache created with New.
const MaxCacheSize = 5000

// OrderedPair is a pair of node identities plus a flag. Pairs are ordered:
// (a, b) and (b, a) are different keys, as are pairs differing in Flag.
type OrderedPair[T comparable] struct {
	First  T
	Second T
	Flag   bool
}

// NewOrderedPair returns a new pair.
func NewOrderedPair[T comparable](first, second T, flag bool) OrderedPair[T] {
	return OrderedPair[T]{First: first, Second: second, Flag: flag}
}

// Hash returns the hash of the pair for the given seed. Equal pairs hash
// equally.
func (p OrderedPair[T]) Hash(seed maphash.Seed) uint64 {
	return maphash.Comparable(seed, p)
}

func (p OrderedPair[T]) String() string {
	if p.Flag {
		return fmt.Sprintf("(%v, %v)*", p.First, p.Second)
	}
	return fmt.Sprintf("(%v, %v)", p.First, p.Second)
}

// Cache maps ordered pairs to results. A cache is not safe for concurrent
// use; recursive computations share one cache per top-level query.
type Cache[T comparable, V any] struct {
	entries  map[OrderedPair[T]]V
	capacity int
}

// New returns an empty cache holding up to MaxCacheSize pairs.
func New[T comparable, V any]() *Cache[T, V] {
	return NewWithCapacity[T, V](MaxCacheSize)
}

// NewWithCapacity returns an empty cache holding up to capacity pairs.
func NewWithCapacity[T comparable, V any](capacity int) *Cache[T, V] {
	return &Cache[T, V]{
		entries:  make(map[OrderedPair[T]]V),
		capacity: capacity,
	}
}

// StartCalculation begins the computation of p.
//
// It returns false the first time p is seen, after recording def as the
// placeholder result; the caller computes the result and passes it to Save.
// Otherwise it returns the saved result, or the placeholder while p is
// still being computed, and true.
//
// Once the cache is full, new pairs are not recorded and def is returned
// with true.
func (c *Cache[T, V]) StartCalculation(p OrderedPair[T], def V) (V, bool) {
	if v, ok := c.entries[p]; ok {
		return v, true
	} else if len(c.entries) >= c.capacity {
		return def, true
	}
	c.entries[p] = def
	return def, false
}

// Save records the result of p and returns it. Results of pairs that were
// never started, because the cache was full, are not recorded.
func (c *Cache[T, V]) Save(p OrderedPair[T], v V) V {
	if _, ok := c.entries[p]; ok {
		c.entries[p] = v
	}
	return v
}

// Len returns the number of recorded pairs.
func (c *Cache[T, V]) Len() int { return len(c.entries) }

// Cap returns the capacity of the cache.
func (c *Cache[T, V]) Cap() int { return c.capacity }
