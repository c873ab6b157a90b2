// Package cache provides the gatekeeper's credential cache: a pair of
// in-memory, capacity-bounded LRU stores (validated claims and user
// profiles) with per-entry TTL.
//
// Both stores share one lock. [Credentials.ResetAll] clears and reseeds the
// pair under that lock, so no reader can observe one store cleared while
// the other still holds entries.
//
// Every reset advances a generation counter. A writer that read the
// generation before a slow lookup stores its result with
// [Store.SetIfGeneration], which drops the write if a reset happened in
// between.
//
// Eviction is purely a memory policy: there are no callbacks, and an
// evicted or expired entry is only observable as a subsequent miss.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is the per-store entry bound used when capacity <= 0 is
// passed to [New].
const DefaultCapacity = 1000

// entry is a cached value and the instant after which it is stale.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Option configures [New].
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for expiry decisions. Tests use it to move
// time forward without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Store is one expiring LRU key/value store. Stores are created by [New]
// and share their parent's lock; they are safe for concurrent use.
type Store[V any] struct {
	mu  *sync.Mutex
	gen *uint64
	lru *simplelru.LRU[string, entry[V]]
	now func() time.Time
}

// Generation returns the number of resets performed so far.
func (s *Store[V]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.gen
}

// Get returns the value stored under key. A hit refreshes the entry's
// recency. An entry past its TTL is removed and reported as absent.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.lru.Get(key)
	if !ok {
		return zero, false
	}
	if s.now().After(e.expiresAt) {
		s.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. When the store is full the least
// recently used entry is evicted. A non-positive ttl stores nothing.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
}

// SetIfGeneration is [Store.Set] conditioned on no reset having happened
// since gen was read from [Store.Generation]. It reports whether the value
// was stored.
func (s *Store[V]) SetIfGeneration(key string, value V, ttl time.Duration, gen uint64) bool {
	if ttl <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if *s.gen != gen {
		return false
	}
	s.setLocked(key, value, ttl)
	return true
}

func (s *Store[V]) setLocked(key string, value V, ttl time.Duration) {
	s.lru.Add(key, entry[V]{value: value, expiresAt: s.now().Add(ttl)})
}

// Remove deletes key. It reports whether the key was present.
func (s *Store[V]) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(key)
}

// Len returns the number of entries held, including expired entries that
// have not been looked up since they went stale.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Seed is an entry inserted into both stores by [Credentials.ResetAll].
type Seed[C, P any] struct {
	Key     string
	Claims  C
	Profile P
	TTL     time.Duration
}

// Credentials is the pair of stores consulted by the authentication
// pipeline. C is the claims type and P the profile type.
type Credentials[C, P any] struct {
	mu       sync.Mutex
	gen      uint64
	Claims   *Store[C]
	Profiles *Store[P]
}

// New creates a credential cache with capacity entries per store. A
// capacity <= 0 selects [DefaultCapacity].
func New[C, P any](capacity int, opts ...Option) (*Credentials[C, P], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	claims, err := simplelru.NewLRU[string, entry[C]](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create claims store: %w", err)
	}
	profiles, err := simplelru.NewLRU[string, entry[P]](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create profile store: %w", err)
	}

	c := &Credentials[C, P]{}
	c.Claims = &Store[C]{mu: &c.mu, gen: &c.gen, lru: claims, now: o.now}
	c.Profiles = &Store[P]{mu: &c.mu, gen: &c.gen, lru: profiles, now: o.now}
	return c, nil
}

// ResetAll empties both stores and then inserts seeds, as one atomic step.
// Seeds with a non-positive TTL are skipped. The generation is advanced.
func (c *Credentials[C, P]) ResetAll(seeds ...Seed[C, P]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.Claims.lru.Purge()
	c.Profiles.lru.Purge()
	for _, s := range seeds {
		if s.TTL <= 0 {
			continue
		}
		c.Claims.setLocked(s.Key, s.Claims, s.TTL)
		c.Profiles.setLocked(s.Key, s.Profile, s.TTL)
	}
}
