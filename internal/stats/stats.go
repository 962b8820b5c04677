// SPDX-License-Identifier: MIT

// Package stats tracks process-wide usage counters.
package stats

import (
	"sync"
	"sync/atomic"
)

// Snapshot is a consistent, read-only view of all counters.
type Snapshot struct {
	Requests    int64 `json:"requests"`
	CacheHits   int64 `json:"cacheHits"`
	BytesServed int64 `json:"bytesServed"`
	ItemsServed int64 `json:"itemsServed"`
}

// Counters holds monotonically increasing usage counters.
//
// Increments are atomic adds taken under the read lock, so the common path
// stays low-contention. Snapshot and Reset take the write lock: a snapshot
// observes either the pre-reset or post-reset state, never a mix.
type Counters struct {
	mu          sync.RWMutex
	requests    atomic.Int64
	cacheHits   atomic.Int64
	bytesServed atomic.Int64
	itemsServed atomic.Int64
}

// New returns zeroed counters.
func New() *Counters {
	return &Counters{}
}

// IncRequests records one resolution request.
func (c *Counters) IncRequests() {
	c.mu.RLock()
	c.requests.Add(1)
	c.mu.RUnlock()
}

// IncCacheHits records one resolution served from cache.
func (c *Counters) IncCacheHits() {
	c.mu.RLock()
	c.cacheHits.Add(1)
	c.mu.RUnlock()
}

// IncItemsServed records one completed relay.
func (c *Counters) IncItemsServed() {
	c.mu.RLock()
	c.itemsServed.Add(1)
	c.mu.RUnlock()
}

// AddBytesServed records n bytes relayed to clients.
func (c *Counters) AddBytesServed(n int64) {
	if n <= 0 {
		return
	}
	c.mu.RLock()
	c.bytesServed.Add(n)
	c.mu.RUnlock()
}

// Snapshot returns a consistent view of all counters.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Requests:    c.requests.Load(),
		CacheHits:   c.cacheHits.Load(),
		BytesServed: c.bytesServed.Load(),
		ItemsServed: c.itemsServed.Load(),
	}
}

// Reset zeroes all counters atomically relative to readers.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests.Store(0)
	c.cacheHits.Store(0)
	c.bytesServed.Store(0)
	c.itemsServed.Store(0)
}

// Persist hands save a snapshot taken while holding the write lock. A
// concurrent Reset cannot interleave between the snapshot and the save, so a
// pre-reset view can never be written out after the reset.
func (c *Counters) Persist(save func(Snapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return save(Snapshot{
		Requests:    c.requests.Load(),
		CacheHits:   c.cacheHits.Load(),
		BytesServed: c.bytesServed.Load(),
		ItemsServed: c.itemsServed.Load(),
	})
}

// Restore seeds the counters from a persisted snapshot, typically at startup.
func (c *Counters) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests.Store(s.Requests)
	c.cacheHits.Store(s.CacheHits)
	c.bytesServed.Store(s.BytesServed)
	c.itemsServed.Store(s.ItemsServed)
}
