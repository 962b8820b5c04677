// SPDX-License-Identifier: MIT

// Package store persists resolved results and usage counters so restarts keep
// warm state. The resolver treats it strictly as the durable tier behind its
// in-memory cache.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vidgate/vidgate/internal/stats"
	"github.com/vidgate/vidgate/internal/variant"
)

// SchemaVersion tags persisted records so a future layout change can detect
// and discard stale rows instead of misreading them.
const SchemaVersion = 1

// Record is the versioned serialized form of one resolved result.
// Variant ordering is preserved exactly.
type Record struct {
	Version    int                    `json:"v"`
	Title      string                 `json:"title"`
	Variants   []variant.MediaVariant `json:"variants"`
	ResolvedAt time.Time              `json:"resolvedAt"`
}

// Store is a keyed record store with two logical tables: resolved results
// keyed by normalized source URL, and a singleton counters row.
type Store interface {
	LoadResult(ctx context.Context, key string) (Record, bool, error)
	SaveResult(ctx context.Context, key string, rec Record, ttl time.Duration) error
	LoadCounters(ctx context.Context) (stats.Snapshot, bool, error)
	SaveCounters(ctx context.Context, s stats.Snapshot) error
	// Purge removes all persisted results and counters (administrative reset).
	Purge(ctx context.Context) error
	Close() error
}

// Options configures the concrete backend.
type Options struct {
	// Path is the badger data directory.
	Path string
	// Addr, Password, DB configure the redis backend.
	Addr     string
	Password string
	DB       int
}

// Open creates a Store for the named backend: "memory" (no durable tier),
// "badger" or "redis".
func Open(backend string, opts Options) (Store, error) {
	switch backend {
	case "", "memory":
		return NewNoop(), nil
	case "badger":
		return OpenBadger(opts.Path)
	case "redis":
		return OpenRedis(opts)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}

// noopStore is the "memory" backend: the resolver's own map is the only cache
// and nothing survives a restart.
type noopStore struct{}

// NewNoop returns a Store that persists nothing.
func NewNoop() Store { return noopStore{} }

func (noopStore) LoadResult(context.Context, string) (Record, bool, error) {
	return Record{}, false, nil
}
func (noopStore) SaveResult(context.Context, string, Record, time.Duration) error { return nil }
func (noopStore) LoadCounters(context.Context) (stats.Snapshot, bool, error) {
	return stats.Snapshot{}, false, nil
}
func (noopStore) SaveCounters(context.Context, stats.Snapshot) error { return nil }
func (noopStore) Purge(context.Context) error                        { return nil }
func (noopStore) Close() error                                       { return nil }
