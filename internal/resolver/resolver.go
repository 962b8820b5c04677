// SPDX-License-Identifier: MIT

// Package resolver maps normalized source URLs to ranked variant lists,
// caching results with TTL expiry and single-flight extraction.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vidgate/vidgate/internal/extract"
	"github.com/vidgate/vidgate/internal/log"
	"github.com/vidgate/vidgate/internal/metrics"
	"github.com/vidgate/vidgate/internal/normalize"
	"github.com/vidgate/vidgate/internal/stats"
	"github.com/vidgate/vidgate/internal/store"
	"github.com/vidgate/vidgate/internal/variant"
)

// ResolvedResult is one immutable resolution outcome. A refresh produces a
// new value rather than mutating a stored one.
type ResolvedResult struct {
	Title      string
	Variants   []variant.MediaVariant
	ResolvedAt time.Time
}

type cacheEntry struct {
	result    ResolvedResult
	expiresAt time.Time
}

// Resolver is the resolution cache. Reads and writes for a key are
// serialized: the in-memory map sits behind a RWMutex and extraction runs
// under a singleflight group, so N concurrent misses on one key trigger
// exactly one extractor invocation.
type Resolver struct {
	extractor extract.Client
	store     store.Store
	counters  *stats.Counters
	ttl       time.Duration
	logger    zerolog.Logger

	sf singleflight.Group
	// baseCtx detaches shared resolution work from any single caller, so one
	// client disconnect does not fail the flight other callers joined.
	baseCtx context.Context

	mu      sync.RWMutex
	entries map[string]cacheEntry
	// hosts accumulates the upstream hosts of every variant handed out, so
	// the relay can refuse URLs vidgate never produced.
	hosts map[string]struct{}

	now func() time.Time
}

// New builds a Resolver. baseCtx bounds the lifetime of in-flight
// resolutions; it should outlive individual requests (process root context).
func New(baseCtx context.Context, extractor extract.Client, st store.Store, counters *stats.Counters, ttl time.Duration) *Resolver {
	if st == nil {
		st = store.NewNoop()
	}
	return &Resolver{
		extractor: extractor,
		store:     st,
		counters:  counters,
		ttl:       ttl,
		logger:    log.WithComponent("resolver"),
		baseCtx:   baseCtx,
		entries:   make(map[string]cacheEntry),
		hosts:     make(map[string]struct{}),
		now:       time.Now,
	}
}

// GetOrResolve returns the fresh cached result for rawURL, or performs a
// single-flight extraction on miss. Every call counts as a request; fresh
// cache reads additionally count as hits. Failed resolutions never create
// cache entries.
func (r *Resolver) GetOrResolve(ctx context.Context, rawURL string) (ResolvedResult, error) {
	r.counters.IncRequests()

	key, err := normalize.Source(rawURL)
	if err != nil {
		metrics.IncResolve("invalid")
		return ResolvedResult{}, err
	}

	if res, ok := r.lookup(key); ok {
		r.counters.IncCacheHits()
		metrics.IncResolve("hit")
		return res, nil
	}

	// Durable tier: a warm entry from a previous process still counts as a hit.
	if rec, ok, err := r.store.LoadResult(ctx, key); err == nil && ok {
		if expiry := rec.ResolvedAt.Add(r.ttl); r.now().Before(expiry) {
			res := ResolvedResult{Title: rec.Title, Variants: rec.Variants, ResolvedAt: rec.ResolvedAt}
			r.put(key, res, expiry)
			r.counters.IncCacheHits()
			metrics.IncResolve("hit")
			return res, nil
		}
	} else if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("durable store read failed")
	}

	ch := r.sf.DoChan(key, func() (any, error) {
		return r.resolve(key)
	})

	select {
	case <-ctx.Done():
		return ResolvedResult{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			metrics.IncResolve("failure")
			return ResolvedResult{}, out.Err
		}
		return out.Val.(ResolvedResult), nil
	}
}

// resolve performs one extraction + selection for key and stores the result.
// Runs at most once per key at a time (singleflight).
func (r *Resolver) resolve(key string) (ResolvedResult, error) {
	// A racer may have completed a flight between our miss and this call.
	if res, ok := r.lookup(key); ok {
		return res, nil
	}

	start := r.now()
	exRes, err := r.extractor.Resolve(r.baseCtx, key)
	if err != nil {
		return ResolvedResult{}, err
	}

	variants, err := variant.Select(exRes.Descriptors)
	if err != nil {
		return ResolvedResult{}, fmt.Errorf("%w: %s", err, key)
	}

	resolvedAt := r.now()
	res := ResolvedResult{Title: exRes.Title, Variants: variants, ResolvedAt: resolvedAt}
	r.put(key, res, resolvedAt.Add(r.ttl))

	rec := store.Record{Title: res.Title, Variants: res.Variants, ResolvedAt: res.ResolvedAt}
	if err := r.store.SaveResult(r.baseCtx, key, rec, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("durable store write failed")
	}

	metrics.IncResolve("miss")
	metrics.ObserveResolveDuration(r.now().Sub(start))
	r.logger.Info().
		Str("key", key).
		Int("variants", len(variants)).
		Dur("took", r.now().Sub(start)).
		Msg("resolved source")

	return res, nil
}

// lookup returns the cached result if present and not yet expired.
// Expiry is checked lazily at read time; no background sweep runs.
func (r *Resolver) lookup(key string) (ResolvedResult, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok || !r.now().Before(e.expiresAt) {
		return ResolvedResult{}, false
	}
	return e.result, true
}

// put stores a result, never replacing a newer one (monotonic freshness),
// and registers the variants' upstream hosts for the relay gate.
func (r *Resolver) put(key string, res ResolvedResult, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range res.Variants {
		if u, err := url.Parse(v.URL); err == nil {
			if h := strings.ToLower(u.Hostname()); h != "" {
				r.hosts[h] = struct{}{}
			}
		}
	}
	if cur, ok := r.entries[key]; ok && cur.result.ResolvedAt.After(res.ResolvedAt) {
		return
	}
	r.entries[key] = cacheEntry{result: res, expiresAt: expiresAt}
}

// AllowedUpstream reports whether host serves a variant returned by a prior
// resolution. The relay only proxies hosts vidgate itself handed out.
func (r *Resolver) AllowedUpstream(host string) bool {
	host = strings.ToLower(host)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hosts[host]
	return ok
}

// Clear drops every in-memory entry and known upstream host
// (administrative reset).
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]cacheEntry)
	r.hosts = make(map[string]struct{})
}
