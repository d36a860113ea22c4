// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
	"github.com/AleutianAI/iac-rollup/services/rollup/impact"
)

// Default TTLs per key class. Cycles change less often than simple
// traversals, so they live longer.
const (
	DefaultDownstreamTTL = 1800 * time.Second
	DefaultUpstreamTTL   = 1800 * time.Second
	DefaultCyclesTTL     = 3600 * time.Second
	DefaultImpactTTL     = 1800 * time.Second

	// DefaultWarmupConcurrency bounds concurrent warmup fills.
	DefaultWarmupConcurrency = 4
)

// GraphQueries is the slice of graph operations the cache can warm and
// memoize. *graph.Graph satisfies it.
type GraphQueries interface {
	FindReachableNodes(ctx context.Context, fromID string, opts ...graph.ReachOption) (map[string]int, error)
	FindNodesThatReach(ctx context.Context, toID string, opts ...graph.ReachOption) (map[string]int, error)
	FindCyclesTarjan(ctx context.Context) ([]graph.CycleInfo, error)
}

// ResultCacheOptions configures a ResultCache.
type ResultCacheOptions struct {
	// DownstreamTTL / UpstreamTTL / CyclesTTL / ImpactTTL are
	// per-key-class TTLs.
	DownstreamTTL time.Duration
	UpstreamTTL   time.Duration
	CyclesTTL     time.Duration
	ImpactTTL     time.Duration

	// WarmupConcurrency bounds concurrent warmup fills.
	WarmupConcurrency int

	// Logger receives swallowed backend errors. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultResultCacheOptions returns sensible defaults.
func DefaultResultCacheOptions() ResultCacheOptions {
	return ResultCacheOptions{
		DownstreamTTL:     DefaultDownstreamTTL,
		UpstreamTTL:       DefaultUpstreamTTL,
		CyclesTTL:         DefaultCyclesTTL,
		ImpactTTL:         DefaultImpactTTL,
		WarmupConcurrency: DefaultWarmupConcurrency,
		Logger:            slog.Default(),
	}
}

// ResultCacheOption is a functional option for configuring ResultCache.
type ResultCacheOption func(*ResultCacheOptions)

// WithTTLs overrides the per-key-class TTLs. Non-positive values keep the
// defaults.
func WithTTLs(downstream, upstream, cycles time.Duration) ResultCacheOption {
	return func(o *ResultCacheOptions) {
		if downstream > 0 {
			o.DownstreamTTL = downstream
		}
		if upstream > 0 {
			o.UpstreamTTL = upstream
		}
		if cycles > 0 {
			o.CyclesTTL = cycles
		}
	}
}

// WithImpactTTL overrides the blast-radius TTL. Non-positive values keep
// the default.
func WithImpactTTL(d time.Duration) ResultCacheOption {
	return func(o *ResultCacheOptions) {
		if d > 0 {
			o.ImpactTTL = d
		}
	}
}

// WithWarmupConcurrency bounds concurrent warmup fills.
func WithWarmupConcurrency(n int) ResultCacheOption {
	return func(o *ResultCacheOptions) {
		if n > 0 {
			o.WarmupConcurrency = n
		}
	}
}

// WithCacheLogger sets the logger for swallowed backend errors.
func WithCacheLogger(l *slog.Logger) ResultCacheOption {
	return func(o *ResultCacheOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// ResultCache memoizes expensive graph queries.
//
// # Description
//
// Reads are get-or-compute: a hit skips computation entirely; a miss runs
// the wrapped computation, stores the JSON-encoded result, and returns it.
// Concurrent misses for one key share a single computation through
// singleflight. Invalidation is explicit and scan-scoped.
//
// # Key Format
//
//	downstream:{scanId}:{nodeId}:{maxDepth}
//	upstream:{scanId}:{nodeId}:{maxDepth}
//	cycles:{scanId}
//	impact:{scanId}:{queryHash}
//
// # Error Handling
//
// Backend errors are swallowed and logged: a failing Get degrades to a
// miss, a failing Set leaves the computed result uncached. The caller
// always gets a computed result or the computation's own error.
//
// # Thread Safety
//
// Safe for concurrent use.
type ResultCache struct {
	backend Backend
	flight  singleflight.Group
	options ResultCacheOptions

	// Stats
	hits          int64
	misses        int64
	computes      int64
	errorCount    int64
	invalidations int64
}

// NewResultCache creates a ResultCache over a backend.
func NewResultCache(backend Backend, opts ...ResultCacheOption) *ResultCache {
	options := DefaultResultCacheOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &ResultCache{backend: backend, options: options}
}

// DownstreamKey builds the cache key for a forward reachability query.
func DownstreamKey(scanID, nodeID string, maxDepth int) string {
	return fmt.Sprintf("downstream:%s:%s:%d", scanID, nodeID, maxDepth)
}

// UpstreamKey builds the cache key for a reverse reachability query.
func UpstreamKey(scanID, nodeID string, maxDepth int) string {
	return fmt.Sprintf("upstream:%s:%s:%d", scanID, nodeID, maxDepth)
}

// CyclesKey builds the cache key for a scan's cycle analysis.
func CyclesKey(scanID string) string {
	return "cycles:" + scanID
}

// ImpactKey builds the cache key for a blast-radius analysis. The hash
// must be stable across equivalent queries; the caller canonicalizes.
func ImpactKey(scanID, queryHash string) string {
	return "impact:" + scanID + ":" + queryHash
}

// getOrCompute implements the shared get-or-compute path. The computed
// value is JSON-encoded for storage; concurrent misses share one
// computation keyed by the cache key.
func (c *ResultCache) getOrCompute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	compute func(context.Context) (any, error),
	dest any,
) error {
	if value, ok := c.lookup(ctx, key); ok {
		if err := json.Unmarshal([]byte(value), dest); err == nil {
			atomic.AddInt64(&c.hits, 1)
			return nil
		}
		// Corrupt entry: drop it and fall through to compute.
		c.dropCorrupt(ctx, key)
	}
	atomic.AddInt64(&c.misses, 1)

	encoded, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check: another flight may have filled the key while this
		// caller was queued.
		if value, ok := c.lookup(ctx, key); ok {
			return value, nil
		}

		atomic.AddInt64(&c.computes, 1)
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode cache value: %w", err)
		}
		if err := c.backend.Set(ctx, key, string(data), ttl); err != nil {
			atomic.AddInt64(&c.errorCount, 1)
			c.options.Logger.Warn("cache set failed, result left uncached",
				slog.String("key", key), slog.Any("error", err))
		}
		return string(data), nil
	})
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(encoded.(string)), dest)
}

// lookup reads the backend, degrading errors to a miss.
func (c *ResultCache) lookup(ctx context.Context, key string) (string, bool) {
	value, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		atomic.AddInt64(&c.errorCount, 1)
		c.options.Logger.Warn("cache get failed, treating as miss",
			slog.String("key", key), slog.Any("error", err))
		return "", false
	}
	return value, ok
}

// dropCorrupt removes an undecodable entry.
func (c *ResultCache) dropCorrupt(ctx context.Context, key string) {
	atomic.AddInt64(&c.errorCount, 1)
	c.options.Logger.Warn("dropping corrupt cache entry", slog.String("key", key))
	if err := c.backend.Delete(ctx, key); err != nil {
		c.options.Logger.Warn("cache delete failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Downstream memoizes a forward reachability computation.
func (c *ResultCache) Downstream(
	ctx context.Context,
	scanID, nodeID string,
	maxDepth int,
	compute func(context.Context) (map[string]int, error),
) (map[string]int, error) {
	var result map[string]int
	err := c.getOrCompute(ctx, DownstreamKey(scanID, nodeID, maxDepth), c.options.DownstreamTTL,
		func(ctx context.Context) (any, error) { return compute(ctx) }, &result)
	return result, err
}

// Upstream memoizes a reverse reachability computation.
func (c *ResultCache) Upstream(
	ctx context.Context,
	scanID, nodeID string,
	maxDepth int,
	compute func(context.Context) (map[string]int, error),
) (map[string]int, error) {
	var result map[string]int
	err := c.getOrCompute(ctx, UpstreamKey(scanID, nodeID, maxDepth), c.options.UpstreamTTL,
		func(ctx context.Context) (any, error) { return compute(ctx) }, &result)
	return result, err
}

// Cycles memoizes a scan's cycle analysis.
func (c *ResultCache) Cycles(
	ctx context.Context,
	scanID string,
	compute func(context.Context) ([]graph.CycleInfo, error),
) ([]graph.CycleInfo, error) {
	var result []graph.CycleInfo
	err := c.getOrCompute(ctx, CyclesKey(scanID), c.options.CyclesTTL,
		func(ctx context.Context) (any, error) { return compute(ctx) }, &result)
	return result, err
}

// Impact memoizes a blast-radius analysis under a canonical query hash.
func (c *ResultCache) Impact(
	ctx context.Context,
	scanID, queryHash string,
	compute func(context.Context) (*impact.Response, error),
) (*impact.Response, error) {
	var result *impact.Response
	err := c.getOrCompute(ctx, ImpactKey(scanID, queryHash), c.options.ImpactTTL,
		func(ctx context.Context) (any, error) { return compute(ctx) }, &result)
	return result, err
}

// GetCachedImpact returns the cached blast-radius response for a query
// hash, or (nil, false) when nothing usable is cached. It never computes.
func (c *ResultCache) GetCachedImpact(ctx context.Context, scanID, queryHash string) (*impact.Response, bool) {
	key := ImpactKey(scanID, queryHash)
	value, ok := c.lookup(ctx, key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	var result *impact.Response
	if err := json.Unmarshal([]byte(value), &result); err != nil {
		c.dropCorrupt(ctx, key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return result, true
}

// InvalidateScan removes every cached result for one scan: the whole
// downstream/upstream/impact namespaces plus the cycle key.
func (c *ResultCache) InvalidateScan(ctx context.Context, scanID string) error {
	atomic.AddInt64(&c.invalidations, 1)

	removed := 0
	for _, prefix := range []string{
		"downstream:" + scanID + ":",
		"upstream:" + scanID + ":",
		"impact:" + scanID + ":",
	} {
		n, err := c.backend.DeletePrefix(ctx, prefix)
		if err != nil {
			atomic.AddInt64(&c.errorCount, 1)
			return fmt.Errorf("invalidate %s: %w", prefix, err)
		}
		removed += n
	}
	if err := c.backend.Delete(ctx, CyclesKey(scanID)); err != nil {
		atomic.AddInt64(&c.errorCount, 1)
		return fmt.Errorf("invalidate cycles: %w", err)
	}

	c.options.Logger.Debug("scan cache invalidated",
		slog.String("scan_id", scanID), slog.Int("removed", removed))
	return nil
}

// Warmup pre-populates downstream and upstream entries for a node list
// plus the scan's cycle result.
//
// Fills are independent best-effort operations on a bounded pool: one
// failing fill is logged and does not stop the others, and no ordering is
// guaranteed between them. The first computation error (not backend
// error) is returned after all fills finish.
func (c *ResultCache) Warmup(ctx context.Context, scanID string, g GraphQueries, nodeIDs []string, maxDepth int) error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	record := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.options.WarmupConcurrency)

	for _, nodeID := range nodeIDs {
		eg.Go(func() error {
			_, err := c.Downstream(ctx, scanID, nodeID, maxDepth,
				func(ctx context.Context) (map[string]int, error) {
					return g.FindReachableNodes(ctx, nodeID, graph.WithReachMaxDepth(maxDepth))
				})
			if err != nil {
				c.options.Logger.Warn("downstream warmup failed",
					slog.String("node_id", nodeID), slog.Any("error", err))
				record(err)
			}
			return nil
		})
		eg.Go(func() error {
			_, err := c.Upstream(ctx, scanID, nodeID, maxDepth,
				func(ctx context.Context) (map[string]int, error) {
					return g.FindNodesThatReach(ctx, nodeID, graph.WithReachMaxDepth(maxDepth))
				})
			if err != nil {
				c.options.Logger.Warn("upstream warmup failed",
					slog.String("node_id", nodeID), slog.Any("error", err))
				record(err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		_, err := c.Cycles(ctx, scanID, func(ctx context.Context) ([]graph.CycleInfo, error) {
			return g.FindCyclesTarjan(ctx)
		})
		if err != nil {
			c.options.Logger.Warn("cycles warmup failed", slog.Any("error", err))
			record(err)
		}
		return nil
	})

	// Fill closures always return nil so one failure never aborts the
	// rest; Wait only blocks for completion.
	_ = eg.Wait()
	return firstErr
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Computes      int64 `json:"computes"`
	Errors        int64 `json:"errors"`
	Invalidations int64 `json:"invalidations"`
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() CacheStats {
	return CacheStats{
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Computes:      atomic.LoadInt64(&c.computes),
		Errors:        atomic.LoadInt64(&c.errorCount),
		Invalidations: atomic.LoadInt64(&c.invalidations),
	}
}
