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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
	"github.com/AleutianAI/iac-rollup/services/rollup/impact"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingBackend errors on every operation.
type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errBackendDown
}
func (failingBackend) Set(context.Context, string, string, time.Duration) error {
	return errBackendDown
}
func (failingBackend) Delete(context.Context, string) error { return errBackendDown }
func (failingBackend) DeletePrefix(context.Context, string) (int, error) {
	return 0, errBackendDown
}
func (failingBackend) Close() error { return nil }

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("set get round trip", func(t *testing.T) {
		b := NewMemoryBackend()
		require.NoError(t, b.Set(ctx, "k", "v", time.Minute))

		value, ok, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", value)
	})

	t.Run("expired entries are misses", func(t *testing.T) {
		clock := newFakeClock()
		b := NewMemoryBackend(WithClock(clock))
		require.NoError(t, b.Set(ctx, "k", "v", 30*time.Minute))

		clock.Advance(29 * time.Minute)
		_, ok, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "entry expired early")

		clock.Advance(2 * time.Minute)
		_, ok, err = b.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok, "entry survived its TTL")
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		clock := newFakeClock()
		b := NewMemoryBackend(WithClock(clock))
		require.NoError(t, b.Set(ctx, "k", "v", 0))

		clock.Advance(1000 * time.Hour)
		_, ok, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete prefix", func(t *testing.T) {
		b := NewMemoryBackend()
		require.NoError(t, b.Set(ctx, "downstream:s1:n1:5", "a", 0))
		require.NoError(t, b.Set(ctx, "downstream:s1:n2:5", "b", 0))
		require.NoError(t, b.Set(ctx, "downstream:s2:n1:5", "c", 0))

		removed, err := b.DeletePrefix(ctx, "downstream:s1:")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, ok, _ := b.Get(ctx, "downstream:s2:n1:5")
		assert.True(t, ok, "unrelated scan entry removed")
	})
}

func TestResultCache(t *testing.T) {
	ctx := context.Background()

	t.Run("hit skips computation", func(t *testing.T) {
		c := NewResultCache(NewMemoryBackend())

		var computes int32
		compute := func(context.Context) (map[string]int, error) {
			atomic.AddInt32(&computes, 1)
			return map[string]int{"b": 1, "c": 2}, nil
		}

		first, err := c.Downstream(ctx, "scan-1", "a", 5, compute)
		require.NoError(t, err)
		second, err := c.Downstream(ctx, "scan-1", "a", 5, compute)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), atomic.LoadInt32(&computes), "cached read recomputed")

		stats := c.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(1), stats.Misses)
	})

	t.Run("expiry recomputes exactly once", func(t *testing.T) {
		clock := newFakeClock()
		c := NewResultCache(NewMemoryBackend(WithClock(clock)))

		var computes int32
		compute := func(context.Context) (map[string]int, error) {
			atomic.AddInt32(&computes, 1)
			return map[string]int{"x": 1}, nil
		}

		_, err := c.Downstream(ctx, "scan-1", "a", 5, compute)
		require.NoError(t, err)

		clock.Advance(DefaultDownstreamTTL + time.Second)
		_, err = c.Downstream(ctx, "scan-1", "a", 5, compute)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&computes))

		// Fresh again: no third computation.
		_, err = c.Downstream(ctx, "scan-1", "a", 5, compute)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&computes))
	})

	t.Run("concurrent misses share one computation", func(t *testing.T) {
		c := NewResultCache(NewMemoryBackend())

		var computes int32
		release := make(chan struct{})
		compute := func(context.Context) ([]graph.CycleInfo, error) {
			atomic.AddInt32(&computes, 1)
			<-release
			return []graph.CycleInfo{{Nodes: []string{"a", "b"}}}, nil
		}

		const callers = 8
		var wg sync.WaitGroup
		results := make([][]graph.CycleInfo, callers)
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = c.Cycles(ctx, "scan-1", compute)
			}()
		}

		// Give the goroutines time to pile onto the flight, then release.
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, results[0], results[i])
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&computes), "singleflight did not deduplicate")
	})

	t.Run("invalidate scan clears its namespace only", func(t *testing.T) {
		backend := NewMemoryBackend()
		c := NewResultCache(backend)

		reach := func(context.Context) (map[string]int, error) { return map[string]int{"x": 1}, nil }
		cycles := func(context.Context) ([]graph.CycleInfo, error) { return nil, nil }

		_, err := c.Downstream(ctx, "scan-1", "a", 5, reach)
		require.NoError(t, err)
		_, err = c.Upstream(ctx, "scan-1", "a", 5, reach)
		require.NoError(t, err)
		_, err = c.Cycles(ctx, "scan-1", cycles)
		require.NoError(t, err)
		_, err = c.Downstream(ctx, "scan-2", "a", 5, reach)
		require.NoError(t, err)

		require.NoError(t, c.InvalidateScan(ctx, "scan-1"))

		var computes int32
		counted := func(context.Context) (map[string]int, error) {
			atomic.AddInt32(&computes, 1)
			return map[string]int{"x": 1}, nil
		}
		_, err = c.Downstream(ctx, "scan-1", "a", 5, counted)
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&computes), "invalidated entry still served")

		_, err = c.Downstream(ctx, "scan-2", "a", 5, counted)
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&computes), "unrelated scan was invalidated")
	})

	t.Run("backend failure degrades to computation", func(t *testing.T) {
		c := NewResultCache(failingBackend{})

		var computes int32
		compute := func(context.Context) (map[string]int, error) {
			atomic.AddInt32(&computes, 1)
			return map[string]int{"x": 1}, nil
		}

		result, err := c.Downstream(ctx, "scan-1", "a", 5, compute)
		require.NoError(t, err, "backend errors must not surface")
		assert.Equal(t, map[string]int{"x": 1}, result)
		assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
		assert.Positive(t, c.Stats().Errors)
	})

	t.Run("computation errors propagate", func(t *testing.T) {
		c := NewResultCache(NewMemoryBackend())
		wantErr := errors.New("traversal failed")

		_, err := c.Downstream(ctx, "scan-1", "a", 5,
			func(context.Context) (map[string]int, error) { return nil, wantErr })
		assert.ErrorIs(t, err, wantErr)
	})
}

func TestImpactCache(t *testing.T) {
	ctx := context.Background()

	response := &impact.Response{
		DirectImpact: []impact.ImpactedNode{{NodeID: "b", Name: "b", Type: "aws_instance", Distance: 1}},
		Summary:      impact.Summary{TotalImpacted: 1, DirectCount: 1, RiskLevel: impact.RiskLow},
	}

	t.Run("get without compute is nil until filled", func(t *testing.T) {
		c := NewResultCache(NewMemoryBackend())

		cached, ok := c.GetCachedImpact(ctx, "exec-1", "q1")
		assert.False(t, ok)
		assert.Nil(t, cached)

		var computes int32
		first, err := c.Impact(ctx, "exec-1", "q1",
			func(context.Context) (*impact.Response, error) {
				atomic.AddInt32(&computes, 1)
				return response, nil
			})
		require.NoError(t, err)
		assert.Equal(t, response, first)

		cached, ok = c.GetCachedImpact(ctx, "exec-1", "q1")
		require.True(t, ok)
		assert.Equal(t, response, cached)
		assert.Equal(t, int32(1), atomic.LoadInt32(&computes), "lookup ran the analysis")
	})

	t.Run("distinct query hashes are distinct entries", func(t *testing.T) {
		c := NewResultCache(NewMemoryBackend())

		_, err := c.Impact(ctx, "exec-1", "q1",
			func(context.Context) (*impact.Response, error) { return response, nil })
		require.NoError(t, err)

		_, ok := c.GetCachedImpact(ctx, "exec-1", "q2")
		assert.False(t, ok)
	})

	t.Run("expiry turns a fill back into a miss", func(t *testing.T) {
		clock := newFakeClock()
		c := NewResultCache(NewMemoryBackend(WithClock(clock)))

		_, err := c.Impact(ctx, "exec-1", "q1",
			func(context.Context) (*impact.Response, error) { return response, nil })
		require.NoError(t, err)

		clock.Advance(DefaultImpactTTL + time.Second)
		_, ok := c.GetCachedImpact(ctx, "exec-1", "q1")
		assert.False(t, ok)
	})

	t.Run("invalidate scan clears impact entries", func(t *testing.T) {
		c := NewResultCache(NewMemoryBackend())

		_, err := c.Impact(ctx, "exec-1", "q1",
			func(context.Context) (*impact.Response, error) { return response, nil })
		require.NoError(t, err)
		_, err = c.Impact(ctx, "exec-2", "q1",
			func(context.Context) (*impact.Response, error) { return response, nil })
		require.NoError(t, err)

		require.NoError(t, c.InvalidateScan(ctx, "exec-1"))

		_, ok := c.GetCachedImpact(ctx, "exec-1", "q1")
		assert.False(t, ok, "invalidated entry still served")
		_, ok = c.GetCachedImpact(ctx, "exec-2", "q1")
		assert.True(t, ok, "unrelated execution was invalidated")
	})

	t.Run("backend failure is a miss", func(t *testing.T) {
		c := NewResultCache(failingBackend{})
		cached, ok := c.GetCachedImpact(ctx, "exec-1", "q1")
		assert.False(t, ok)
		assert.Nil(t, cached)
		assert.Positive(t, c.Stats().Errors)
	})
}

func TestWarmup(t *testing.T) {
	ctx := context.Background()

	// a -> b -> c
	g := graph.NewGraph()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddNode(&graph.Node{ID: id, Type: "aws_instance", Name: id}))
	}
	require.NoError(t, g.AddEdge("e0", "a", "b"))
	require.NoError(t, g.AddEdge("e1", "b", "c"))
	g.Freeze()

	backend := NewMemoryBackend()
	c := NewResultCache(backend)

	require.NoError(t, c.Warmup(ctx, "scan-1", g, []string{"a", "b"}, 5))

	// Downstream/upstream for both nodes plus the cycle key.
	assert.Equal(t, 5, backend.Len())

	// Warmed entries serve without recomputation.
	var computes int32
	result, err := c.Downstream(ctx, "scan-1", "a", 5,
		func(context.Context) (map[string]int, error) {
			atomic.AddInt32(&computes, 1)
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b": 1, "c": 2}, result)
	assert.Zero(t, atomic.LoadInt32(&computes))
}

// cyclesFailQueries serves reachability but fails cycle analysis.
type cyclesFailQueries struct {
	err error
}

func (q cyclesFailQueries) FindReachableNodes(context.Context, string, ...graph.ReachOption) (map[string]int, error) {
	return map[string]int{}, nil
}

func (q cyclesFailQueries) FindNodesThatReach(context.Context, string, ...graph.ReachOption) (map[string]int, error) {
	return map[string]int{}, nil
}

func (q cyclesFailQueries) FindCyclesTarjan(context.Context) ([]graph.CycleInfo, error) {
	return nil, q.err
}

func TestWarmupReportsFirstComputationError(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("tarjan failed")

	backend := NewMemoryBackend()
	c := NewResultCache(backend)

	err := c.Warmup(ctx, "scan-1", cyclesFailQueries{err: wantErr}, []string{"a", "b"}, 5)
	assert.ErrorIs(t, err, wantErr)

	// The failing fill did not stop the others: both nodes still got
	// their downstream and upstream entries.
	assert.Equal(t, 4, backend.Len())
}
