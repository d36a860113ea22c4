// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/iac-rollup/services/rollup/cache"
	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
	"github.com/AleutianAI/iac-rollup/services/rollup/impact"
	"github.com/AleutianAI/iac-rollup/services/rollup/match"
	"github.com/AleutianAI/iac-rollup/services/rollup/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewService(
		store.NewBadgerStore(db),
		NewGraphRegistry(),
		cache.NewResultCache(cache.NewMemoryBackend()),
	)
}

// registerBucketScans registers one scan per repository. Both scans
// declare the same S3 bucket by ARN, so an ARN matcher merges them;
// repo-a additionally has an instance depending on the bucket.
func registerBucketScans(t *testing.T, s *Service) {
	t.Helper()
	const bucketARN = "arn:aws:s3:us-east-1:111122223333:app-assets"

	require.NoError(t, s.RegisterScan(&ScanGraph{
		RepositoryID: "repo-a",
		ScanID:       "scan-a",
		Nodes: []graph.Node{
			{ID: "a1", Type: "aws_s3_bucket", Name: "assets", Metadata: map[string]any{"arn": bucketARN}},
			{ID: "a2", Type: "aws_instance", Name: "worker"},
		},
		Edges: []graph.Edge{{ID: "e1", SourceID: "a2", TargetID: "a1"}},
	}))
	require.NoError(t, s.RegisterScan(&ScanGraph{
		RepositoryID: "repo-b",
		ScanID:       "scan-b",
		Nodes: []graph.Node{
			{ID: "b1", Type: "aws_s3_bucket", Name: "assets-replica", Metadata: map[string]any{"arn": bucketARN}},
		},
	}))
}

func createBucketRollup(t *testing.T, s *Service) *store.Rollup {
	t.Helper()
	r := &store.Rollup{
		Name:          "asset-buckets",
		RepositoryIDs: []string{"repo-a", "repo-b"},
		Matchers:      []match.Config{{Strategy: match.StrategyARN}},
	}
	require.NoError(t, s.CreateRollup(context.Background(), r))
	return r
}

func TestCreateRollupValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	t.Run("missing name rejected", func(t *testing.T) {
		err := s.CreateRollup(ctx, &store.Rollup{
			RepositoryIDs: []string{"repo-a"},
			Matchers:      []match.Config{{Strategy: match.StrategyARN}},
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("invalid matcher rejected", func(t *testing.T) {
		err := s.CreateRollup(ctx, &store.Rollup{
			Name:          "bad-matcher",
			RepositoryIDs: []string{"repo-a"},
			Matchers:      []match.Config{{Strategy: match.StrategyTag}},
		})
		assert.ErrorIs(t, err, ErrInvalidRequest, "tag matcher without requirements must be rejected")
	})

	t.Run("valid rollup persisted", func(t *testing.T) {
		r := &store.Rollup{
			Name:          "good",
			RepositoryIDs: []string{"repo-a"},
			Matchers:      []match.Config{{Strategy: match.StrategyARN}},
		}
		require.NoError(t, s.CreateRollup(ctx, r))
		assert.NotEmpty(t, r.ID)
	})
}

func TestExecuteRollup(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path merges and completes", func(t *testing.T) {
		s := newTestService(t)
		registerBucketScans(t, s)
		r := createBucketRollup(t, s)

		exec, err := s.ExecuteRollup(ctx, r.ID, []string{"scan-a", "scan-b"})
		require.NoError(t, err)
		require.NotNil(t, exec)
		assert.Equal(t, store.StatusCompleted, exec.Status)
		require.NotNil(t, exec.Stats)
		assert.Equal(t, 3, exec.Stats.NodesBeforeMerge)
		assert.Equal(t, 2, exec.Stats.NodesAfterMerge)
		assert.False(t, exec.CompletedAt.IsZero())

		merged, err := s.ListMergedNodes(ctx, exec.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, merged, 1)
		assert.ElementsMatch(t, []string{"a1", "b1"}, merged[0].SourceNodeIDs)
		assert.Equal(t, 100, merged[0].MatchConfidence)
	})

	t.Run("unknown rollup", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.ExecuteRollup(ctx, "ghost", []string{"scan-a"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("scan count must match repository count", func(t *testing.T) {
		s := newTestService(t)
		registerBucketScans(t, s)
		r := createBucketRollup(t, s)

		_, err := s.ExecuteRollup(ctx, r.ID, []string{"scan-a"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("missing scan graph fails before execution record", func(t *testing.T) {
		s := newTestService(t)
		registerBucketScans(t, s)
		r := createBucketRollup(t, s)

		_, err := s.ExecuteRollup(ctx, r.ID, []string{"scan-a", "scan-missing"})
		assert.ErrorIs(t, err, ErrScanNotFound)

		execs, err := s.ListExecutions(ctx, r.ID)
		require.NoError(t, err)
		assert.Empty(t, execs, "no execution record should exist for a rejected request")
	})

	t.Run("cancel pending execution", func(t *testing.T) {
		s := newTestService(t)
		registerBucketScans(t, s)
		r := createBucketRollup(t, s)

		exec := &store.RollupExecution{RollupID: r.ID, ScanIDs: []string{"scan-a", "scan-b"}}
		require.NoError(t, s.store.CreateExecution(ctx, exec))
		require.NoError(t, s.CancelExecution(ctx, r.ID, exec.ID))

		stored, err := s.GetExecution(ctx, r.ID, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusCancelled, stored.Status)
	})

	t.Run("cancel completed execution conflicts", func(t *testing.T) {
		s := newTestService(t)
		registerBucketScans(t, s)
		r := createBucketRollup(t, s)

		exec, err := s.ExecuteRollup(ctx, r.ID, []string{"scan-a", "scan-b"})
		require.NoError(t, err)
		assert.ErrorIs(t, s.CancelExecution(ctx, r.ID, exec.ID), store.ErrInvalidTransition)
	})
}

func TestAnalysisOverMergedGraph(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	registerBucketScans(t, s)
	r := createBucketRollup(t, s)

	exec, err := s.ExecuteRollup(ctx, r.ID, []string{"scan-a", "scan-b"})
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, exec.Status)

	merged, err := s.ListMergedNodes(ctx, exec.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	bucketID := merged[0].ID

	t.Run("cycles", func(t *testing.T) {
		cycles, err := s.Cycles(ctx, exec.ID)
		require.NoError(t, err)
		assert.Empty(t, cycles)
	})

	t.Run("topology variants agree", func(t *testing.T) {
		kahn, err := s.TopologicalSort(ctx, exec.ID, "kahn")
		require.NoError(t, err)
		dfs, err := s.TopologicalSort(ctx, exec.ID, "dfs")
		require.NoError(t, err)
		assert.Equal(t, kahn.HasCycle, dfs.HasCycle)

		_, err = s.TopologicalSort(ctx, exec.ID, "bogus")
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("upstream of merged bucket", func(t *testing.T) {
		nodes, err := s.Upstream(ctx, exec.ID, bucketID, 5)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"a2": 1}, nodes)
	})

	t.Run("shortest path from worker to bucket", func(t *testing.T) {
		path, err := s.ShortestPath(ctx, exec.ID, "a2", bucketID)
		require.NoError(t, err)
		assert.Equal(t, 1, path.Length)
	})

	t.Run("blast radius of worker", func(t *testing.T) {
		resp, err := s.BlastRadius(ctx, exec.ID, &impact.Query{NodeIDs: []string{"a2"}})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Summary.TotalImpacted)
		assert.Equal(t, 1, resp.Summary.DirectCount)
	})

	t.Run("degrees", func(t *testing.T) {
		metrics, err := s.Degrees(exec.ID)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, metrics.AverageDegree, 0.0001)
	})

	t.Run("unknown execution not ready", func(t *testing.T) {
		_, err := s.Cycles(ctx, "ghost")
		assert.ErrorIs(t, err, ErrExecutionNotReady)
	})
}

func TestImpactQueryHashCanonicalizes(t *testing.T) {
	base := impactQueryHash(&impact.Query{NodeIDs: []string{"x", "y"}})

	// Seed order is irrelevant and depth zero means the default.
	reordered := impactQueryHash(&impact.Query{NodeIDs: []string{"y", "x"}, MaxDepth: impact.DefaultMaxDepth})
	assert.Equal(t, base, reordered)

	indirect := impactQueryHash(&impact.Query{NodeIDs: []string{"x", "y"}, IncludeIndirect: true})
	assert.NotEqual(t, base, indirect)

	deeper := impactQueryHash(&impact.Query{NodeIDs: []string{"x", "y"}, MaxDepth: 3})
	assert.NotEqual(t, base, deeper)
}

func TestBlastRadiusCaching(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	registerBucketScans(t, s)
	r := createBucketRollup(t, s)

	exec, err := s.ExecuteRollup(ctx, r.ID, []string{"scan-a", "scan-b"})
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, exec.Status)

	query := &impact.Query{NodeIDs: []string{"a2"}}

	t.Run("cached lookup is nil before any analysis", func(t *testing.T) {
		cached, err := s.GetCachedBlastRadius(ctx, exec.ID, query)
		require.NoError(t, err)
		assert.Nil(t, cached)
	})

	t.Run("analysis fills the cache", func(t *testing.T) {
		before := s.CacheStats().Computes
		resp, err := s.BlastRadius(ctx, exec.ID, query)
		require.NoError(t, err)
		assert.Equal(t, before+1, s.CacheStats().Computes)

		cached, err := s.GetCachedBlastRadius(ctx, exec.ID, query)
		require.NoError(t, err)
		require.NotNil(t, cached)
		assert.Equal(t, resp.Summary, cached.Summary)

		// A repeat analysis serves the cached response.
		again, err := s.BlastRadius(ctx, exec.ID, query)
		require.NoError(t, err)
		assert.Equal(t, resp.Summary, again.Summary)
		assert.Equal(t, before+1, s.CacheStats().Computes, "equivalent query recomputed")
	})

	t.Run("equivalent query shares the entry", func(t *testing.T) {
		cached, err := s.GetCachedBlastRadius(ctx, exec.ID,
			&impact.Query{NodeIDs: []string{"a2"}, MaxDepth: impact.DefaultMaxDepth})
		require.NoError(t, err)
		assert.NotNil(t, cached)
	})

	t.Run("different query is a miss", func(t *testing.T) {
		cached, err := s.GetCachedBlastRadius(ctx, exec.ID,
			&impact.Query{NodeIDs: []string{"a2"}, IncludeIndirect: true})
		require.NoError(t, err)
		assert.Nil(t, cached)
	})

	t.Run("unknown execution not ready", func(t *testing.T) {
		_, err := s.GetCachedBlastRadius(ctx, "ghost", query)
		assert.ErrorIs(t, err, ErrExecutionNotReady)
	})
}
