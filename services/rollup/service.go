// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rollup orchestrates cross-repository rollup executions: it
// loads the per-repository scan graphs, runs the merge engine, persists
// the merged nodes and execution record, and exposes graph analyses over
// the merged result through a result cache.
package rollup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/iac-rollup/services/rollup/cache"
	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
	"github.com/AleutianAI/iac-rollup/services/rollup/impact"
	"github.com/AleutianAI/iac-rollup/services/rollup/match"
	"github.com/AleutianAI/iac-rollup/services/rollup/merge"
	"github.com/AleutianAI/iac-rollup/services/rollup/store"
)

var (
	// ErrScanNotFound indicates no graph is registered for a
	// (repository, scan) pair.
	ErrScanNotFound = errors.New("scan graph not found")

	// ErrInvalidRequest indicates a request rejected before any work.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrExecutionNotReady indicates an analysis was requested for an
	// execution that has not completed.
	ErrExecutionNotReady = errors.New("execution has no merged graph")
)

var validate = validator.New()

// executionResult holds the in-memory analysis state of one completed
// execution.
type executionResult struct {
	graph     *graph.Graph
	nodeRepos map[string][]string
	impact    *impact.Engine
}

// Service wires the store, graph source, merge engine, and result cache
// into the rollup lifecycle operations the HTTP surface exposes.
type Service struct {
	store  *store.BadgerStore
	graphs GraphSource
	cache  *cache.ResultCache
	merger *merge.Engine
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	results map[string]*executionResult
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger. Default: slog.Default().
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates the rollup service.
func NewService(st *store.BadgerStore, graphs GraphSource, rc *cache.ResultCache, opts ...ServiceOption) *Service {
	s := &Service{
		store:   st,
		graphs:  graphs,
		cache:   rc,
		logger:  slog.Default(),
		running: make(map[string]context.CancelFunc),
		results: make(map[string]*executionResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.merger = merge.NewEngine(merge.WithLogger(s.logger))
	return s
}

// validateRollup checks struct tags plus per-matcher semantic validation
// before anything is written.
func (s *Service) validateRollup(r *store.Rollup) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var problems []string
	for i := range r.Matchers {
		result := match.ValidateConfig(&r.Matchers[i])
		if !result.IsValid {
			problems = append(problems, result.Errors...)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// CreateRollup validates and persists a new rollup configuration.
func (s *Service) CreateRollup(ctx context.Context, r *store.Rollup) error {
	if err := s.validateRollup(r); err != nil {
		return err
	}
	return s.store.CreateRollup(ctx, r)
}

// GetRollup returns a rollup or (nil, nil) when absent.
func (s *Service) GetRollup(ctx context.Context, id string) (*store.Rollup, error) {
	return s.store.FindRollupByID(ctx, id)
}

// ListRollups pages through rollups ordered by ID.
func (s *Service) ListRollups(ctx context.Context, offset, limit int) ([]*store.Rollup, error) {
	return s.store.FindRollups(ctx, offset, limit)
}

// UpdateRollup validates and persists an update under optimistic
// concurrency; the caller supplies the version it read.
func (s *Service) UpdateRollup(ctx context.Context, r *store.Rollup) error {
	if err := s.validateRollup(r); err != nil {
		return err
	}
	return s.store.UpdateRollup(ctx, r)
}

// DeleteRollup removes a rollup and its execution history.
func (s *Service) DeleteRollup(ctx context.Context, id string) error {
	return s.store.DeleteRollup(ctx, id)
}

// RegisterScan builds and registers a scan graph for later executions.
func (s *Service) RegisterScan(sg *ScanGraph) error {
	reg, ok := s.graphs.(*GraphRegistry)
	if !ok {
		return fmt.Errorf("%w: graph source does not accept ingestion", ErrInvalidRequest)
	}
	g, err := BuildGraph(sg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := reg.Register(sg.RepositoryID, sg.ScanID, g); err != nil {
		return err
	}
	s.logger.Info("scan graph registered",
		slog.String("repository_id", sg.RepositoryID),
		slog.String("scan_id", sg.ScanID),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()))
	return nil
}

// ExecuteRollup runs one rollup execution against a set of scans, one
// scan per configured repository (aligned by index).
//
// Validation failures and store errors before the execution record exists
// return an error. Once the record exists, merge failures and
// cancellations are recorded on the execution (status failed or
// cancelled) and returned with a nil error; the caller inspects the
// execution's status.
func (s *Service) ExecuteRollup(ctx context.Context, rollupID string, scanIDs []string) (*store.RollupExecution, error) {
	r, err := s.store.FindRollupByID(ctx, rollupID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: rollup %s", store.ErrNotFound, rollupID)
	}
	if len(scanIDs) != len(r.RepositoryIDs) {
		return nil, fmt.Errorf("%w: %d scan ids for %d repositories",
			ErrInvalidRequest, len(scanIDs), len(r.RepositoryIDs))
	}

	strategies, err := match.NewStrategies(r.Matchers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Load every scan graph before creating the execution record, so a
	// missing scan is a plain validation failure.
	repoGraphs := make([]merge.RepoGraph, 0, len(r.RepositoryIDs))
	for i, repoID := range r.RepositoryIDs {
		g, err := s.graphs.LoadGraph(ctx, repoID, scanIDs[i])
		if err != nil {
			return nil, err
		}
		repoGraphs = append(repoGraphs, merge.RepoGraph{RepoID: repoID, ScanID: scanIDs[i], Graph: g})
	}

	exec := &store.RollupExecution{RollupID: rollupID, ScanIDs: scanIDs}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if err := s.store.UpdateExecutionStatus(ctx, rollupID, exec.ID, store.StatusRunning, ""); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[exec.ID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, exec.ID)
		s.mu.Unlock()
	}()

	input := &merge.Input{
		Graphs:     repoGraphs,
		Strategies: strategies,
		Options:    r.MergeOptions,
	}
	output, err := s.merger.Merge(runCtx, input)
	if err != nil {
		// Status writes use the parent context: runCtx is already dead
		// on the cancellation path.
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return s.finishExecution(ctx, rollupID, exec.ID, store.StatusCancelled, "execution cancelled")
		}
		return s.finishExecution(ctx, rollupID, exec.ID, store.StatusFailed, err.Error())
	}

	if err := s.store.SaveMergedNodes(ctx, exec.ID, output.MergedNodes); err != nil {
		// Roll the partial write back so readers never see a half-written
		// merge output.
		if _, delErr := s.store.DeleteMergedNodes(ctx, exec.ID); delErr != nil {
			s.logger.Error("merged node rollback failed",
				slog.String("execution_id", exec.ID), slog.Any("error", delErr))
		}
		return s.finishExecution(ctx, rollupID, exec.ID, store.StatusFailed,
			fmt.Sprintf("persist merged nodes: %v", err))
	}

	s.mu.Lock()
	s.results[exec.ID] = &executionResult{
		graph:     output.Graph,
		nodeRepos: output.NodeRepos,
		impact:    impact.NewEngine(output.Graph, output.NodeRepos, impact.WithLogger(s.logger)),
	}
	s.mu.Unlock()

	// Derived results for the merged scans are stale now.
	for _, scanID := range scanIDs {
		if err := s.cache.InvalidateScan(ctx, scanID); err != nil {
			s.logger.Warn("scan cache invalidation failed",
				slog.String("scan_id", scanID), slog.Any("error", err))
		}
	}

	stats := output.Stats
	final, err := s.completeExecution(ctx, rollupID, exec.ID, &stats)
	if err != nil {
		return nil, err
	}
	s.logger.Info("rollup execution completed",
		slog.String("rollup_id", rollupID),
		slog.String("execution_id", exec.ID),
		slog.Int("merged_nodes", len(output.MergedNodes)),
		slog.Int("unmatched_nodes", len(output.UnmatchedNodes)),
		slog.Int("cross_repo_edges", stats.CrossRepoEdges))
	return final, nil
}

// finishExecution records a terminal failed/cancelled status and returns
// the refreshed execution.
func (s *Service) finishExecution(ctx context.Context, rollupID, executionID string, status store.ExecutionStatus, msg string) (*store.RollupExecution, error) {
	if err := s.store.UpdateExecutionStatus(ctx, rollupID, executionID, status, msg); err != nil {
		return nil, err
	}
	s.logger.Warn("rollup execution finished without result",
		slog.String("rollup_id", rollupID),
		slog.String("execution_id", executionID),
		slog.String("status", string(status)),
		slog.String("reason", msg))
	return s.store.FindExecutionByID(ctx, rollupID, executionID)
}

// completeExecution stamps the completed status and stats.
func (s *Service) completeExecution(ctx context.Context, rollupID, executionID string, stats *merge.Stats) (*store.RollupExecution, error) {
	exec, err := s.store.FindExecutionByID(ctx, rollupID, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: execution %s", store.ErrNotFound, executionID)
	}
	exec.Status = store.StatusCompleted
	exec.Stats = stats
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	// Re-read so terminal timestamps stamped by the store are present.
	return s.store.FindExecutionByID(ctx, rollupID, executionID)
}

// GetExecution returns an execution or (nil, nil) when absent.
func (s *Service) GetExecution(ctx context.Context, rollupID, executionID string) (*store.RollupExecution, error) {
	return s.store.FindExecutionByID(ctx, rollupID, executionID)
}

// ListExecutions returns a rollup's executions, newest first.
func (s *Service) ListExecutions(ctx context.Context, rollupID string) ([]*store.RollupExecution, error) {
	return s.store.ListExecutions(ctx, rollupID)
}

// CancelExecution cancels a pending or running execution. A running
// merge observes the cancellation at its next context check and surfaces
// a cancelled status.
func (s *Service) CancelExecution(ctx context.Context, rollupID, executionID string) error {
	s.mu.Lock()
	cancel, isRunning := s.running[executionID]
	s.mu.Unlock()
	if isRunning {
		cancel()
		return nil
	}
	return s.store.UpdateExecutionStatus(ctx, rollupID, executionID, store.StatusCancelled, "execution cancelled")
}

// ListMergedNodes pages through an execution's persisted merged nodes.
func (s *Service) ListMergedNodes(ctx context.Context, executionID string, offset, limit int) ([]merge.MergedNode, error) {
	return s.store.ListMergedNodes(ctx, executionID, offset, limit)
}

// resultFor returns the in-memory analysis state of a completed
// execution.
func (s *Service) resultFor(executionID string) (*executionResult, error) {
	s.mu.Lock()
	res, ok := s.results[executionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", ErrExecutionNotReady, executionID)
	}
	return res, nil
}

// Cycles returns the merged graph's dependency cycles, cached per
// execution.
func (s *Service) Cycles(ctx context.Context, executionID string) ([]graph.CycleInfo, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	return s.cache.Cycles(ctx, executionID, res.graph.FindCyclesTarjan)
}

// TopologicalSort runs the requested sort variant ("kahn" or "dfs") over
// the merged graph.
func (s *Service) TopologicalSort(ctx context.Context, executionID, variant string) (*graph.TopoSortResult, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	switch variant {
	case "", "kahn":
		return res.graph.TopologicalSort(ctx)
	case "dfs":
		return res.graph.TopologicalSortDFS(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown sort variant %q", ErrInvalidRequest, variant)
	}
}

// ShortestPath finds one shortest dependency path in the merged graph.
func (s *Service) ShortestPath(ctx context.Context, executionID, fromID, toID string) (*graph.PathResult, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	return res.graph.BFSShortestPath(ctx, fromID, toID)
}

// AllPaths enumerates bounded dependency paths in the merged graph.
// Non-positive bounds keep the defaults.
func (s *Service) AllPaths(ctx context.Context, executionID, fromID, toID string, maxDepth, maxPaths int) (*graph.AllPathsResult, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	var opts []graph.PathOption
	if maxDepth > 0 {
		opts = append(opts, graph.WithPathMaxDepth(maxDepth))
	}
	if maxPaths > 0 {
		opts = append(opts, graph.WithMaxPaths(maxPaths))
	}
	return res.graph.FindAllPaths(ctx, fromID, toID, opts...)
}

// Downstream returns nodes reachable from nodeID with hop distances,
// cached per execution.
func (s *Service) Downstream(ctx context.Context, executionID, nodeID string, maxDepth int) (map[string]int, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	return s.cache.Downstream(ctx, executionID, nodeID, maxDepth,
		func(ctx context.Context) (map[string]int, error) {
			return res.graph.FindReachableNodes(ctx, nodeID, graph.WithReachMaxDepth(maxDepth))
		})
}

// Upstream returns nodes that reach nodeID with hop distances, cached
// per execution.
func (s *Service) Upstream(ctx context.Context, executionID, nodeID string, maxDepth int) (map[string]int, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	return s.cache.Upstream(ctx, executionID, nodeID, maxDepth,
		func(ctx context.Context) (map[string]int, error) {
			return res.graph.FindNodesThatReach(ctx, nodeID, graph.WithReachMaxDepth(maxDepth))
		})
}

// ArticulationPoints finds the merged graph's single points of failure.
func (s *Service) ArticulationPoints(ctx context.Context, executionID string) (*graph.ArticulationResult, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	return res.graph.ArticulationPoints(ctx)
}

// Degrees returns degree and density metrics for the merged graph.
func (s *Service) Degrees(executionID string) (*graph.DegreeMetrics, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	return res.graph.Degrees(), nil
}

// impactQueryHash canonicalizes a blast-radius query into a stable cache
// key component: seed order is irrelevant and the depth default is
// applied, so equivalent queries share one entry.
func impactQueryHash(q *impact.Query) string {
	seeds := append([]string(nil), q.NodeIDs...)
	sort.Strings(seeds)
	depth := q.MaxDepth
	if depth <= 0 {
		depth = impact.DefaultMaxDepth
	}
	canonical := fmt.Sprintf("%s|%d|%t|%t",
		strings.Join(seeds, "\x00"), depth, q.IncludeCrossRepo, q.IncludeIndirect)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

// BlastRadius analyzes change impact over the merged graph, cached per
// execution under the canonicalized query.
func (s *Service) BlastRadius(ctx context.Context, executionID string, query *impact.Query) (*impact.Response, error) {
	res, err := s.resultFor(executionID)
	if err != nil {
		return nil, err
	}
	return s.cache.Impact(ctx, executionID, impactQueryHash(query),
		func(ctx context.Context) (*impact.Response, error) {
			return res.impact.Analyze(ctx, query)
		})
}

// GetCachedBlastRadius returns a previously computed blast-radius
// response for an equivalent query, or (nil, nil) when nothing is
// cached. It never runs the analysis.
func (s *Service) GetCachedBlastRadius(ctx context.Context, executionID string, query *impact.Query) (*impact.Response, error) {
	if _, err := s.resultFor(executionID); err != nil {
		return nil, err
	}
	response, ok := s.cache.GetCachedImpact(ctx, executionID, impactQueryHash(query))
	if !ok {
		return nil, nil
	}
	return response, nil
}

// CacheStats returns the result cache counters.
func (s *Service) CacheStats() cache.CacheStats {
	return s.cache.Stats()
}
