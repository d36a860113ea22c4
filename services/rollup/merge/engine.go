// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
	"github.com/AleutianAI/iac-rollup/services/rollup/match"
)

var tracer = otel.Tracer("rollup.merge")

// compareContextCheckInterval is how often pairwise comparison loops check
// for cancellation.
const compareContextCheckInterval = 1000

// Engine runs merge executions. Stateless between calls; one instance is
// safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a merge engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateInput checks a merge input before any work begins.
//
// A failing input is rejected wholesale; merging never partially applies a
// bad configuration.
func (e *Engine) ValidateInput(input *Input) match.ValidationResult {
	result := match.ValidationResult{IsValid: true}

	if input == nil {
		result.IsValid = false
		result.Errors = append(result.Errors, "input is nil")
		return result
	}
	if len(input.Graphs) == 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "no repository graphs supplied")
	}

	seen := make(map[string]bool, len(input.Graphs))
	for i, rg := range input.Graphs {
		switch {
		case rg.RepoID == "":
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("graphs[%d]: empty repository id", i))
		case seen[rg.RepoID]:
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("graphs[%d]: duplicate repository id %s", i, rg.RepoID))
		default:
			seen[rg.RepoID] = true
		}
		if rg.Graph == nil {
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("graphs[%d]: nil graph", i))
		} else if !rg.Graph.IsFrozen() {
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("graphs[%d]: graph is not frozen", i))
		}
	}

	if p := input.Options.ConflictPolicy; p != "" && p != ConflictReject && p != ConflictMerge {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("unknown conflict policy %q", p))
	}
	if input.Options.MaxConcurrentPairs < 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "maxConcurrentPairs must be >= 0")
	}

	if len(input.Strategies) == 0 {
		result.Warnings = append(result.Warnings, "no matching strategies: every node will be unmatched")
	}
	if len(input.Graphs) == 1 {
		result.Warnings = append(result.Warnings, "single repository: nothing to match across")
	}

	return result
}

// sourceNode is the engine's view of one node across all input graphs.
type sourceNode struct {
	node   *graph.Node
	repoID string
	scanID string
}

// clusterInfo is the aggregate match evidence for one union-find set,
// stored at the set root.
type clusterInfo struct {
	bestConfidence int
	minConfidence  int
	matchCount     int
	bestStrategy   string
	bestNodeID     string // highest-confidence source, canonical name donor
}

// pairKey orders two node IDs lexicographically into a stable map key.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// Merge runs one full merge execution.
//
// Description:
//
//	Validates the input, runs every enabled strategy over every repository
//	pair (bounded concurrency), clusters the surviving match results with
//	a confidence-ordered union-find, synthesizes MergedNodes, and builds
//	the merged graph with re-pointed, deduplicated, cross-repo-tagged
//	edges. Either a complete Output is returned or an error; there is no
//	partial result.
//
// Errors:
//
//	ErrInvalidInput - Input failed validation (wrapped with detail)
//	context errors - Cancellation between comparison batches
func (e *Engine) Merge(ctx context.Context, input *Input) (*Output, error) {
	if v := e.ValidateInput(input); !v.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(v.Errors, "; "))
	}

	ctx, span := tracer.Start(ctx, "Engine.Merge",
		trace.WithAttributes(attribute.Int("repo_count", len(input.Graphs))),
	)
	defer span.End()
	start := time.Now()

	sources, index := e.collectSources(input)

	results, err := e.matchPairs(ctx, input, sources)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("match_results", len(results)))

	uf, clusters, stats, err := e.cluster(ctx, input, index, results)
	if err != nil {
		return nil, err
	}

	output, err := e.buildOutput(ctx, input, sources, index, uf, clusters, stats)
	if err != nil {
		return nil, err
	}

	e.logger.Info("merge execution complete",
		slog.Int("repos", len(input.Graphs)),
		slog.Int("merged_nodes", len(output.MergedNodes)),
		slog.Int("unmatched_nodes", len(output.UnmatchedNodes)),
		slog.Int("conflicts", output.Stats.Conflicts),
		slog.Duration("elapsed", time.Since(start)),
	)

	return output, nil
}

// collectSources flattens all input graphs into an indexed arena of source
// nodes. Iteration order (graphs in input order, nodes in arena order)
// fixes the index assignment, which downstream determinism relies on.
func (e *Engine) collectSources(input *Input) ([]sourceNode, map[string]int32) {
	var sources []sourceNode
	index := make(map[string]int32)

	for _, rg := range input.Graphs {
		for _, node := range rg.Graph.Nodes() {
			index[node.ID] = int32(len(sources))
			sources = append(sources, sourceNode{node: node, repoID: rg.RepoID, scanID: rg.ScanID})
		}
	}
	return sources, index
}

// typeAllowed applies the include/exclude node-type filters.
func typeAllowed(opts *Options, nodeType string) bool {
	for _, t := range opts.ExcludeNodeTypes {
		if t == nodeType {
			return false
		}
	}
	if len(opts.IncludeNodeTypes) == 0 {
		return true
	}
	for _, t := range opts.IncludeNodeTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

// matchPairs runs every enabled strategy over every repository pair and
// returns the best surviving result per node pair, deterministically
// sorted for clustering.
func (e *Engine) matchPairs(ctx context.Context, input *Input, sources []sourceNode) ([]*match.MatchResult, error) {
	// Candidate extraction once per strategy per repository.
	type candidateSet struct {
		strategy   match.Strategy
		candidates [][]match.MatchCandidate // per repository index
	}

	sets := make([]candidateSet, 0, len(input.Strategies))
	for _, s := range input.Strategies {
		if !s.IsEnabled() {
			continue
		}
		perRepo := make([][]match.MatchCandidate, len(input.Graphs))
		for ri, rg := range input.Graphs {
			for _, node := range rg.Graph.Nodes() {
				if !typeAllowed(&input.Options, node.Type) {
					continue
				}
				perRepo[ri] = append(perRepo[ri], s.ExtractCandidates(node, rg.RepoID, rg.ScanID)...)
			}
		}
		sets = append(sets, candidateSet{strategy: s, candidates: perRepo})
	}

	limit := input.Options.MaxConcurrentPairs
	if limit == 0 {
		limit = DefaultMaxConcurrentPairs
	}

	var mu sync.Mutex
	best := make(map[string]*match.MatchResult)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := 0; i < len(input.Graphs); i++ {
		for j := i + 1; j < len(input.Graphs); j++ {
			g.Go(func() error {
				local := make(map[string]*match.MatchResult)
				comparisons := 0

				for _, set := range sets {
					floor := set.strategy.MinConfidence()
					for ai := range set.candidates[i] {
						for bi := range set.candidates[j] {
							comparisons++
							if comparisons%compareContextCheckInterval == 0 {
								if err := gctx.Err(); err != nil {
									return err
								}
							}

							result := set.strategy.Compare(&set.candidates[i][ai], &set.candidates[j][bi])
							if result == nil || result.Confidence < floor {
								continue
							}
							key := pairKey(result.SourceNodeID, result.TargetNodeID)
							if prev, ok := local[key]; !ok || match.Better(result, prev, nil) {
								local[key] = result
							}
						}
					}
				}

				mu.Lock()
				for key, result := range local {
					if prev, ok := best[key]; !ok || match.Better(result, prev, nil) {
						best[key] = result
					}
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]*match.MatchResult, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}

	// Deterministic clustering order: strongest matches union first, ties
	// broken by static strategy priority, then by the node-id pair.
	sort.Slice(results, func(a, b int) bool {
		ra, rb := results[a], results[b]
		if ra.Confidence != rb.Confidence {
			return ra.Confidence > rb.Confidence
		}
		if match.StaticPriority(ra.Strategy) != match.StaticPriority(rb.Strategy) {
			return match.StaticPriority(ra.Strategy) > match.StaticPriority(rb.Strategy)
		}
		return pairKey(ra.SourceNodeID, ra.TargetNodeID) < pairKey(rb.SourceNodeID, rb.TargetNodeID)
	})

	return results, nil
}

// cluster unions match results into same-entity sets, applying the
// conflict policy.
func (e *Engine) cluster(
	ctx context.Context,
	input *Input,
	index map[string]int32,
	results []*match.MatchResult,
) (*unionFind, map[int32]*clusterInfo, *Stats, error) {
	uf := newUnionFind(len(index))
	clusters := make(map[int32]*clusterInfo)
	stats := &Stats{}

	policy := input.Options.ConflictPolicy
	if policy == "" {
		policy = ConflictReject
	}

	for n, result := range results {
		if n%compareContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, nil, err
			}
		}

		src, ok := index[result.SourceNodeID]
		if !ok {
			continue
		}
		dst, ok := index[result.TargetNodeID]
		if !ok {
			continue
		}

		rootSrc, rootDst := uf.find(src), uf.find(dst)
		if rootSrc == rootDst {
			// Additional evidence inside one cluster.
			info := clusters[rootSrc]
			info.matchCount++
			if result.Confidence < info.minConfidence {
				info.minConfidence = result.Confidence
			}
			continue
		}

		infoSrc, infoDst := clusters[rootSrc], clusters[rootDst]
		bothEstablished := uf.setSize(rootSrc) >= 2 && uf.setSize(rootDst) >= 2
		if bothEstablished &&
			infoSrc != nil && infoSrc.bestConfidence > result.Confidence &&
			infoDst != nil && infoDst.bestConfidence > result.Confidence {
			// Weaker evidence trying to join two established clusters.
			if policy == ConflictReject {
				stats.Conflicts++
				continue
			}
			stats.ConflictsResolved++
		}

		root, _ := uf.union(src, dst)
		merged := mergeClusterInfo(infoSrc, infoDst, result)
		delete(clusters, rootSrc)
		delete(clusters, rootDst)
		clusters[root] = merged
	}

	return uf, clusters, stats, nil
}

// mergeClusterInfo folds two cluster infos and the accepted match into one.
func mergeClusterInfo(a, b *clusterInfo, result *match.MatchResult) *clusterInfo {
	merged := &clusterInfo{
		bestConfidence: result.Confidence,
		minConfidence:  result.Confidence,
		matchCount:     1,
		bestStrategy:   result.Strategy,
		bestNodeID:     result.SourceNodeID,
	}
	for _, info := range []*clusterInfo{a, b} {
		if info == nil {
			continue
		}
		merged.matchCount += info.matchCount
		if info.minConfidence < merged.minConfidence {
			merged.minConfidence = info.minConfidence
		}
		if info.bestConfidence > merged.bestConfidence {
			merged.bestConfidence = info.bestConfidence
			merged.bestStrategy = info.bestStrategy
			merged.bestNodeID = info.bestNodeID
		}
	}
	return merged
}
