// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
)

var tracer = otel.Tracer("rollup.impact")

// Engine answers blast-radius queries against one merged graph.
//
// The engine holds the frozen merged graph and the node->repositories map
// produced by the merge engine. It is read-only and safe for concurrent
// use.
type Engine struct {
	graph      *graph.Graph
	nodeRepos  map[string][]string
	thresholds RiskThresholds
	logger     *slog.Logger
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithRiskThresholds overrides the risk derivation thresholds.
func WithRiskThresholds(rt RiskThresholds) EngineOption {
	return func(e *Engine) { e.thresholds = rt }
}

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a blast-radius engine over a frozen merged graph.
//
// nodeRepos maps merged-graph node IDs to their source repositories
// (merge.Output.NodeRepos).
func NewEngine(g *graph.Graph, nodeRepos map[string][]string, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:      g,
		nodeRepos:  nodeRepos,
		thresholds: DefaultRiskThresholds(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze computes the blast radius for a query.
//
// Description:
//
//	Runs depth-bounded forward reachability from every seed and keeps the
//	minimum hop distance per impacted node. Distance-1 nodes are direct
//	impact; deeper nodes are indirect (included only when the query asks).
//	A node spanning a repository no seed spans is cross-repo impact
//	(classified only when the query asks). Seeds themselves are never
//	reported as impacted.
//
// Errors:
//
//	ErrNoSeeds - Query has no seed nodes
//	ErrUnknownSeed - A seed is absent from the merged graph
//	context errors - Cancellation during traversal
func (e *Engine) Analyze(ctx context.Context, query *Query) (*Response, error) {
	if query == nil || len(query.NodeIDs) == 0 {
		return nil, ErrNoSeeds
	}

	maxDepth := query.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}

	ctx, span := tracer.Start(ctx, "Engine.Analyze",
		trace.WithAttributes(
			attribute.Int("seed_count", len(query.NodeIDs)),
			attribute.Int("max_depth", maxDepth),
		),
	)
	defer span.End()
	start := time.Now()

	seeds := make(map[string]bool, len(query.NodeIDs))
	seedRepos := make(map[string]bool)
	for _, id := range query.NodeIDs {
		if !e.graph.HasNode(id) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSeed, id)
		}
		seeds[id] = true
		for _, repo := range e.nodeRepos[id] {
			seedRepos[repo] = true
		}
	}

	// Minimum hop distance per impacted node across all seeds.
	distances := make(map[string]int)
	for _, id := range query.NodeIDs {
		reached, err := e.graph.FindReachableNodes(ctx, id, graph.WithReachMaxDepth(maxDepth))
		if err != nil {
			return nil, err
		}
		for nodeID, d := range reached {
			if seeds[nodeID] {
				continue
			}
			if prev, ok := distances[nodeID]; !ok || d < prev {
				distances[nodeID] = d
			}
		}
	}

	response := &Response{
		DirectImpact:    make([]ImpactedNode, 0),
		IndirectImpact:  make([]ImpactedNode, 0),
		CrossRepoImpact: make([]ImpactedNode, 0),
		Summary: Summary{
			ImpactByType:  make(map[string]int),
			ImpactByRepo:  make(map[string]int),
			ImpactByDepth: make(map[int]int),
		},
	}

	for nodeID, distance := range distances {
		if distance > 1 && !query.IncludeIndirect {
			continue
		}

		node, _ := e.graph.GetNode(nodeID)
		repos := e.nodeRepos[nodeID]
		impacted := ImpactedNode{
			NodeID:    nodeID,
			Distance:  distance,
			Repos:     repos,
			CrossRepo: e.spansForeignRepo(repos, seedRepos),
		}
		if node != nil {
			impacted.Name = node.Name
			impacted.Type = node.Type
		}

		if distance == 1 {
			response.DirectImpact = append(response.DirectImpact, impacted)
			response.Summary.DirectCount++
		} else {
			response.IndirectImpact = append(response.IndirectImpact, impacted)
			response.Summary.IndirectCount++
		}

		if impacted.CrossRepo && query.IncludeCrossRepo {
			response.CrossRepoImpact = append(response.CrossRepoImpact, impacted)
			response.Summary.CrossRepoCount++
		}

		response.Summary.TotalImpacted++
		response.Summary.ImpactByType[impacted.Type]++
		response.Summary.ImpactByDepth[distance]++
		for _, repo := range repos {
			response.Summary.ImpactByRepo[repo]++
		}
	}

	sortImpacted(response.DirectImpact)
	sortImpacted(response.IndirectImpact)
	sortImpacted(response.CrossRepoImpact)

	response.Summary.RiskLevel = e.thresholds.riskLevel(
		response.Summary.TotalImpacted, response.Summary.CrossRepoCount)

	span.SetAttributes(
		attribute.Int("total_impacted", response.Summary.TotalImpacted),
		attribute.String("risk_level", response.Summary.RiskLevel),
	)
	e.logger.Debug("blast radius analyzed",
		slog.Int("seeds", len(query.NodeIDs)),
		slog.Int("total_impacted", response.Summary.TotalImpacted),
		slog.String("risk_level", response.Summary.RiskLevel),
		slog.Duration("elapsed", time.Since(start)),
	)

	return response, nil
}

// spansForeignRepo reports whether a node spans any repository outside the
// seed repo set.
func (e *Engine) spansForeignRepo(repos []string, seedRepos map[string]bool) bool {
	for _, repo := range repos {
		if !seedRepos[repo] {
			return true
		}
	}
	return false
}

// sortImpacted orders impact lists by distance then node ID for stable
// output.
func sortImpacted(nodes []ImpactedNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Distance != nodes[j].Distance {
			return nodes[i].Distance < nodes[j].Distance
		}
		return nodes[i].NodeID < nodes[j].NodeID
	})
}
