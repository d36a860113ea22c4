// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Articulation Points / Cut Vertices
// =============================================================================

// articulationContextCheckInterval is how often to check for context cancellation.
const articulationContextCheckInterval = 1000

// ArticulationResult contains the articulation point analysis.
type ArticulationResult struct {
	// Points contains node IDs that are articulation points, sorted
	// lexicographically. An articulation point is a node whose removal
	// increases the number of connected components.
	Points []string `json:"points"`

	// Bridges contains edges whose removal disconnects the graph.
	// Each bridge is represented as [fromID, toID].
	Bridges [][2]string `json:"bridges"`

	// Components is the number of connected components in the undirected
	// projection of the graph.
	Components int `json:"components"`

	// NodeCount is the total nodes analyzed.
	NodeCount int `json:"nodeCount"`

	// EdgeCount is the total edges analyzed.
	EdgeCount int `json:"edgeCount"`
}

// Phase constants for iterative DFS in the articulation point algorithm.
const (
	apPhaseInit         = 0 // Initialize node: set discovery/low-link times, mark visited
	apPhaseProcessEdges = 1 // Iterate through neighbors, push unvisited to stack
	apPhasePostChild    = 2 // Return from child: update low-link, check articulation condition
	apPhaseFinalize     = 3 // Complete node processing: check root articulation, pop from stack
)

// apFrame represents a stack frame for iterative DFS.
// Using iterative DFS avoids stack overflow on deep graphs.
type apFrame struct {
	node       int32
	parent     int32
	edgeIndex  int
	phase      int
	child      int32
	childCount int
}

// ArticulationPoints finds cut vertices using Tarjan's low-link algorithm.
//
// Description:
//
//	Uses iterative DFS (to avoid stack overflow on deep graphs) to find
//	nodes whose removal would disconnect the graph when treated as
//	undirected. Also identifies bridges (critical edges).
//
//	The directed dependency graph is projected to undirected form: both
//	incoming and outgoing edges count for connectivity. A non-root node
//	is an articulation point when some DFS child's low-link is >= its own
//	discovery time; the root is one when it has two or more DFS children.
//
// Inputs:
//
//   - ctx: Context for cancellation. Checked every 1000 frames.
//
// Outputs:
//
//   - *ArticulationResult: Analysis results. Never nil on success.
//   - error: Non-nil only on context cancellation. Partial results still
//     returned.
//
// Limitations:
//
//   - Self-loops are skipped (they do not affect connectivity)
//   - Parallel edges are deduplicated before analysis
//
// Thread Safety: Safe for concurrent use on frozen graphs.
//
// Complexity: O(V + E) time, O(V) space.
func (g *Graph) ArticulationPoints(ctx context.Context) (*ArticulationResult, error) {
	n := len(g.nodes)
	result := &ArticulationResult{
		Points:    make([]string, 0),
		Bridges:   make([][2]string, 0),
		NodeCount: n,
		EdgeCount: len(g.edges),
	}
	if n == 0 {
		return result, nil
	}

	ctx, span := tracer.Start(ctx, "Graph.ArticulationPoints",
		trace.WithAttributes(
			attribute.Int("node_count", n),
			attribute.Int("edge_count", len(g.edges)),
		),
	)
	defer span.End()

	neighbors := g.buildUndirectedNeighbors()

	const none = int32(-1)
	discovery := make([]int, n)
	lowLink := make([]int, n)
	visited := make([]bool, n)
	isArticulation := make([]bool, n)

	timer := 0
	iterations := 0
	components := 0

	for start := int32(0); start < int32(n); start++ {
		if visited[start] {
			continue
		}

		stack := make([]apFrame, 0, 64)
		stack = append(stack, apFrame{node: start, parent: none, phase: apPhaseInit})

		for len(stack) > 0 {
			iterations++
			if iterations%articulationContextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					span.AddEvent("context_cancelled", trace.WithAttributes(
						attribute.Int("frames_processed", iterations),
					))
					return result, err
				}
			}

			frame := &stack[len(stack)-1]

			switch frame.phase {
			case apPhaseInit:
				visited[frame.node] = true
				discovery[frame.node] = timer
				lowLink[frame.node] = timer
				timer++
				frame.childCount = 0
				frame.edgeIndex = 0
				frame.phase = apPhaseProcessEdges

			case apPhaseProcessEdges:
				nodeNeighbors := neighbors[frame.node]
				descended := false
				for frame.edgeIndex < len(nodeNeighbors) {
					next := nodeNeighbors[frame.edgeIndex]
					frame.edgeIndex++

					// Skip the edge back to the DFS parent.
					if next == frame.parent {
						continue
					}

					if !visited[next] {
						// Tree edge: descend.
						frame.phase = apPhasePostChild
						frame.child = next
						frame.childCount++
						stack = append(stack, apFrame{node: next, parent: frame.node, phase: apPhaseInit})
						descended = true
						break
					}
					// Back edge: update low-link.
					if discovery[next] < lowLink[frame.node] {
						lowLink[frame.node] = discovery[next]
					}
				}
				if !descended {
					frame.phase = apPhaseFinalize
				}

			case apPhasePostChild:
				if lowLink[frame.child] < lowLink[frame.node] {
					lowLink[frame.node] = lowLink[frame.child]
				}

				// Articulation condition for non-root nodes.
				if frame.parent != none && lowLink[frame.child] >= discovery[frame.node] {
					isArticulation[frame.node] = true
				}

				// Bridge condition.
				if lowLink[frame.child] > discovery[frame.node] {
					result.Bridges = append(result.Bridges, [2]string{
						g.nodes[frame.node].ID,
						g.nodes[frame.child].ID,
					})
				}

				frame.phase = apPhaseProcessEdges

			case apPhaseFinalize:
				// Root is an articulation point if it has 2+ DFS children.
				if frame.parent == none && frame.childCount >= 2 {
					isArticulation[frame.node] = true
				}
				stack = stack[:len(stack)-1]
			}
		}

		components++
	}

	for i, isAP := range isArticulation {
		if isAP {
			result.Points = append(result.Points, g.nodes[i].ID)
		}
	}
	sort.Strings(result.Points)
	result.Components = components

	span.SetAttributes(
		attribute.Int("articulation_points", len(result.Points)),
		attribute.Int("bridges", len(result.Bridges)),
		attribute.Int("components", components),
	)

	slog.Debug("articulation point analysis complete",
		slog.Int("points", len(result.Points)),
		slog.Int("bridges", len(result.Bridges)),
		slog.Int("components", components),
	)

	return result, nil
}

// buildUndirectedNeighbors creates an adjacency list treating directed
// edges as undirected. Self-loops are excluded and parallel edges are
// deduplicated.
func (g *Graph) buildUndirectedNeighbors() [][]int32 {
	n := len(g.nodes)
	neighbors := make([][]int32, n)

	for i := int32(0); i < int32(n); i++ {
		seen := make(map[int32]bool, len(g.out[i])+len(g.in[i]))

		for _, eIdx := range g.out[i] {
			dst := g.edges[eIdx].dst
			if dst != i {
				seen[dst] = true
			}
		}
		for _, eIdx := range g.in[i] {
			src := g.edges[eIdx].src
			if src != i {
				seen[src] = true
			}
		}

		list := make([]int32, 0, len(seen))
		for next := range seen {
			list = append(list, next)
		}
		// Stable neighbor order keeps DFS deterministic across runs.
		sort.Slice(list, func(a, b int) bool { return list[a] < list[b] })
		neighbors[i] = list
	}

	return neighbors
}
