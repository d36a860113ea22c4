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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Strongly Connected Components (Tarjan)
// =============================================================================

// sccContextCheckInterval is how often to check for context cancellation.
const sccContextCheckInterval = 1000

// SCC is one strongly connected component of the graph.
type SCC struct {
	// Nodes contains the IDs of the member nodes.
	Nodes []string `json:"nodes"`

	// IsCycle is true when the component has more than one node, or a
	// single node with a self-loop.
	IsCycle bool `json:"isCycle"`
}

// CycleInfo describes one cyclic SCC as its node and edge sets.
type CycleInfo struct {
	// Nodes contains the IDs of the nodes participating in the cycle.
	Nodes []string `json:"nodes"`

	// Edges contains the IDs of edges whose endpoints both lie inside
	// the cycle.
	Edges []string `json:"edges"`
}

// Phase constants for the iterative Tarjan DFS.
const (
	sccPhaseInit         = 0 // Assign index/lowlink, push onto SCC stack
	sccPhaseProcessEdges = 1 // Walk outgoing edges, descend into unvisited targets
	sccPhasePostChild    = 2 // Returned from a child: fold its lowlink into ours
	sccPhaseFinalize     = 3 // Pop a completed component if this is its root
)

// sccFrame is a stack frame for the iterative Tarjan DFS.
// The phase field controls which step of the algorithm executes next.
type sccFrame struct {
	node      int32
	edgeIndex int
	phase     int
	child     int32
}

// TarjanSCC computes all strongly connected components.
//
// Description:
//
//	Single-pass iterative Tarjan over the arena adjacency, maintaining
//	discovery index, low-link, an explicit component stack and an on-stack
//	set. The explicit DFS stack bounds memory for very deep merged graphs
//	where recursion would overflow.
//
//	A component is flagged IsCycle when it has more than one node or when
//	its single node carries a self-loop. Disconnected graphs are handled
//	by restarting the DFS from every unvisited node.
//
// Inputs:
//
//   - ctx: Context for cancellation. Checked every 1000 frames.
//
// Outputs:
//
//   - []SCC: All components, singletons included. Never nil on success.
//   - error: Non-nil only on context cancellation.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
//
// Complexity: O(V + E) time, O(V) space.
func (g *Graph) TarjanSCC(ctx context.Context) ([]SCC, error) {
	n := len(g.nodes)
	result := make([]SCC, 0, n)
	if n == 0 {
		return result, nil
	}

	ctx, span := tracer.Start(ctx, "Graph.TarjanSCC",
		trace.WithAttributes(
			attribute.Int("node_count", n),
			attribute.Int("edge_count", len(g.edges)),
		),
	)
	defer span.End()

	const unvisited = -1

	index := make([]int32, n)
	lowlink := make([]int32, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = unvisited
	}

	var counter int32
	compStack := make([]int32, 0, n)
	dfs := make([]sccFrame, 0, 64)
	iterations := 0

	selfLoop := make([]bool, n)
	for _, e := range g.edges {
		if e.src == e.dst {
			selfLoop[e.src] = true
		}
	}

	for start := int32(0); start < int32(n); start++ {
		if index[start] != unvisited {
			continue
		}

		dfs = append(dfs, sccFrame{node: start, phase: sccPhaseInit})

		for len(dfs) > 0 {
			iterations++
			if iterations%sccContextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					span.AddEvent("context_cancelled")
					return result, err
				}
			}

			frame := &dfs[len(dfs)-1]

			switch frame.phase {
			case sccPhaseInit:
				index[frame.node] = counter
				lowlink[frame.node] = counter
				counter++
				compStack = append(compStack, frame.node)
				onStack[frame.node] = true
				frame.edgeIndex = 0
				frame.phase = sccPhaseProcessEdges

			case sccPhaseProcessEdges:
				edges := g.out[frame.node]
				descended := false
				for frame.edgeIndex < len(edges) {
					target := g.edges[edges[frame.edgeIndex]].dst
					frame.edgeIndex++

					if index[target] == unvisited {
						// Tree edge: descend.
						frame.phase = sccPhasePostChild
						frame.child = target
						dfs = append(dfs, sccFrame{node: target, phase: sccPhaseInit})
						descended = true
						break
					}
					if onStack[target] && index[target] < lowlink[frame.node] {
						// Back edge into the current component.
						lowlink[frame.node] = index[target]
					}
				}
				if !descended {
					frame.phase = sccPhaseFinalize
				}

			case sccPhasePostChild:
				if lowlink[frame.child] < lowlink[frame.node] {
					lowlink[frame.node] = lowlink[frame.child]
				}
				frame.phase = sccPhaseProcessEdges

			case sccPhaseFinalize:
				if lowlink[frame.node] == index[frame.node] {
					// This node is the root of a completed component.
					members := make([]string, 0, 2)
					for {
						top := compStack[len(compStack)-1]
						compStack = compStack[:len(compStack)-1]
						onStack[top] = false
						members = append(members, g.nodes[top].ID)
						if top == frame.node {
							break
						}
					}
					result = append(result, SCC{
						Nodes:   members,
						IsCycle: len(members) > 1 || selfLoop[frame.node],
					})
				}
				dfs = dfs[:len(dfs)-1]
			}
		}
	}

	span.SetAttributes(attribute.Int("scc_count", len(result)))
	return result, nil
}

// FindCyclesTarjan returns the cyclic components as node/edge sets.
//
// Description:
//
//	Runs TarjanSCC and projects each cyclic component into a CycleInfo:
//	the member node IDs plus every edge whose endpoints both lie inside
//	the component (self-loops included).
//
// Outputs:
//
//   - []CycleInfo: One entry per cyclic SCC. Empty for acyclic graphs.
//   - error: Non-nil only on context cancellation.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *Graph) FindCyclesTarjan(ctx context.Context) ([]CycleInfo, error) {
	sccs, err := g.TarjanSCC(ctx)
	if err != nil {
		return nil, err
	}

	// Assign each node to its cyclic component, if any.
	component := make(map[string]int, len(g.nodes))
	cycles := make([]CycleInfo, 0)
	for _, scc := range sccs {
		if !scc.IsCycle {
			continue
		}
		idx := len(cycles)
		for _, id := range scc.Nodes {
			component[id] = idx
		}
		cycles = append(cycles, CycleInfo{
			Nodes: scc.Nodes,
			Edges: make([]string, 0),
		})
	}

	if len(cycles) == 0 {
		return cycles, nil
	}

	for _, e := range g.edges {
		srcID := g.nodes[e.src].ID
		dstID := g.nodes[e.dst].ID
		srcComp, ok := component[srcID]
		if !ok {
			continue
		}
		if dstComp, ok := component[dstID]; ok && srcComp == dstComp {
			cycles[srcComp].Edges = append(cycles[srcComp].Edges, e.id)
		}
	}

	slog.Debug("cycle detection complete",
		slog.Int("scc_count", len(sccs)),
		slog.Int("cycle_count", len(cycles)),
	)

	return cycles, nil
}
