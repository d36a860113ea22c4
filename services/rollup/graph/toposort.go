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
	"sort"
)

// =============================================================================
// Topological Sort
// =============================================================================

// TopoSortResult contains the result of a topological sort.
type TopoSortResult struct {
	// Sorted contains node IDs in dependency order. Nodes participating
	// in cycles are omitted.
	Sorted []string `json:"sorted"`

	// HasCycle is true when at least one node could not be ordered.
	HasCycle bool `json:"hasCycle"`

	// CycleNodes contains the IDs of the nodes participating in cycles,
	// sorted lexicographically for stable output.
	CycleNodes []string `json:"cycleNodes,omitempty"`
}

// TopologicalSort orders the graph using Kahn's algorithm.
//
// Description:
//
//	BFS over the zero-in-degree frontier. When the produced order omits
//	nodes, exactly those nodes participate in cycles; they are reported
//	via HasCycle/CycleNodes rather than as an error.
//
//	Self-loops count toward in-degree, so a self-looping node is reported
//	as cyclic.
//
// Outputs:
//
//   - *TopoSortResult: The ordering and cycle report. Never nil on success.
//   - error: Non-nil only on context cancellation.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
//
// Complexity: O(V + E).
func (g *Graph) TopologicalSort(ctx context.Context) (*TopoSortResult, error) {
	n := len(g.nodes)
	result := &TopoSortResult{
		Sorted:     make([]string, 0, n),
		CycleNodes: make([]string, 0),
	}

	inDegree := make([]int, n)
	for _, e := range g.edges {
		inDegree[e.dst]++
	}

	queue := make([]int32, 0, n)
	for i := int32(0); i < int32(n); i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	processed := 0
	for len(queue) > 0 {
		if processed%sccContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return result, err
			}
		}

		node := queue[0]
		queue = queue[1:]
		processed++
		result.Sorted = append(result.Sorted, g.nodes[node].ID)

		for _, eIdx := range g.out[node] {
			target := g.edges[eIdx].dst
			inDegree[target]--
			if inDegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	if processed < n {
		result.HasCycle = true
		ordered := make(map[string]bool, processed)
		for _, id := range result.Sorted {
			ordered[id] = true
		}
		for _, node := range g.nodes {
			if !ordered[node.ID] {
				result.CycleNodes = append(result.CycleNodes, node.ID)
			}
		}
		sort.Strings(result.CycleNodes)
	}

	return result, nil
}

// dfsSortMark values for TopologicalSortDFS.
const (
	dfsUnmarked = 0
	dfsInStack  = 1
	dfsDone     = 2
)

// TopologicalSortDFS orders the graph using iterative depth-first search.
//
// Description:
//
//	Post-order DFS with an explicit stack (no recursion). Nodes found on
//	a gray path (back edge) are cycle members. Produces the same
//	HasCycle verdict and CycleNodes set as TopologicalSort; the Sorted
//	order itself may differ, which is fine for any valid topological
//	order.
//
//	Cycle membership is derived from the strongly connected components,
//	so both sort variants agree exactly on which nodes are cyclic.
//
// Outputs:
//
//   - *TopoSortResult: The ordering and cycle report. Never nil on success.
//   - error: Non-nil only on context cancellation.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *Graph) TopologicalSortDFS(ctx context.Context) (*TopoSortResult, error) {
	n := len(g.nodes)
	result := &TopoSortResult{
		Sorted:     make([]string, 0, n),
		CycleNodes: make([]string, 0),
	}

	// Cycle membership comes from SCCs: a node is cyclic iff its
	// component is cyclic. This keeps the DFS and Kahn variants in exact
	// agreement on CycleNodes.
	sccs, err := g.TarjanSCC(ctx)
	if err != nil {
		return result, err
	}
	cyclic := make(map[string]bool)
	for _, scc := range sccs {
		if scc.IsCycle {
			for _, id := range scc.Nodes {
				cyclic[id] = true
			}
		}
	}

	mark := make([]int8, n)
	postOrder := make([]string, 0, n)

	type dfsFrame struct {
		node      int32
		edgeIndex int
	}

	iterations := 0
	for start := int32(0); start < int32(n); start++ {
		if mark[start] != dfsUnmarked {
			continue
		}

		stack := []dfsFrame{{node: start}}
		mark[start] = dfsInStack

		for len(stack) > 0 {
			iterations++
			if iterations%sccContextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return result, err
				}
			}

			frame := &stack[len(stack)-1]
			edges := g.out[frame.node]

			descended := false
			for frame.edgeIndex < len(edges) {
				target := g.edges[edges[frame.edgeIndex]].dst
				frame.edgeIndex++
				if mark[target] == dfsUnmarked {
					mark[target] = dfsInStack
					stack = append(stack, dfsFrame{node: target})
					descended = true
					break
				}
			}
			if descended {
				continue
			}

			mark[frame.node] = dfsDone
			postOrder = append(postOrder, g.nodes[frame.node].ID)
			stack = stack[:len(stack)-1]
		}
	}

	// Reverse post-order is a topological order; exclude cyclic nodes to
	// match Kahn's behavior of omitting them.
	for i := len(postOrder) - 1; i >= 0; i-- {
		if !cyclic[postOrder[i]] {
			result.Sorted = append(result.Sorted, postOrder[i])
		}
	}

	if len(cyclic) > 0 {
		result.HasCycle = true
		for id := range cyclic {
			result.CycleNodes = append(result.CycleNodes, id)
		}
		sort.Strings(result.CycleNodes)
	}

	return result, nil
}
