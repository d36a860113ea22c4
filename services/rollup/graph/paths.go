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
	"fmt"
	"sort"
	"time"
)

// Path query limits.
const (
	// DefaultAllPathsMaxDepth is the default depth bound for FindAllPaths.
	DefaultAllPathsMaxDepth = 10

	// DefaultAllPathsMaxPaths is the default result bound for FindAllPaths.
	DefaultAllPathsMaxPaths = 100
)

// PathResult contains the result of a shortest path query.
type PathResult struct {
	// From is the starting node ID.
	From string `json:"from"`

	// To is the target node ID.
	To string `json:"to"`

	// Path contains node IDs in path order, including From and To.
	// Empty if no path exists.
	Path []string `json:"path"`

	// Edges contains the IDs of the traversed edges, in path order.
	// Empty for a zero-length path.
	Edges []string `json:"edges"`

	// Length is the number of edges in the path. Zero when From == To,
	// -1 when no path exists.
	Length int `json:"length"`
}

// Found reports whether a path exists. A zero-length path (From == To)
// counts as found; Length == -1 does not.
func (r *PathResult) Found() bool {
	return r.Length >= 0
}

// AllPathsResult contains the result of an all-paths query.
type AllPathsResult struct {
	// Paths contains the discovered paths, each as a node ID sequence,
	// sorted by ascending length.
	Paths [][]string `json:"paths"`

	// Truncated is true when the depth or path-count bound was hit.
	// Truncation is documented behavior, not an error.
	Truncated bool `json:"truncated"`
}

// PathOptions configures all-paths queries.
type PathOptions struct {
	// MaxDepth bounds the path length in edges. Default: 10.
	MaxDepth int

	// MaxPaths bounds the number of returned paths. Default: 100.
	MaxPaths int
}

// DefaultPathOptions returns sensible defaults for path queries.
func DefaultPathOptions() PathOptions {
	return PathOptions{
		MaxDepth: DefaultAllPathsMaxDepth,
		MaxPaths: DefaultAllPathsMaxPaths,
	}
}

// PathOption is a functional option for configuring path queries.
type PathOption func(*PathOptions)

// WithPathMaxDepth bounds path length in edges. Non-positive values fall
// back to the default.
func WithPathMaxDepth(d int) PathOption {
	return func(o *PathOptions) {
		if d > 0 {
			o.MaxDepth = d
		}
	}
}

// WithMaxPaths bounds the number of returned paths. Non-positive values
// fall back to the default.
func WithMaxPaths(n int) PathOption {
	return func(o *PathOptions) {
		if n > 0 {
			o.MaxPaths = n
		}
	}
}

// BFSShortestPath finds a minimum-edge path between two nodes.
//
// Description:
//
//	Unweighted BFS with parent-pointer path reconstruction. From == To
//	returns a zero-length path with an empty edge list, which is distinct
//	from the "no path" result (Length == -1, empty Path).
//
// Inputs:
//
//	ctx - Context for cancellation
//	fromID - Starting node ID
//	toID - Target node ID
//
// Outputs:
//
//	*PathResult - Path details; Length == -1 when no path exists
//	error - Non-nil if either endpoint is unknown or the context is
//	cancelled before the search finishes
//
// Thread Safety: Safe for concurrent use on frozen graphs.
//
// Complexity: O(V + E).
func (g *Graph) BFSShortestPath(ctx context.Context, fromID, toID string) (*PathResult, error) {
	start := time.Now()

	result := &PathResult{
		From:   fromID,
		To:     toID,
		Path:   []string{},
		Edges:  []string{},
		Length: -1,
	}

	src, ok := g.index[fromID]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, fromID)
	}
	dst, ok := g.index[toID]
	if !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, toID)
	}

	if src == dst {
		result.Path = []string{fromID}
		result.Length = 0
		recordQueryMetrics(ctx, "shortest_path", time.Since(start), 1)
		return result, nil
	}

	const noParent = -1
	parentEdge := make([]int32, len(g.nodes))
	for i := range parentEdge {
		parentEdge[i] = noParent
	}

	visited := make([]bool, len(g.nodes))
	visited[src] = true
	queue := []int32{src}
	iterations := 0

	for len(queue) > 0 {
		iterations++
		if iterations%sccContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		current := queue[0]
		queue = queue[1:]

		for _, eIdx := range g.out[current] {
			target := g.edges[eIdx].dst
			if visited[target] {
				continue
			}
			visited[target] = true
			parentEdge[target] = eIdx

			if target == dst {
				// Reconstruct path by walking parent edges back to src.
				nodePath := []string{}
				edgePath := []string{}
				for at := dst; ; {
					nodePath = append([]string{g.nodes[at].ID}, nodePath...)
					eIdx := parentEdge[at]
					if eIdx == noParent {
						break
					}
					edgePath = append([]string{g.edges[eIdx].id}, edgePath...)
					at = g.edges[eIdx].src
				}
				result.Path = nodePath
				result.Edges = edgePath
				result.Length = len(edgePath)
				recordQueryMetrics(ctx, "shortest_path", time.Since(start), 1)
				return result, nil
			}

			queue = append(queue, target)
		}
	}

	recordQueryMetrics(ctx, "shortest_path", time.Since(start), 0)
	return result, nil // No path found
}

// allPathsFrame is a stack frame for the bounded all-paths DFS.
type allPathsFrame struct {
	node      int32
	edgeIndex int
}

// FindAllPaths enumerates simple paths between two nodes.
//
// Description:
//
//	Bounded DFS with backtracking. Both bounds truncate rather than
//	error: exceeding MaxDepth prunes the branch, exceeding MaxPaths
//	stops enumeration and sets Truncated. Results are sorted by
//	ascending path length.
//
// Inputs:
//
//	ctx - Context for cancellation
//	fromID, toID - Endpoint node IDs
//	opts - WithPathMaxDepth (default 10), WithMaxPaths (default 100)
//
// Outputs:
//
//	*AllPathsResult - Discovered paths, possibly truncated
//	error - Non-nil if either endpoint is unknown
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *Graph) FindAllPaths(ctx context.Context, fromID, toID string, opts ...PathOption) (*AllPathsResult, error) {
	options := DefaultPathOptions()
	for _, opt := range opts {
		opt(&options)
	}

	src, ok := g.index[fromID]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, fromID)
	}
	dst, ok := g.index[toID]
	if !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, toID)
	}

	result := &AllPathsResult{Paths: make([][]string, 0)}

	onPath := make([]bool, len(g.nodes))
	stack := []allPathsFrame{{node: src}}
	onPath[src] = true
	iterations := 0

	for len(stack) > 0 {
		iterations++
		if iterations%sccContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				result.Truncated = true
				break
			}
		}

		frame := &stack[len(stack)-1]

		// Record a complete path when the top of the stack is the target.
		// The target is never expanded further (simple paths only).
		if frame.node == dst && len(stack) > 1 && frame.edgeIndex == 0 {
			path := make([]string, len(stack))
			for i, f := range stack {
				path[i] = g.nodes[f.node].ID
			}
			result.Paths = append(result.Paths, path)
			if len(result.Paths) >= options.MaxPaths {
				result.Truncated = true
				break
			}
			onPath[frame.node] = false
			stack = stack[:len(stack)-1]
			continue
		}

		// Depth bound: len(stack)-1 edges so far.
		atDepthLimit := len(stack)-1 >= options.MaxDepth
		if atDepthLimit && len(g.out[frame.node]) > 0 {
			// Branches were pruned below this node.
			result.Truncated = true
		}

		descended := false
		if !atDepthLimit {
			edges := g.out[frame.node]
			for frame.edgeIndex < len(edges) {
				target := g.edges[edges[frame.edgeIndex]].dst
				frame.edgeIndex++
				if onPath[target] {
					continue
				}
				onPath[target] = true
				stack = append(stack, allPathsFrame{node: target})
				descended = true
				break
			}
		}
		if descended {
			continue
		}

		// Backtrack.
		onPath[frame.node] = false
		stack = stack[:len(stack)-1]
	}

	sort.SliceStable(result.Paths, func(i, j int) bool {
		return len(result.Paths[i]) < len(result.Paths[j])
	})

	return result, nil
}
