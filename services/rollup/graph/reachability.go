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
	"time"
)

// ReachOptions configures reachability queries.
type ReachOptions struct {
	// MaxDepth bounds the traversal in hops. Zero or negative means
	// unbounded.
	MaxDepth int
}

// ReachOption is a functional option for configuring reachability queries.
type ReachOption func(*ReachOptions)

// WithReachMaxDepth bounds the traversal depth in hops.
func WithReachMaxDepth(d int) ReachOption {
	return func(o *ReachOptions) {
		o.MaxDepth = d
	}
}

// FindReachableNodes returns every node reachable from the source by
// following edges forward, mapped to its hop distance.
//
// Description:
//
//	Iterative BFS over the forward adjacency. The source itself is not
//	included in the result. Optionally depth-bounded.
//
// Inputs:
//
//	ctx - Context for cancellation
//	fromID - Source node ID
//	opts - WithReachMaxDepth to bound the traversal
//
// Outputs:
//
//	map[string]int - Reachable node ID -> hop distance (>= 1)
//	error - Non-nil if the source is unknown or the context is cancelled
//
// Thread Safety: Safe for concurrent use on frozen graphs.
//
// Complexity: O(V + E).
func (g *Graph) FindReachableNodes(ctx context.Context, fromID string, opts ...ReachOption) (map[string]int, error) {
	src, ok := g.index[fromID]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, fromID)
	}
	return g.bfsDistances(ctx, src, false, applyReachOptions(opts))
}

// FindNodesThatReach returns every node that can reach the target by
// following edges forward, mapped to its hop distance to the target.
//
// Description:
//
//	Iterative BFS over the reverse adjacency. The target itself is not
//	included in the result. Optionally depth-bounded.
//
// Inputs:
//
//	ctx - Context for cancellation
//	toID - Target node ID
//	opts - WithReachMaxDepth to bound the traversal
//
// Outputs:
//
//	map[string]int - Reaching node ID -> hop distance (>= 1)
//	error - Non-nil if the target is unknown or the context is cancelled
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *Graph) FindNodesThatReach(ctx context.Context, toID string, opts ...ReachOption) (map[string]int, error) {
	dst, ok := g.index[toID]
	if !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, toID)
	}
	return g.bfsDistances(ctx, dst, true, applyReachOptions(opts))
}

func applyReachOptions(opts []ReachOption) ReachOptions {
	var options ReachOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// bfsDistances runs a BFS from root and returns hop distances.
// reverse selects the reverse adjacency (who reaches root).
func (g *Graph) bfsDistances(ctx context.Context, root int32, reverse bool, options ReachOptions) (map[string]int, error) {
	start := time.Now()
	distances := make(map[string]int)

	type queueItem struct {
		node  int32
		depth int
	}

	visited := make([]bool, len(g.nodes))
	visited[root] = true
	queue := []queueItem{{node: root}}
	iterations := 0

	for len(queue) > 0 {
		iterations++
		if iterations%sccContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return distances, err
			}
		}

		item := queue[0]
		queue = queue[1:]

		if options.MaxDepth > 0 && item.depth >= options.MaxDepth {
			continue
		}

		var adjacent []int32
		if reverse {
			adjacent = g.in[item.node]
		} else {
			adjacent = g.out[item.node]
		}

		for _, eIdx := range adjacent {
			var next int32
			if reverse {
				next = g.edges[eIdx].src
			} else {
				next = g.edges[eIdx].dst
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			distances[g.nodes[next].ID] = item.depth + 1
			queue = append(queue, queueItem{node: next, depth: item.depth + 1})
		}
	}

	queryType := "reachable"
	if reverse {
		queryType = "reaching"
	}
	recordQueryMetrics(ctx, queryType, time.Since(start), len(distances))

	return distances, nil
}
