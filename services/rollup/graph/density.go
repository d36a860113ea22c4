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

// DegreeMetrics contains degree and density statistics for the graph.
type DegreeMetrics struct {
	// InDegree maps node ID to its incoming edge count.
	InDegree map[string]int `json:"inDegree"`

	// OutDegree maps node ID to its outgoing edge count.
	OutDegree map[string]int `json:"outDegree"`

	// AverageDegree is the mean total degree (in + out) per node.
	AverageDegree float64 `json:"averageDegree"`

	// Density is |E| / (|V| * (|V|-1)) for a directed graph.
	// Zero for graphs with fewer than two nodes.
	Density float64 `json:"density"`
}

// Degrees computes per-node degree counts and global density.
//
// Parallel edges and self-loops count toward degrees as-is.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
//
// Complexity: O(V + E).
func (g *Graph) Degrees() *DegreeMetrics {
	n := len(g.nodes)
	m := &DegreeMetrics{
		InDegree:  make(map[string]int, n),
		OutDegree: make(map[string]int, n),
	}

	for i, node := range g.nodes {
		m.InDegree[node.ID] = len(g.in[i])
		m.OutDegree[node.ID] = len(g.out[i])
	}

	if n > 0 {
		m.AverageDegree = float64(2*len(g.edges)) / float64(n)
	}
	if n > 1 {
		m.Density = float64(len(g.edges)) / float64(n*(n-1))
	}

	return m
}
