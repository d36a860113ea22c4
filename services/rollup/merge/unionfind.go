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

// unionFind is a disjoint-set forest over dense integer node indices with
// path compression and union by size.
//
// The merge engine assigns every source node an index up front, so the
// structure never grows after construction.
type unionFind struct {
	parent []int32
	size   []int32
}

// newUnionFind creates n singleton sets.
func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int32, n),
		size:   make([]int32, n),
	}
	for i := range uf.parent {
		uf.parent[i] = int32(i)
		uf.size[i] = 1
	}
	return uf
}

// find returns the root of x's set, compressing the path as it goes.
func (uf *unionFind) find(x int32) int32 {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		uf.parent[x], x = root, uf.parent[x]
	}
	return root
}

// union joins the sets containing a and b. Returns the surviving root and
// whether a join actually happened (false when already in one set).
func (uf *unionFind) union(a, b int32) (int32, bool) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return ra, false
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	return ra, true
}

// setSize returns the size of x's set.
func (uf *unionFind) setSize(x int32) int32 {
	return uf.size[uf.find(x)]
}
