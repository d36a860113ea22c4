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
	"testing"
)

// assertTopoOrder verifies every edge goes from earlier to later in the order.
func assertTopoOrder(t *testing.T, g *Graph, sorted []string) {
	t.Helper()

	position := make(map[string]int, len(sorted))
	for i, id := range sorted {
		position[id] = i
	}
	for _, e := range g.Edges() {
		srcPos, srcOK := position[e.SourceID]
		dstPos, dstOK := position[e.TargetID]
		if !srcOK || !dstOK {
			continue // cyclic nodes are omitted from the order
		}
		if srcPos >= dstPos {
			t.Errorf("edge %s -> %s violates topological order", e.SourceID, e.TargetID)
		}
	}
}

func TestTopologicalSort(t *testing.T) {
	ctx := context.Background()

	t.Run("simple dag", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b", "c", "d"},
			[][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})
		result, err := g.TopologicalSort(ctx)
		if err != nil {
			t.Fatalf("TopologicalSort: %v", err)
		}
		if result.HasCycle {
			t.Error("HasCycle = true for a DAG")
		}
		if len(result.Sorted) != 4 {
			t.Fatalf("Sorted = %v, want 4 nodes", result.Sorted)
		}
		assertTopoOrder(t, g, result.Sorted)
	})

	t.Run("cycle nodes omitted and reported", func(t *testing.T) {
		// a feeds a 3-cycle {b,c,d}; e hangs off the cycle.
		g := buildTestGraph(t, []string{"a", "b", "c", "d", "e"},
			[][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "b"}, {"d", "e"}})
		result, err := g.TopologicalSort(ctx)
		if err != nil {
			t.Fatalf("TopologicalSort: %v", err)
		}
		if !result.HasCycle {
			t.Fatal("HasCycle = false, want true")
		}
		wantCycle := []string{"b", "c", "d"}
		if len(result.CycleNodes) != len(wantCycle) {
			t.Fatalf("CycleNodes = %v, want %v", result.CycleNodes, wantCycle)
		}
		for i := range wantCycle {
			if result.CycleNodes[i] != wantCycle[i] {
				t.Errorf("CycleNodes = %v, want %v", result.CycleNodes, wantCycle)
				break
			}
		}
	})

	t.Run("self loop counts as cycle", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b"}, [][2]string{{"a", "a"}, {"a", "b"}})
		result, err := g.TopologicalSort(ctx)
		if err != nil {
			t.Fatalf("TopologicalSort: %v", err)
		}
		if !result.HasCycle {
			t.Error("HasCycle = false for self-loop")
		}
	})
}

func TestTopologicalSortDFS(t *testing.T) {
	ctx := context.Background()

	t.Run("valid order on dag", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b", "c", "d"},
			[][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})
		result, err := g.TopologicalSortDFS(ctx)
		if err != nil {
			t.Fatalf("TopologicalSortDFS: %v", err)
		}
		if result.HasCycle || len(result.Sorted) != 4 {
			t.Fatalf("result = %+v, want full acyclic order", result)
		}
		assertTopoOrder(t, g, result.Sorted)
	})

	t.Run("agrees with kahn on cycle verdict", func(t *testing.T) {
		cases := []struct {
			name  string
			nodes []string
			edges [][2]string
		}{
			{"dag", []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}}},
			{"three cycle", []string{"a", "b", "c", "d"},
				[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"c", "d"}}},
			{"self loop", []string{"a", "b"}, [][2]string{{"a", "a"}, {"a", "b"}}},
			{"two cycles", []string{"a", "b", "c", "d", "e"},
				[][2]string{{"a", "b"}, {"b", "a"}, {"c", "d"}, {"d", "c"}, {"d", "e"}}},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				g := buildTestGraph(t, tc.nodes, tc.edges)

				kahn, err := g.TopologicalSort(ctx)
				if err != nil {
					t.Fatalf("TopologicalSort: %v", err)
				}
				dfs, err := g.TopologicalSortDFS(ctx)
				if err != nil {
					t.Fatalf("TopologicalSortDFS: %v", err)
				}

				if kahn.HasCycle != dfs.HasCycle {
					t.Errorf("HasCycle: kahn = %v, dfs = %v", kahn.HasCycle, dfs.HasCycle)
				}
				if len(kahn.CycleNodes) != len(dfs.CycleNodes) {
					t.Fatalf("CycleNodes: kahn = %v, dfs = %v", kahn.CycleNodes, dfs.CycleNodes)
				}
				for i := range kahn.CycleNodes {
					if kahn.CycleNodes[i] != dfs.CycleNodes[i] {
						t.Errorf("CycleNodes: kahn = %v, dfs = %v", kahn.CycleNodes, dfs.CycleNodes)
						break
					}
				}
			})
		}
	})
}
