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
	"errors"
	"fmt"
	"testing"
)

// buildTestGraph constructs a frozen graph from node IDs and edges.
// Edge IDs are generated as "e0", "e1", ... in the given order.
func buildTestGraph(t *testing.T, nodeIDs []string, edges [][2]string) *Graph {
	t.Helper()

	g := NewGraph()
	for _, id := range nodeIDs {
		if err := g.AddNode(&Node{ID: id, Type: "aws_s3_bucket", Name: id}); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	for i, e := range edges {
		if err := g.AddEdge(fmt.Sprintf("e%d", i), e[0], e[1]); err != nil {
			t.Fatalf("AddEdge(%s -> %s): %v", e[0], e[1], err)
		}
	}
	g.Freeze()
	return g
}

func TestGraphLifecycle(t *testing.T) {
	t.Run("new graph starts in building state", func(t *testing.T) {
		g := NewGraph()
		if g.State() != GraphStateBuilding {
			t.Errorf("State() = %v, want building", g.State())
		}
		if g.IsFrozen() {
			t.Error("IsFrozen() = true for new graph")
		}
	})

	t.Run("freeze transitions to readonly", func(t *testing.T) {
		g := NewGraph()
		g.Freeze()
		if !g.IsFrozen() {
			t.Error("IsFrozen() = false after Freeze()")
		}
		if g.BuiltAtMilli == 0 {
			t.Error("BuiltAtMilli not set after Freeze()")
		}
	})

	t.Run("mutations rejected after freeze", func(t *testing.T) {
		g := NewGraph()
		if err := g.AddNode(&Node{ID: "a"}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		g.Freeze()

		if err := g.AddNode(&Node{ID: "b"}); !errors.Is(err, ErrGraphFrozen) {
			t.Errorf("AddNode after freeze: err = %v, want ErrGraphFrozen", err)
		}
		if err := g.AddEdge("e0", "a", "a"); !errors.Is(err, ErrGraphFrozen) {
			t.Errorf("AddEdge after freeze: err = %v, want ErrGraphFrozen", err)
		}
	})

	t.Run("state string", func(t *testing.T) {
		if got := GraphStateBuilding.String(); got != "building" {
			t.Errorf("String() = %q, want building", got)
		}
		if got := GraphStateReadOnly.String(); got != "readonly" {
			t.Errorf("String() = %q, want readonly", got)
		}
	})
}

func TestAddNode(t *testing.T) {
	t.Run("rejects nil node", func(t *testing.T) {
		g := NewGraph()
		if err := g.AddNode(nil); !errors.Is(err, ErrInvalidNode) {
			t.Errorf("err = %v, want ErrInvalidNode", err)
		}
	})

	t.Run("rejects empty ID", func(t *testing.T) {
		g := NewGraph()
		if err := g.AddNode(&Node{}); !errors.Is(err, ErrInvalidNode) {
			t.Errorf("err = %v, want ErrInvalidNode", err)
		}
	})

	t.Run("rejects duplicate ID", func(t *testing.T) {
		g := NewGraph()
		if err := g.AddNode(&Node{ID: "a"}); err != nil {
			t.Fatalf("first AddNode: %v", err)
		}
		if err := g.AddNode(&Node{ID: "a"}); !errors.Is(err, ErrDuplicateNode) {
			t.Errorf("err = %v, want ErrDuplicateNode", err)
		}
	})

	t.Run("enforces max nodes", func(t *testing.T) {
		g := NewGraph(WithMaxNodes(1))
		if err := g.AddNode(&Node{ID: "a"}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		if err := g.AddNode(&Node{ID: "b"}); !errors.Is(err, ErrMaxNodesExceeded) {
			t.Errorf("err = %v, want ErrMaxNodesExceeded", err)
		}
	})

	t.Run("lookup after add", func(t *testing.T) {
		g := NewGraph()
		want := &Node{ID: "a", Type: "aws_vpc", Name: "main"}
		if err := g.AddNode(want); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		got, ok := g.GetNode("a")
		if !ok || got != want {
			t.Errorf("GetNode(a) = %v, %v; want original pointer", got, ok)
		}
		if !g.HasNode("a") || g.HasNode("missing") {
			t.Error("HasNode membership mismatch")
		}
	})
}

func TestAddEdge(t *testing.T) {
	t.Run("rejects unknown endpoints", func(t *testing.T) {
		g := NewGraph()
		if err := g.AddNode(&Node{ID: "a"}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		if err := g.AddEdge("e0", "a", "missing"); !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("unknown target: err = %v, want ErrNodeNotFound", err)
		}
		if err := g.AddEdge("e0", "missing", "a"); !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("unknown source: err = %v, want ErrNodeNotFound", err)
		}
	})

	t.Run("enforces max edges", func(t *testing.T) {
		g := NewGraph(WithMaxEdges(1))
		if err := g.AddNode(&Node{ID: "a"}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		if err := g.AddEdge("e0", "a", "a"); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
		if err := g.AddEdge("e1", "a", "a"); !errors.Is(err, ErrMaxEdgesExceeded) {
			t.Errorf("err = %v, want ErrMaxEdgesExceeded", err)
		}
	})

	t.Run("parallel edges allowed and deduplicated in adjacency", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}, {"a", "b"}})
		if g.EdgeCount() != 2 {
			t.Errorf("EdgeCount() = %d, want 2", g.EdgeCount())
		}
		if succ := g.Successors("a"); len(succ) != 1 || succ[0] != "b" {
			t.Errorf("Successors(a) = %v, want [b]", succ)
		}
		if pred := g.Predecessors("b"); len(pred) != 1 || pred[0] != "a" {
			t.Errorf("Predecessors(b) = %v, want [a]", pred)
		}
	})
}

func TestMarkCrossRepo(t *testing.T) {
	g := buildTestGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}})

	if !g.MarkCrossRepo("e0") {
		t.Fatal("MarkCrossRepo(e0) = false, want true")
	}
	if g.MarkCrossRepo("missing") {
		t.Error("MarkCrossRepo(missing) = true, want false")
	}

	edges := g.Edges()
	if len(edges) != 1 || !edges[0].CrossRepo {
		t.Errorf("Edges() = %+v, want one cross-repo edge", edges)
	}
}

func TestStats(t *testing.T) {
	g := NewGraph()
	nodes := []*Node{
		{ID: "a", Type: "aws_s3_bucket", RepoID: "repo-1"},
		{ID: "b", Type: "aws_s3_bucket", RepoID: "repo-1"},
		{ID: "c", Type: "aws_iam_role", RepoID: "repo-2"},
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	if err := g.AddEdge("e0", "a", "c"); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	g.MarkCrossRepo("e0")
	g.Freeze()

	stats := g.Stats()
	if stats.NodeCount != 3 || stats.EdgeCount != 1 {
		t.Errorf("counts = %d nodes, %d edges; want 3, 1", stats.NodeCount, stats.EdgeCount)
	}
	if stats.NodesByType["aws_s3_bucket"] != 2 || stats.NodesByType["aws_iam_role"] != 1 {
		t.Errorf("NodesByType = %v", stats.NodesByType)
	}
	if stats.NodesByRepo["repo-1"] != 2 || stats.NodesByRepo["repo-2"] != 1 {
		t.Errorf("NodesByRepo = %v", stats.NodesByRepo)
	}
	if stats.CrossRepoEdges != 1 {
		t.Errorf("CrossRepoEdges = %d, want 1", stats.CrossRepoEdges)
	}
}

func TestDegrees(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		g := buildTestGraph(t, nil, nil)
		m := g.Degrees()
		if m.AverageDegree != 0 || m.Density != 0 {
			t.Errorf("empty graph metrics = %+v, want zeros", m)
		}
	})

	t.Run("triangle", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b", "c"},
			[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})
		m := g.Degrees()

		for _, id := range []string{"a", "b", "c"} {
			if m.InDegree[id] != 1 || m.OutDegree[id] != 1 {
				t.Errorf("degree(%s) = in %d out %d, want 1/1", id, m.InDegree[id], m.OutDegree[id])
			}
		}
		if m.AverageDegree != 2.0 {
			t.Errorf("AverageDegree = %v, want 2.0", m.AverageDegree)
		}
		// 3 edges of 6 possible directed pairs.
		if m.Density != 0.5 {
			t.Errorf("Density = %v, want 0.5", m.Density)
		}
	})
}
