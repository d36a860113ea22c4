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
	"errors"
	"reflect"
	"strconv"
	"testing"
)

func TestBFSShortestPath(t *testing.T) {
	ctx := context.Background()

	t.Run("direct edge beats longer route", func(t *testing.T) {
		// a -> b -> c and a -> c directly; shortest is length 1.
		g := buildTestGraph(t, []string{"a", "b", "c"},
			[][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}})
		result, err := g.BFSShortestPath(ctx, "a", "c")
		if err != nil {
			t.Fatalf("BFSShortestPath: %v", err)
		}
		if result.Length != 1 {
			t.Errorf("Length = %d, want 1", result.Length)
		}
		if !reflect.DeepEqual(result.Path, []string{"a", "c"}) {
			t.Errorf("Path = %v, want [a c]", result.Path)
		}
		if !reflect.DeepEqual(result.Edges, []string{"e2"}) {
			t.Errorf("Edges = %v, want [e2]", result.Edges)
		}
		if !result.Found() {
			t.Error("Found() = false")
		}
	})

	t.Run("source equals target is a zero length path", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a"}, nil)
		result, err := g.BFSShortestPath(ctx, "a", "a")
		if err != nil {
			t.Fatalf("BFSShortestPath: %v", err)
		}
		if result.Length != 0 || !result.Found() {
			t.Errorf("Length = %d, Found = %v; want 0, true", result.Length, result.Found())
		}
		if !reflect.DeepEqual(result.Path, []string{"a"}) {
			t.Errorf("Path = %v, want [a]", result.Path)
		}
		if len(result.Edges) != 0 {
			t.Errorf("Edges = %v, want empty", result.Edges)
		}
	})

	t.Run("no path is length minus one", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b"}, nil)
		result, err := g.BFSShortestPath(ctx, "a", "b")
		if err != nil {
			t.Fatalf("BFSShortestPath: %v", err)
		}
		if result.Length != -1 || result.Found() {
			t.Errorf("Length = %d, Found = %v; want -1, false", result.Length, result.Found())
		}
		if len(result.Path) != 0 {
			t.Errorf("Path = %v, want empty", result.Path)
		}
	})

	t.Run("edges are directed", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}})
		result, err := g.BFSShortestPath(ctx, "b", "a")
		if err != nil {
			t.Fatalf("BFSShortestPath: %v", err)
		}
		if result.Found() {
			t.Errorf("found reverse path %v over a directed edge", result.Path)
		}
	})

	t.Run("unknown endpoints are errors", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a"}, nil)
		if _, err := g.BFSShortestPath(ctx, "missing", "a"); !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("unknown source: err = %v, want ErrNodeNotFound", err)
		}
		if _, err := g.BFSShortestPath(ctx, "a", "missing"); !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("unknown target: err = %v, want ErrNodeNotFound", err)
		}
	})

	t.Run("cancellation returns context error, not a no-path result", func(t *testing.T) {
		// Big enough to cross the context check interval. A path exists
		// (n0 reaches the chain's end), so a Length == -1 answer under
		// cancellation would be wrong, not just early.
		nodeIDs := make([]string, 3000)
		edges := make([][2]string, 0, 2999)
		for i := range nodeIDs {
			nodeIDs[i] = "n" + strconv.Itoa(i)
		}
		for i := 0; i < len(nodeIDs)-1; i++ {
			edges = append(edges, [2]string{nodeIDs[i], nodeIDs[i+1]})
		}
		g := buildTestGraph(t, nodeIDs, edges)

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		result, err := g.BFSShortestPath(cancelled, nodeIDs[0], nodeIDs[len(nodeIDs)-1])
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if result != nil {
			t.Errorf("result = %+v, want nil under cancellation", result)
		}
	})
}

func TestFindAllPaths(t *testing.T) {
	ctx := context.Background()

	// Diamond with a long tail: three a->d paths of lengths 1, 2, 3.
	diamond := func(t *testing.T) *Graph {
		return buildTestGraph(t, []string{"a", "b", "c", "d"},
			[][2]string{{"a", "d"}, {"a", "b"}, {"b", "d"}, {"b", "c"}, {"c", "d"}})
	}

	t.Run("finds all simple paths sorted by length", func(t *testing.T) {
		g := diamond(t)
		result, err := g.FindAllPaths(ctx, "a", "d")
		if err != nil {
			t.Fatalf("FindAllPaths: %v", err)
		}
		if result.Truncated {
			t.Error("Truncated = true within bounds")
		}
		want := [][]string{
			{"a", "d"},
			{"a", "b", "d"},
			{"a", "b", "c", "d"},
		}
		if !reflect.DeepEqual(result.Paths, want) {
			t.Errorf("Paths = %v, want %v", result.Paths, want)
		}
	})

	t.Run("max paths truncates", func(t *testing.T) {
		g := diamond(t)
		result, err := g.FindAllPaths(ctx, "a", "d", WithMaxPaths(2))
		if err != nil {
			t.Fatalf("FindAllPaths: %v", err)
		}
		if len(result.Paths) != 2 {
			t.Errorf("got %d paths, want 2", len(result.Paths))
		}
		if !result.Truncated {
			t.Error("Truncated = false after hitting MaxPaths")
		}
	})

	t.Run("max depth prunes and truncates", func(t *testing.T) {
		g := diamond(t)
		result, err := g.FindAllPaths(ctx, "a", "d", WithPathMaxDepth(2))
		if err != nil {
			t.Fatalf("FindAllPaths: %v", err)
		}
		for _, p := range result.Paths {
			if len(p)-1 > 2 {
				t.Errorf("path %v exceeds depth bound", p)
			}
		}
		if !result.Truncated {
			t.Error("Truncated = false although the length-3 path was pruned")
		}
	})

	t.Run("cycle does not loop forever", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b", "c"},
			[][2]string{{"a", "b"}, {"b", "a"}, {"b", "c"}})
		result, err := g.FindAllPaths(ctx, "a", "c")
		if err != nil {
			t.Fatalf("FindAllPaths: %v", err)
		}
		want := [][]string{{"a", "b", "c"}}
		if !reflect.DeepEqual(result.Paths, want) {
			t.Errorf("Paths = %v, want %v", result.Paths, want)
		}
	})

	t.Run("no path yields empty result", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a", "b"}, nil)
		result, err := g.FindAllPaths(ctx, "a", "b")
		if err != nil {
			t.Fatalf("FindAllPaths: %v", err)
		}
		if len(result.Paths) != 0 || result.Truncated {
			t.Errorf("result = %+v, want empty untruncated", result)
		}
	})

	t.Run("unknown endpoints are errors", func(t *testing.T) {
		g := buildTestGraph(t, []string{"a"}, nil)
		if _, err := g.FindAllPaths(ctx, "a", "missing"); !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("err = %v, want ErrNodeNotFound", err)
		}
	})
}
