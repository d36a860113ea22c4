// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the in-memory dependency graph model and the
// algorithms that run over it.
//
// Nodes represent infrastructure resources discovered by repository scans
// (Terraform resources, Kubernetes objects, Helm releases) and edges
// represent dependencies between them. The same types serve both a single
// repository's scan graph and the merged cross-repository graph.
//
// # Representation
//
// Internally the graph is an arena: nodes live in a flat slice and
// adjacency is stored as lists of integer indices, which keeps traversal
// cache-friendly on large merged graphs. String node IDs exist only at the
// API boundary.
//
// # Thread Safety
//
// Graph is NOT safe for concurrent use during building. It is designed
// for single-writer access during build, then read-only after Freeze().
// All query and algorithm methods are safe for concurrent use on a frozen
// graph.
//
// # Lifecycle
//
//  1. Create with NewGraph()
//  2. Build with AddNode() and AddEdge() calls
//  3. Call Freeze() to finalize
//  4. Query with GetNode(), TarjanSCC(), BFSShortestPath(), etc.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen graph.
	// Once Freeze() is called, the graph becomes read-only and no further
	// nodes or edges can be added.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an edge references a non-existent node.
	// Both source and target nodes must exist before an edge can be created.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node with an ID that
	// already exists in the graph.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the graph has reached its
	// configured maximum edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrInvalidNode is returned when attempting to add a nil node or a
	// node with an empty ID.
	ErrInvalidNode = errors.New("invalid node")
)
