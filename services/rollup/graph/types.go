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
	"fmt"
	"time"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of nodes a graph can hold.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxEdges is the default maximum number of edges a graph can hold.
	DefaultMaxEdges = 10_000_000
)

// GraphState represents the lifecycle state of the graph.
type GraphState int

const (
	// GraphStateBuilding indicates the graph is accepting AddNode/AddEdge calls.
	GraphStateBuilding GraphState = iota

	// GraphStateReadOnly indicates the graph is frozen and read-only.
	GraphStateReadOnly
)

// String returns the string representation of the GraphState.
func (s GraphState) String() string {
	switch s {
	case GraphStateBuilding:
		return "building"
	case GraphStateReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// Location is where a resource is declared in its repository.
type Location struct {
	// File is the repository-relative path of the declaring file.
	File string `json:"file"`

	// LineStart is the first line of the declaration (1-based).
	LineStart int `json:"lineStart"`

	// LineEnd is the last line of the declaration (1-based, inclusive).
	LineEnd int `json:"lineEnd"`
}

// Node represents one infrastructure resource in a scan graph.
//
// Identity is scoped to a single repository scan. Nodes are immutable once
// added to a graph; the graph stores the pointer and does NOT copy it, so
// callers MUST NOT mutate a node after AddNode().
type Node struct {
	// ID is the scan-scoped unique identifier.
	ID string `json:"id"`

	// Type is the resource kind (e.g. "aws_s3_bucket", "k8s_deployment").
	Type string `json:"type"`

	// Name is the declared resource name.
	Name string `json:"name"`

	// RepoID identifies the repository the node was scanned from.
	RepoID string `json:"repositoryId"`

	// ScanID identifies the scan that produced the node.
	ScanID string `json:"scanId"`

	// Metadata holds the extracted resource attributes used for matching
	// (ARNs, provider IDs, tags, arbitrary configuration keys).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Location is where the resource is declared.
	Location Location `json:"location"`
}

// Edge is the public view of a directed dependency between two nodes.
type Edge struct {
	// ID is the edge identifier, unique within one graph.
	ID string `json:"id"`

	// SourceID is the depending node.
	SourceID string `json:"sourceId"`

	// TargetID is the depended-upon node.
	TargetID string `json:"targetId"`

	// CrossRepo is true when the endpoints originate from different
	// source repositories. Only set on merged graphs.
	CrossRepo bool `json:"crossRepo,omitempty"`
}

// edgeRec is the arena-internal edge representation.
type edgeRec struct {
	id        string
	src       int32
	dst       int32
	crossRepo bool
}

// GraphOptions configures Graph behavior and limits.
type GraphOptions struct {
	// MaxNodes is the maximum number of nodes the graph can hold.
	// Default: 1,000,000
	MaxNodes int

	// MaxEdges is the maximum number of edges the graph can hold.
	// Default: 10,000,000
	MaxEdges int
}

// DefaultGraphOptions returns sensible defaults for graph configuration.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes: DefaultMaxNodes,
		MaxEdges: DefaultMaxEdges,
	}
}

// GraphOption is a functional option for configuring Graph.
type GraphOption func(*GraphOptions)

// WithMaxNodes sets the maximum number of nodes the graph can hold.
func WithMaxNodes(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxNodes = n
	}
}

// WithMaxEdges sets the maximum number of edges the graph can hold.
func WithMaxEdges(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxEdges = n
	}
}

// Graph is a directed dependency graph over an arena of nodes.
//
// Adjacency is stored as integer edge-index lists per node, so traversals
// never touch the string-keyed index map. The string ID map exists only to
// translate at the API boundary.
type Graph struct {
	// nodes is the arena. A node's arena index is stable for the lifetime
	// of the graph.
	nodes []*Node

	// index maps node ID to arena index.
	index map[string]int32

	// edges holds all edges in insertion order.
	edges []edgeRec

	// out[i] lists indices into edges for edges whose source is node i.
	out [][]int32

	// in[i] lists indices into edges for edges whose target is node i.
	in [][]int32

	// state is the current lifecycle state.
	state GraphState

	// options contains configuration.
	options GraphOptions

	// BuiltAtMilli is the Unix timestamp in milliseconds when Freeze() was
	// called. Zero if the graph has not been frozen.
	BuiltAtMilli int64
}

// NewGraph creates a new empty graph.
//
// Description:
//
//	Creates a graph in the Building state, ready to accept AddNode and
//	AddEdge calls. The graph must be frozen with Freeze() before running
//	algorithms over it.
//
// Example:
//
//	// Default options
//	g := NewGraph()
//
//	// Custom limits
//	g := NewGraph(WithMaxNodes(100_000), WithMaxEdges(1_000_000))
func NewGraph(opts ...GraphOption) *Graph {
	options := DefaultGraphOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Graph{
		nodes:   make([]*Node, 0),
		index:   make(map[string]int32),
		edges:   make([]edgeRec, 0),
		out:     make([][]int32, 0),
		in:      make([][]int32, 0),
		state:   GraphStateBuilding,
		options: options,
	}
}

// State returns the current lifecycle state of the graph.
func (g *Graph) State() GraphState {
	return g.state
}

// IsFrozen returns true if the graph is in read-only mode.
func (g *Graph) IsFrozen() bool {
	return g.state == GraphStateReadOnly
}

// Freeze transitions the graph to read-only mode.
//
// After calling Freeze(), AddNode and AddEdge return ErrGraphFrozen. This
// operation is irreversible. After Freeze() returns, the graph can be
// safely read from multiple goroutines.
func (g *Graph) Freeze() {
	g.state = GraphStateReadOnly
	g.BuiltAtMilli = time.Now().UnixMilli()
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// AddNode adds a resource node to the graph.
//
// Inputs:
//
//	node - The node to add. Must not be nil and must carry a non-empty ID.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrInvalidNode - Node is nil or has an empty ID
//	ErrDuplicateNode - Node with same ID already exists
//	ErrMaxNodesExceeded - Graph is at node capacity
//
// Ownership:
//
//	The graph stores the pointer but does NOT copy the node. The node
//	MUST NOT be mutated after this call.
func (g *Graph) AddNode(node *Node) error {
	if g.state == GraphStateReadOnly {
		return ErrGraphFrozen
	}

	if node == nil || node.ID == "" {
		return fmt.Errorf("%w: nil node or empty ID", ErrInvalidNode)
	}

	if len(g.nodes) >= g.options.MaxNodes {
		return ErrMaxNodesExceeded
	}

	if _, exists := g.index[node.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}

	idx := int32(len(g.nodes))
	g.nodes = append(g.nodes, node)
	g.index[node.ID] = idx
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)

	return nil
}

// GetNode retrieves a node by its ID. O(1).
func (g *Graph) GetNode(id string) (*Node, bool) {
	idx, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[idx], true
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.index[id]
	return ok
}

// AddEdge creates a directed edge between two existing nodes.
//
// Multiple edges between the same pair are allowed; self-loops are
// allowed and participate in cycle detection.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrNodeNotFound - Source or target node doesn't exist
//	ErrMaxEdgesExceeded - Graph is at edge capacity
func (g *Graph) AddEdge(id, sourceID, targetID string) error {
	if g.state == GraphStateReadOnly {
		return ErrGraphFrozen
	}

	if len(g.edges) >= g.options.MaxEdges {
		return ErrMaxEdgesExceeded
	}

	src, ok := g.index[sourceID]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrNodeNotFound, sourceID)
	}

	dst, ok := g.index[targetID]
	if !ok {
		return fmt.Errorf("%w: target %s", ErrNodeNotFound, targetID)
	}

	eIdx := int32(len(g.edges))
	g.edges = append(g.edges, edgeRec{id: id, src: src, dst: dst})
	g.out[src] = append(g.out[src], eIdx)
	g.in[dst] = append(g.in[dst], eIdx)

	return nil
}

// MarkCrossRepo flags an edge as crossing repository boundaries.
//
// Used by the merge engine after re-pointing edges at merged nodes.
// Returns false if no edge with the given ID exists.
func (g *Graph) MarkCrossRepo(edgeID string) bool {
	for i := range g.edges {
		if g.edges[i].id == edgeID {
			g.edges[i].crossRepo = true
			return true
		}
	}
	return false
}

// Nodes returns an iterator over all nodes in arena order.
//
// Example:
//
//	for _, node := range g.Nodes() {
//	    fmt.Println(node.ID)
//	}
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Edges returns the public view of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	result := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		result[i] = Edge{
			ID:        e.id,
			SourceID:  g.nodes[e.src].ID,
			TargetID:  g.nodes[e.dst].ID,
			CrossRepo: e.crossRepo,
		}
	}
	return result
}

// Successors returns the IDs of nodes directly depended on by the given node.
//
// Parallel edges are deduplicated. Returns an empty slice for unknown IDs.
func (g *Graph) Successors(id string) []string {
	idx, ok := g.index[id]
	if !ok {
		return []string{}
	}

	seen := make(map[int32]bool, len(g.out[idx]))
	result := make([]string, 0, len(g.out[idx]))
	for _, eIdx := range g.out[idx] {
		dst := g.edges[eIdx].dst
		if !seen[dst] {
			seen[dst] = true
			result = append(result, g.nodes[dst].ID)
		}
	}
	return result
}

// Predecessors returns the IDs of nodes that directly depend on the given node.
//
// Parallel edges are deduplicated. Returns an empty slice for unknown IDs.
func (g *Graph) Predecessors(id string) []string {
	idx, ok := g.index[id]
	if !ok {
		return []string{}
	}

	seen := make(map[int32]bool, len(g.in[idx]))
	result := make([]string, 0, len(g.in[idx]))
	for _, eIdx := range g.in[idx] {
		src := g.edges[eIdx].src
		if !seen[src] {
			seen[src] = true
			result = append(result, g.nodes[src].ID)
		}
	}
	return result
}

// GraphStats contains statistics about the graph.
type GraphStats struct {
	// NodeCount is the total number of nodes.
	NodeCount int

	// EdgeCount is the total number of edges.
	EdgeCount int

	// NodesByType maps resource type to the count of nodes of that type.
	NodesByType map[string]int

	// NodesByRepo maps repository ID to the count of nodes from that repo.
	NodesByRepo map[string]int

	// CrossRepoEdges is the number of edges flagged cross-repo.
	CrossRepoEdges int

	// State is the current graph state.
	State GraphState

	// BuiltAtMilli is when Freeze() was called (0 if not frozen).
	BuiltAtMilli int64
}

// Stats returns statistics about the graph.
//
// Complexity: O(V + E).
func (g *Graph) Stats() GraphStats {
	byType := make(map[string]int)
	byRepo := make(map[string]int)
	for _, n := range g.nodes {
		byType[n.Type]++
		if n.RepoID != "" {
			byRepo[n.RepoID]++
		}
	}

	crossRepo := 0
	for _, e := range g.edges {
		if e.crossRepo {
			crossRepo++
		}
	}

	return GraphStats{
		NodeCount:      len(g.nodes),
		EdgeCount:      len(g.edges),
		NodesByType:    byType,
		NodesByRepo:    byRepo,
		CrossRepoEdges: crossRepo,
		State:          g.state,
		BuiltAtMilli:   g.BuiltAtMilli,
	}
}
