// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merge implements the cross-repository merge engine.
//
// The engine consumes per-repository scan graphs plus a set of matching
// strategies, clusters nodes that represent the same real-world resource,
// and emits a single merged graph with canonical MergedNodes, re-pointed
// deduplicated edges, cross-repo edge tagging, and merge statistics.
//
// Merging is deterministic: identical inputs produce identical cluster
// membership and statistics regardless of the concurrency used during
// pairwise matching.
package merge

import (
	"errors"
	"time"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
	"github.com/AleutianAI/iac-rollup/services/rollup/match"
)

// Sentinel errors for merge input handling.
var (
	// ErrInvalidInput indicates the merge input failed validation.
	ErrInvalidInput = errors.New("invalid merge input")

	// ErrNoGraphs indicates no repository graphs were supplied.
	ErrNoGraphs = errors.New("no repository graphs to merge")
)

// Conflict resolution policies.
const (
	// ConflictReject rejects unions that would join two established
	// clusters on weaker evidence. Rejections are counted.
	ConflictReject = "reject"

	// ConflictMerge forces such unions through and counts them resolved.
	ConflictMerge = "merge"
)

// DefaultMaxConcurrentPairs bounds concurrent repository-pair matching.
const DefaultMaxConcurrentPairs = 4

// RepoGraph is one repository's scan graph.
type RepoGraph struct {
	// RepoID identifies the repository.
	RepoID string `json:"repositoryId"`

	// ScanID identifies the scan that produced the graph.
	ScanID string `json:"scanId"`

	// Graph is the frozen dependency graph for the scan.
	Graph *graph.Graph `json:"-"`
}

// Options configures one merge execution.
type Options struct {
	// ConflictPolicy is ConflictReject (default) or ConflictMerge.
	ConflictPolicy string `yaml:"conflictPolicy" json:"conflictPolicy" validate:"omitempty,oneof=reject merge"`

	// IncludeNodeTypes, when non-empty, restricts matching to these
	// resource types.
	IncludeNodeTypes []string `yaml:"includeNodeTypes,omitempty" json:"includeNodeTypes,omitempty"`

	// ExcludeNodeTypes removes resource types from matching.
	ExcludeNodeTypes []string `yaml:"excludeNodeTypes,omitempty" json:"excludeNodeTypes,omitempty"`

	// PreserveEdgeTypes, when non-empty, keeps a cross-repo edge in the
	// merged edge set only if either endpoint's resource type is listed.
	// Empty preserves all cross-repo edges.
	PreserveEdgeTypes []string `yaml:"preserveEdgeTypes,omitempty" json:"preserveEdgeTypes,omitempty"`

	// MaxConcurrentPairs bounds concurrent repository-pair matching.
	// Zero means DefaultMaxConcurrentPairs.
	MaxConcurrentPairs int `yaml:"maxConcurrentPairs" json:"maxConcurrentPairs" validate:"gte=0"`
}

// Input is everything one merge execution consumes.
type Input struct {
	// Graphs are the per-repository scan graphs.
	Graphs []RepoGraph

	// Strategies are the enabled matching strategies, in priority order.
	Strategies []match.Strategy

	// Options tunes clustering and edge handling.
	Options Options
}

// MergedNode is the canonical cross-repository representative of one
// cluster of matched source nodes.
//
// MergedNodes are immutable once emitted; a rollup re-execution supersedes
// them instead of mutating them.
type MergedNode struct {
	// ID is the generated canonical identifier.
	ID string `json:"id"`

	// CanonicalName comes from the highest-confidence source node.
	CanonicalName string `json:"canonicalName"`

	// NodeType is the shared resource type of the cluster.
	NodeType string `json:"nodeType"`

	// SourceNodeIDs is the cluster membership, sorted for determinism.
	SourceNodeIDs []string `json:"sourceNodeIds"`

	// SourceRepoIDs lists the distinct owning repositories, sorted.
	SourceRepoIDs []string `json:"sourceRepoIds"`

	// Locations concatenates all source declaration sites.
	Locations []graph.Location `json:"locations"`

	// MatchStrategy is the strategy behind the cluster's strongest match.
	MatchStrategy string `json:"matchStrategy"`

	// MatchConfidence is the minimum pairwise confidence across the
	// cluster's accepted matches. Conservative on purpose.
	MatchConfidence int `json:"matchConfidence"`

	// MatchCount is the number of accepted match results in the cluster.
	MatchCount int `json:"matchCount"`

	// SourceCount equals len(SourceNodeIDs).
	SourceCount int `json:"sourceCount"`

	// Metadata is the shallow merge of source metadata, higher-confidence
	// sources winning key conflicts.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt / UpdatedAt are set at synthesis time.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stats summarizes one merge execution.
type Stats struct {
	NodesBeforeMerge  int `json:"nodesBeforeMerge"`
	NodesAfterMerge   int `json:"nodesAfterMerge"`
	EdgesBeforeMerge  int `json:"edgesBeforeMerge"`
	EdgesAfterMerge   int `json:"edgesAfterMerge"`
	CrossRepoEdges    int `json:"crossRepoEdges"`
	Conflicts         int `json:"conflicts"`
	ConflictsResolved int `json:"conflictsResolved"`
}

// Output is the full result of one merge execution.
type Output struct {
	// MergedNodes are the synthesized canonical nodes (clusters of
	// size >= 2), sorted by canonical name then ID.
	MergedNodes []MergedNode `json:"mergedNodes"`

	// UnmatchedNodes are source nodes that joined no cluster. Never
	// silently dropped.
	UnmatchedNodes []*graph.Node `json:"unmatchedNodes"`

	// Edges is the merged, deduplicated edge set.
	Edges []graph.Edge `json:"edges"`

	// Graph is the merged graph, frozen and ready for analysis. Node IDs
	// are MergedNode IDs for clustered nodes and original IDs otherwise.
	Graph *graph.Graph `json:"-"`

	// NodeOwner maps every source node ID to the merged-graph node ID
	// that now represents it.
	NodeOwner map[string]string `json:"-"`

	// NodeRepos maps every merged-graph node ID to its sorted source
	// repository IDs. The blast-radius engine uses this for cross-repo
	// classification.
	NodeRepos map[string][]string `json:"-"`

	// Stats summarizes the execution.
	Stats Stats `json:"stats"`
}
