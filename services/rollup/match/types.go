// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package match implements the cross-repository node matching strategies.
//
// Each strategy projects resource nodes into comparable MatchCandidates and
// compares candidate pairs, producing a MatchResult with an integer
// confidence in [0, 100] or nil when the pair cannot represent the same
// real-world resource. Strategies are pure: they hold configuration but no
// mutable state, so one instance is safe for concurrent use.
package match

import (
	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
)

// Strategy identifiers.
const (
	StrategyARN        = "arn"
	StrategyResourceID = "resource_id"
	StrategyName       = "name"
	StrategyTag        = "tag"
)

// staticPriority is the built-in tie-break order between strategies.
// Higher wins. Applied when two strategies report equal confidence for the
// same node pair, before any configured priority.
var staticPriority = map[string]int{
	StrategyARN:        4,
	StrategyResourceID: 3,
	StrategyName:       2,
	StrategyTag:        1,
}

// StaticPriority returns the built-in tie-break rank of a strategy.
// Unknown strategies rank lowest.
func StaticPriority(strategy string) int {
	return staticPriority[strategy]
}

// MatchCandidate is one strategy's projection of a node for comparison.
type MatchCandidate struct {
	// Node is the source resource node.
	Node *graph.Node `json:"node"`

	// RepoID identifies the repository the node was scanned from.
	RepoID string `json:"repositoryId"`

	// ScanID identifies the scan that produced the node.
	ScanID string `json:"scanId"`

	// MatchKey is the normalized comparison key extracted by the strategy.
	MatchKey string `json:"matchKey"`

	// Attributes holds strategy-specific extracted values (parsed ARN
	// parts, tag maps, normalized IDs).
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MatchDetails explains why a match was produced.
type MatchDetails struct {
	// MatchedAttribute names the attribute the strategy compared.
	MatchedAttribute string `json:"matchedAttribute"`

	// SourceValue is the raw value on the source side.
	SourceValue string `json:"sourceValue"`

	// TargetValue is the raw value on the target side.
	TargetValue string `json:"targetValue"`

	// Context holds extra strategy-specific detail (similarity score,
	// matched tag keys).
	Context map[string]string `json:"context,omitempty"`
}

// MatchResult is one strategy's verdict that two nodes represent the same
// real-world resource.
type MatchResult struct {
	// Strategy is the identifier of the producing strategy.
	Strategy string `json:"strategy"`

	// Confidence is an integer in [0, 100]. Strategies never emit
	// low-confidence "maybe" results below their floor; a pair that cannot
	// match yields no result at all.
	Confidence int `json:"confidence"`

	// SourceNodeID / TargetNodeID identify the compared nodes.
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`

	// SourceRepoID / TargetRepoID identify the owning repositories.
	SourceRepoID string `json:"sourceRepoId"`
	TargetRepoID string `json:"targetRepoId"`

	// Details explains the match.
	Details MatchDetails `json:"details"`
}

// Strategy is the contract every matching strategy implements.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string

	// ExtractCandidates projects a node into zero or more comparable
	// candidates. A node the strategy cannot key yields none.
	ExtractCandidates(node *graph.Node, repoID, scanID string) []MatchCandidate

	// Compare evaluates two candidates. Returns nil when the pair does not
	// match; a non-match is never a low-confidence result.
	Compare(a, b *MatchCandidate) *MatchResult

	// IsEnabled reports whether the strategy participates in matching.
	IsEnabled() bool

	// Priority is the configured tie-break rank. Higher wins after
	// confidence and static strategy order.
	Priority() int

	// MinConfidence is the floor below which results are discarded by the
	// merge engine.
	MinConfidence() int
}

// newResult assembles a MatchResult from two candidates.
func newResult(strategy string, confidence int, a, b *MatchCandidate, details MatchDetails) *MatchResult {
	return &MatchResult{
		Strategy:     strategy,
		Confidence:   confidence,
		SourceNodeID: a.Node.ID,
		TargetNodeID: b.Node.ID,
		SourceRepoID: a.RepoID,
		TargetRepoID: b.RepoID,
		Details:      details,
	}
}

// metadataString fetches a string-valued metadata key from a node.
func metadataString(node *graph.Node, key string) (string, bool) {
	if node == nil || node.Metadata == nil {
		return "", false
	}
	v, ok := node.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// metadataTags fetches the tag map from a node. Accepts both
// map[string]string and map[string]any metadata shapes; non-string values
// are skipped.
func metadataTags(node *graph.Node) map[string]string {
	if node == nil || node.Metadata == nil {
		return nil
	}
	raw, ok := node.Metadata["tags"]
	if !ok {
		return nil
	}

	switch m := raw.(type) {
	case map[string]string:
		return m
	case map[string]any:
		tags := make(map[string]string, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				tags[k] = s
			}
		}
		return tags
	default:
		return nil
	}
}
