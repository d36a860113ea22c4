// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package match

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
)

// NameStrategy matches nodes by declared resource name, exactly or fuzzily.
type NameStrategy struct {
	cfg       Config
	threshold int
}

// NewNameStrategy creates a name matching strategy.
func NewNameStrategy(cfg Config) *NameStrategy {
	threshold := cfg.FuzzyThreshold
	if threshold == 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &NameStrategy{cfg: cfg, threshold: threshold}
}

// Name returns the strategy identifier.
func (s *NameStrategy) Name() string { return StrategyName }

// IsEnabled reports whether the strategy participates in matching.
func (s *NameStrategy) IsEnabled() bool { return s.cfg.enabled() }

// Priority returns the configured tie-break rank.
func (s *NameStrategy) Priority() int { return s.cfg.Priority }

// MinConfidence returns the result floor.
func (s *NameStrategy) MinConfidence() int { return s.cfg.minConfidence() }

// normalize trims whitespace and optionally folds case.
func (s *NameStrategy) normalize(name string) string {
	name = strings.TrimSpace(name)
	if !s.cfg.CaseSensitive {
		name = strings.ToLower(name)
	}
	return name
}

// ExtractCandidates projects a node into a name candidate. Nodes without a
// name yield none; empty names never match anything.
func (s *NameStrategy) ExtractCandidates(node *graph.Node, repoID, scanID string) []MatchCandidate {
	if node == nil {
		return nil
	}
	key := s.normalize(node.Name)
	if key == "" {
		return nil
	}
	return []MatchCandidate{{
		Node:     node,
		RepoID:   repoID,
		ScanID:   scanID,
		MatchKey: key,
		Attributes: map[string]string{
			"name": node.Name,
		},
	}}
}

// Compare matches two name candidates.
//
// Exact normalized equality yields confidence 100. Otherwise the
// Levenshtein similarity percentage is compared against the configured
// threshold (default 80); at or above it, the similarity itself becomes
// the confidence (a 90% similar pair scores 90). Below the threshold, and
// always for nodes of different resource types, there is no match.
func (s *NameStrategy) Compare(a, b *MatchCandidate) *MatchResult {
	if a == nil || b == nil || a.MatchKey == "" || b.MatchKey == "" {
		return nil
	}
	// Fuzzy naming across types (an S3 bucket named like a VPC) is noise.
	if a.Node.Type != "" && b.Node.Type != "" && a.Node.Type != b.Node.Type {
		return nil
	}

	if a.MatchKey == b.MatchKey {
		return newResult(StrategyName, 100, a, b, MatchDetails{
			MatchedAttribute: "name",
			SourceValue:      a.Attributes["name"],
			TargetValue:      b.Attributes["name"],
			Context:          map[string]string{"matchType": "exact"},
		})
	}

	similarity := similarityPercent(a.MatchKey, b.MatchKey)
	if similarity < s.threshold {
		return nil
	}

	return newResult(StrategyName, similarity, a, b, MatchDetails{
		MatchedAttribute: "name",
		SourceValue:      a.Attributes["name"],
		TargetValue:      b.Attributes["name"],
		Context: map[string]string{
			"matchType":  "fuzzy",
			"similarity": strconv.Itoa(similarity),
		},
	})
}
