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
	"regexp"
	"strings"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
)

// Metadata keys the resource-ID strategy inspects, in order.
var resourceIDMetadataKeys = []string{"resource_id", "id", "self_link"}

// resourceIDPatterns recognizes cloud-provider resource identifier shapes.
// The provider label ends up in the candidate attributes for diagnostics.
var resourceIDPatterns = []struct {
	provider string
	re       *regexp.Regexp
}{
	// AWS hex-suffixed IDs: i-, vpc-, subnet-, sg-, ami-, vol-, snap-,
	// rtb-, igw-, eni-, eip-.
	{"aws", regexp.MustCompile(`^(?:i|vpc|subnet|sg|ami|vol|snap|rtb|igw|eni|eip)-[0-9a-f]{8,17}$`)},
	// GCP compute self-links.
	{"gcp", regexp.MustCompile(`^https://www\.googleapis\.com/[a-z]+/v\d+/projects/.+$`)},
	// Azure resource paths. Azure identifiers are case-preserving but not
	// case-significant.
	{"azure", regexp.MustCompile(`(?i)^/subscriptions/[0-9a-f-]+/resourcegroups/.+$`)},
}

// classifyResourceID returns the provider label for a recognized ID shape.
func classifyResourceID(id string) (string, bool) {
	for _, p := range resourceIDPatterns {
		if p.re.MatchString(id) {
			return p.provider, true
		}
	}
	return "", false
}

// ResourceIDStrategy matches nodes by cloud-provider resource identifiers.
type ResourceIDStrategy struct {
	cfg Config
}

// NewResourceIDStrategy creates a resource-ID matching strategy.
func NewResourceIDStrategy(cfg Config) *ResourceIDStrategy {
	return &ResourceIDStrategy{cfg: cfg}
}

// Name returns the strategy identifier.
func (s *ResourceIDStrategy) Name() string { return StrategyResourceID }

// IsEnabled reports whether the strategy participates in matching.
func (s *ResourceIDStrategy) IsEnabled() bool { return s.cfg.enabled() }

// Priority returns the configured tie-break rank.
func (s *ResourceIDStrategy) Priority() int { return s.cfg.Priority }

// MinConfidence returns the result floor.
func (s *ResourceIDStrategy) MinConfidence() int { return s.cfg.minConfidence() }

// normalize trims whitespace and, unless the strategy is configured
// case-sensitive, lowercases the ID. AWS IDs are already lowercase; the
// fold matters for GCP/Azure paths copied from consoles.
func (s *ResourceIDStrategy) normalize(id string) string {
	id = strings.TrimSpace(id)
	if !s.cfg.CaseSensitive {
		id = strings.ToLower(id)
	}
	return id
}

// ExtractCandidates projects a node into a candidate when any known
// metadata key carries a recognizable provider resource ID.
func (s *ResourceIDStrategy) ExtractCandidates(node *graph.Node, repoID, scanID string) []MatchCandidate {
	for _, key := range resourceIDMetadataKeys {
		raw, ok := metadataString(node, key)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(raw)
		provider, ok := classifyResourceID(trimmed)
		if !ok {
			// Classification is case-insensitive even when comparison
			// is not.
			provider, ok = classifyResourceID(strings.ToLower(trimmed))
			if !ok {
				continue
			}
		}
		return []MatchCandidate{{
			Node:     node,
			RepoID:   repoID,
			ScanID:   scanID,
			MatchKey: s.normalize(raw),
			Attributes: map[string]string{
				"resourceId": raw,
				"provider":   provider,
			},
		}}
	}
	return nil
}

// Compare matches two resource-ID candidates on normalized equality.
//
// Under case-sensitive configuration a case mismatch is no match; there is
// no partial-confidence middle ground for identifiers.
func (s *ResourceIDStrategy) Compare(a, b *MatchCandidate) *MatchResult {
	if a == nil || b == nil || a.MatchKey == "" || b.MatchKey == "" {
		return nil
	}
	if a.MatchKey != b.MatchKey {
		return nil
	}

	return newResult(StrategyResourceID, 100, a, b, MatchDetails{
		MatchedAttribute: "resourceId",
		SourceValue:      a.Attributes["resourceId"],
		TargetValue:      b.Attributes["resourceId"],
		Context: map[string]string{
			"provider": a.Attributes["provider"],
		},
	})
}
