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
	"strconv"
	"strings"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
)

// TagStrategy matches nodes whose tag maps satisfy a configured set of
// required tags on both sides with equal values.
type TagStrategy struct {
	cfg       Config
	matchMode string
	patterns  map[string]*regexp.Regexp
}

// NewTagStrategy creates a tag matching strategy.
//
// Patterns in the requirements must already be validated by ValidateConfig;
// an uncompilable pattern here disables that requirement.
func NewTagStrategy(cfg Config) *TagStrategy {
	mode := cfg.MatchMode
	if mode == "" {
		mode = TagMatchAll
	}

	patterns := make(map[string]*regexp.Regexp)
	for _, req := range cfg.RequiredTags {
		if req.ValuePattern == "" {
			continue
		}
		if re, err := regexp.Compile(req.ValuePattern); err == nil {
			patterns[req.Key] = re
		}
	}

	return &TagStrategy{cfg: cfg, matchMode: mode, patterns: patterns}
}

// Name returns the strategy identifier.
func (s *TagStrategy) Name() string { return StrategyTag }

// IsEnabled reports whether the strategy participates in matching.
func (s *TagStrategy) IsEnabled() bool { return s.cfg.enabled() }

// Priority returns the configured tie-break rank.
func (s *TagStrategy) Priority() int { return s.cfg.Priority }

// MinConfidence returns the result floor.
func (s *TagStrategy) MinConfidence() int { return s.cfg.minConfidence() }

// ExtractCandidates projects a node into a tag candidate when it carries a
// non-empty tag map.
func (s *TagStrategy) ExtractCandidates(node *graph.Node, repoID, scanID string) []MatchCandidate {
	tags := metadataTags(node)
	if len(tags) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(tags))
	for k, v := range tags {
		attrs[k] = v
	}
	return []MatchCandidate{{
		Node:       node,
		RepoID:     repoID,
		ScanID:     scanID,
		MatchKey:   node.ID, // tags have no single comparison key
		Attributes: attrs,
	}}
}

// satisfied reports whether one requirement holds for a tag map.
func (s *TagStrategy) satisfied(req TagRequirement, tags map[string]string) bool {
	value, ok := tags[req.Key]
	if !ok {
		return false
	}
	switch {
	case req.Value != "":
		return value == req.Value
	case req.ValuePattern != "":
		re, ok := s.patterns[req.Key]
		return ok && re.MatchString(value)
	default:
		// Key-only requirement: any value satisfies it.
		return true
	}
}

// Compare matches two tag candidates against the required tag set.
//
// A requirement counts as matched only when it is satisfied on BOTH sides
// and the two sides carry the same value for the key. Under mode "all"
// every requirement must match for confidence 100; under "any" a single
// matched requirement suffices. With Weighted enabled, confidence is
// proportional: round(matched/total*100) plus a small bonus, capped at
// 100, provided the mode's floor is met.
func (s *TagStrategy) Compare(a, b *MatchCandidate) *MatchResult {
	if a == nil || b == nil || len(s.cfg.RequiredTags) == 0 {
		return nil
	}

	matched := 0
	matchedKeys := make([]string, 0, len(s.cfg.RequiredTags))
	for _, req := range s.cfg.RequiredTags {
		if !s.satisfied(req, a.Attributes) || !s.satisfied(req, b.Attributes) {
			continue
		}
		if a.Attributes[req.Key] != b.Attributes[req.Key] {
			continue
		}
		matched++
		matchedKeys = append(matchedKeys, req.Key)
	}

	total := len(s.cfg.RequiredTags)
	switch s.matchMode {
	case TagMatchAll:
		if !s.cfg.Weighted && matched < total {
			return nil
		}
	case TagMatchAny:
		// Fall through to the matched > 0 check below.
	}
	if matched == 0 {
		return nil
	}

	confidence := 100
	if s.cfg.Weighted && matched < total {
		// Round half away from zero, then the policy bonus.
		confidence = (200*matched + total) / (2 * total)
		confidence += weightedTagBonus
		if confidence > 100 {
			confidence = 100
		}
	}

	return newResult(StrategyTag, confidence, a, b, MatchDetails{
		MatchedAttribute: "tags",
		SourceValue:      formatTagKeys(matchedKeys),
		TargetValue:      formatTagKeys(matchedKeys),
		Context: map[string]string{
			"matchMode":   s.matchMode,
			"matchedTags": strconv.Itoa(matched),
			"totalTags":   strconv.Itoa(total),
		},
	})
}

func formatTagKeys(keys []string) string {
	return strings.Join(keys, ",")
}
