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
	"strings"

	"github.com/AleutianAI/iac-rollup/services/rollup/graph"
)

// Metadata keys the ARN strategy inspects, in order.
var arnMetadataKeys = []string{"arn", "aws_arn", "id"}

// parsedARN is the decomposed form of arn:partition:service:region:account:resource.
type parsedARN struct {
	Partition string
	Service   string
	Region    string
	Account   string
	Resource  string
}

// parseARN decomposes an ARN string. Returns false for anything that is not
// a six-part ARN.
func parseARN(s string) (parsedARN, bool) {
	if !strings.HasPrefix(s, "arn:") {
		return parsedARN{}, false
	}
	// Resource may itself contain colons; split the fixed prefix only.
	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 {
		return parsedARN{}, false
	}
	arn := parsedARN{
		Partition: parts[1],
		Service:   parts[2],
		Region:    parts[3],
		Account:   parts[4],
		Resource:  parts[5],
	}
	if arn.Partition == "" || arn.Service == "" || arn.Resource == "" {
		return parsedARN{}, false
	}
	return arn, true
}

// normalized returns the cross-region comparison key: region and account
// are dropped so the same resource deployed through different accounts or
// regions still matches.
func (a parsedARN) normalized() string {
	return "arn:" + a.Partition + ":" + a.Service + ":::" + a.Resource
}

// ARNStrategy matches nodes by their Amazon Resource Names.
type ARNStrategy struct {
	cfg Config
}

// NewARNStrategy creates an ARN matching strategy.
func NewARNStrategy(cfg Config) *ARNStrategy {
	return &ARNStrategy{cfg: cfg}
}

// Name returns the strategy identifier.
func (s *ARNStrategy) Name() string { return StrategyARN }

// IsEnabled reports whether the strategy participates in matching.
func (s *ARNStrategy) IsEnabled() bool { return s.cfg.enabled() }

// Priority returns the configured tie-break rank.
func (s *ARNStrategy) Priority() int { return s.cfg.Priority }

// MinConfidence returns the result floor.
func (s *ARNStrategy) MinConfidence() int { return s.cfg.minConfidence() }

// ExtractCandidates projects a node into an ARN candidate when any known
// metadata key carries a parseable ARN.
func (s *ARNStrategy) ExtractCandidates(node *graph.Node, repoID, scanID string) []MatchCandidate {
	for _, key := range arnMetadataKeys {
		raw, ok := metadataString(node, key)
		if !ok {
			continue
		}
		arn, ok := parseARN(strings.TrimSpace(raw))
		if !ok {
			continue
		}
		return []MatchCandidate{{
			Node:     node,
			RepoID:   repoID,
			ScanID:   scanID,
			MatchKey: arn.normalized(),
			Attributes: map[string]string{
				"arn":       raw,
				"partition": arn.Partition,
				"service":   arn.Service,
				"region":    arn.Region,
				"account":   arn.Account,
				"resource":  arn.Resource,
			},
		}}
	}
	return nil
}

// Compare matches two ARN candidates.
//
// Exact normalized match yields confidence 100. Different service or
// partition, or any other mismatch, yields no result rather than a
// low-confidence one: two distinct ARNs never denote the same resource.
func (s *ARNStrategy) Compare(a, b *MatchCandidate) *MatchResult {
	if a == nil || b == nil || a.MatchKey == "" || b.MatchKey == "" {
		return nil
	}
	if a.MatchKey != b.MatchKey {
		return nil
	}

	return newResult(StrategyARN, 100, a, b, MatchDetails{
		MatchedAttribute: "arn",
		SourceValue:      a.Attributes["arn"],
		TargetValue:      b.Attributes["arn"],
		Context: map[string]string{
			"normalizedArn": a.MatchKey,
		},
	})
}
