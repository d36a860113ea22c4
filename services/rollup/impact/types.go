// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact implements blast-radius analysis over the merged graph:
// given seed nodes, which resources are transitively affected by a change,
// how far away, and whether the impact crosses repository boundaries.
package impact

import "errors"

// Sentinel errors.
var (
	// ErrNoSeeds indicates a query without seed nodes.
	ErrNoSeeds = errors.New("blast radius query has no seed nodes")

	// ErrUnknownSeed indicates a seed node absent from the merged graph.
	ErrUnknownSeed = errors.New("unknown seed node")
)

// DefaultMaxDepth bounds blast-radius traversal when the query does not.
const DefaultMaxDepth = 10

// Risk levels, in escalating order.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Query describes one blast-radius request.
type Query struct {
	// NodeIDs are the seed nodes on the merged graph.
	NodeIDs []string `json:"nodeIds" binding:"required,min=1"`

	// MaxDepth bounds the traversal in hops. Zero means DefaultMaxDepth.
	MaxDepth int `json:"maxDepth" binding:"gte=0"`

	// IncludeCrossRepo enables cross-repository classification.
	IncludeCrossRepo bool `json:"includeCrossRepo"`

	// IncludeIndirect includes nodes beyond hop distance 1.
	IncludeIndirect bool `json:"includeIndirect"`
}

// ImpactedNode is one affected resource.
type ImpactedNode struct {
	// NodeID is the merged-graph node ID.
	NodeID string `json:"nodeId"`

	// Name and Type describe the resource.
	Name string `json:"name"`
	Type string `json:"type"`

	// Repos are the source repositories the node spans.
	Repos []string `json:"repos,omitempty"`

	// Distance is the minimum hop distance from any seed (>= 1).
	Distance int `json:"distance"`

	// CrossRepo is true when the node spans a repository no seed spans.
	CrossRepo bool `json:"crossRepo"`
}

// Summary aggregates one blast-radius response.
type Summary struct {
	TotalImpacted  int            `json:"totalImpacted"`
	DirectCount    int            `json:"directCount"`
	IndirectCount  int            `json:"indirectCount"`
	CrossRepoCount int            `json:"crossRepoCount"`
	ImpactByType   map[string]int `json:"impactByType"`
	ImpactByRepo   map[string]int `json:"impactByRepo"`
	ImpactByDepth  map[int]int    `json:"impactByDepth"`
	RiskLevel      string         `json:"riskLevel"`
}

// Response is one blast-radius result.
type Response struct {
	// DirectImpact are nodes at hop distance 1 from any seed.
	DirectImpact []ImpactedNode `json:"directImpact"`

	// IndirectImpact are nodes at distance > 1. Empty unless the query
	// sets IncludeIndirect.
	IndirectImpact []ImpactedNode `json:"indirectImpact"`

	// CrossRepoImpact are impacted nodes spanning repositories no seed
	// spans. Empty unless the query sets IncludeCrossRepo.
	CrossRepoImpact []ImpactedNode `json:"crossRepoImpact"`

	// Summary aggregates the counts and the risk level.
	Summary Summary `json:"summary"`
}

// RiskThresholds tunes risk-level derivation.
//
// The derived level is monotone: more impacted nodes or more cross-repo
// impact never lowers it.
type RiskThresholds struct {
	// MediumTotal is the totalImpacted floor for medium risk.
	MediumTotal int

	// HighTotal is the totalImpacted floor for high risk.
	HighTotal int
}

// DefaultRiskThresholds returns the standard thresholds.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{MediumTotal: 10, HighTotal: 50}
}

// riskLevel derives the risk from total and cross-repo impact: the total
// sets a base level, and any cross-repo impact escalates it one step.
func (rt RiskThresholds) riskLevel(totalImpacted, crossRepoCount int) string {
	level := RiskLow
	switch {
	case totalImpacted >= rt.HighTotal:
		level = RiskHigh
	case totalImpacted >= rt.MediumTotal:
		level = RiskMedium
	}

	if crossRepoCount > 0 {
		switch level {
		case RiskLow:
			level = RiskMedium
		case RiskMedium:
			level = RiskHigh
		case RiskHigh:
			level = RiskCritical
		}
	}
	return level
}
