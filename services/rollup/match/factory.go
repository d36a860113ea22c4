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
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// NewStrategies builds matching strategies from configuration.
//
// Description:
//
//	Every config is validated before any strategy is constructed; the
//	first invalid one aborts the whole build so a partially-configured
//	matcher set never runs. Disabled strategies are skipped. The result
//	is ordered by descending effective priority (static strategy order,
//	then configured priority).
//
// Errors:
//
//	ErrInvalidConfig - A config failed validation (wrapped with detail)
//	ErrUnknownStrategy - A config names an unrecognized strategy
func NewStrategies(configs []Config) ([]Strategy, error) {
	strategies := make([]Strategy, 0, len(configs))

	for i := range configs {
		cfg := configs[i]

		if result := ValidateConfig(&cfg); !result.IsValid {
			return nil, fmt.Errorf("%w: %s: %s",
				ErrInvalidConfig, cfg.Strategy, strings.Join(result.Errors, "; "))
		}

		if !cfg.enabled() {
			slog.Debug("matching strategy disabled", slog.String("strategy", cfg.Strategy))
			continue
		}

		var s Strategy
		switch cfg.Strategy {
		case StrategyARN:
			s = NewARNStrategy(cfg)
		case StrategyResourceID:
			s = NewResourceIDStrategy(cfg)
		case StrategyName:
			s = NewNameStrategy(cfg)
		case StrategyTag:
			s = NewTagStrategy(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, cfg.Strategy)
		}
		strategies = append(strategies, s)
	}

	sort.SliceStable(strategies, func(i, j int) bool {
		si, sj := strategies[i], strategies[j]
		if StaticPriority(si.Name()) != StaticPriority(sj.Name()) {
			return StaticPriority(si.Name()) > StaticPriority(sj.Name())
		}
		return si.Priority() > sj.Priority()
	})

	return strategies, nil
}

// Better reports whether result a should win over result b for the same
// node pair: higher confidence first, then static strategy order, then
// configured priority carried in via the strategies' ranks.
//
// The merge engine uses this to keep exactly one result per pair when
// several strategies fire.
func Better(a, b *MatchResult, priorityOf func(strategy string) int) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if StaticPriority(a.Strategy) != StaticPriority(b.Strategy) {
		return StaticPriority(a.Strategy) > StaticPriority(b.Strategy)
	}
	if priorityOf != nil && priorityOf(a.Strategy) != priorityOf(b.Strategy) {
		return priorityOf(a.Strategy) > priorityOf(b.Strategy)
	}
	return false
}
