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
	"errors"
	"testing"
)

func TestValidateConfig(t *testing.T) {
	t.Run("valid arn config", func(t *testing.T) {
		result := ValidateConfig(&Config{Strategy: StrategyARN})
		if !result.IsValid || len(result.Errors) != 0 {
			t.Errorf("result = %+v, want valid", result)
		}
	})

	t.Run("nil config", func(t *testing.T) {
		result := ValidateConfig(nil)
		if result.IsValid {
			t.Error("nil config passed validation")
		}
	})

	t.Run("unknown strategy rejected", func(t *testing.T) {
		result := ValidateConfig(&Config{Strategy: "bogus"})
		if result.IsValid {
			t.Error("bogus strategy passed validation")
		}
	})

	t.Run("out of range confidence rejected", func(t *testing.T) {
		result := ValidateConfig(&Config{Strategy: StrategyName, MinConfidence: 150})
		if result.IsValid {
			t.Error("minConfidence 150 passed validation")
		}
	})

	t.Run("tag strategy requires required tags", func(t *testing.T) {
		result := ValidateConfig(&Config{Strategy: StrategyTag})
		if result.IsValid {
			t.Error("tag strategy without requirements passed validation")
		}
	})

	t.Run("value and pattern are exclusive", func(t *testing.T) {
		result := ValidateConfig(&Config{
			Strategy:     StrategyTag,
			RequiredTags: []TagRequirement{{Key: "k", Value: "v", ValuePattern: "p"}},
		})
		if result.IsValid {
			t.Error("value+pattern requirement passed validation")
		}
	})

	t.Run("bad pattern rejected", func(t *testing.T) {
		result := ValidateConfig(&Config{
			Strategy:     StrategyTag,
			RequiredTags: []TagRequirement{{Key: "k", ValuePattern: "("}},
		})
		if result.IsValid {
			t.Error("uncompilable pattern passed validation")
		}
	})

	t.Run("low fuzzy threshold warns", func(t *testing.T) {
		result := ValidateConfig(&Config{Strategy: StrategyName, FuzzyThreshold: 30})
		if !result.IsValid {
			t.Fatalf("result = %+v, want valid with warnings", result)
		}
		if len(result.Warnings) == 0 {
			t.Error("no warning for low fuzzy threshold")
		}
	})
}

func TestNewStrategies(t *testing.T) {
	t.Run("builds and orders by static priority", func(t *testing.T) {
		disabled := false
		strategies, err := NewStrategies([]Config{
			{Strategy: StrategyTag, RequiredTags: []TagRequirement{{Key: "Env"}}},
			{Strategy: StrategyName},
			{Strategy: StrategyARN},
			{Strategy: StrategyResourceID, Enabled: &disabled},
		})
		if err != nil {
			t.Fatalf("NewStrategies: %v", err)
		}

		want := []string{StrategyARN, StrategyName, StrategyTag}
		if len(strategies) != len(want) {
			t.Fatalf("got %d strategies, want %d", len(strategies), len(want))
		}
		for i, name := range want {
			if strategies[i].Name() != name {
				t.Errorf("strategies[%d] = %s, want %s", i, strategies[i].Name(), name)
			}
		}
	})

	t.Run("invalid config aborts the whole build", func(t *testing.T) {
		_, err := NewStrategies([]Config{
			{Strategy: StrategyARN},
			{Strategy: StrategyTag}, // no required tags
		})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("err = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("empty config list is fine", func(t *testing.T) {
		strategies, err := NewStrategies(nil)
		if err != nil || len(strategies) != 0 {
			t.Errorf("got %v, %v; want empty, nil", strategies, err)
		}
	})
}

func TestBetter(t *testing.T) {
	t.Run("higher confidence wins", func(t *testing.T) {
		a := &MatchResult{Strategy: StrategyTag, Confidence: 90}
		b := &MatchResult{Strategy: StrategyARN, Confidence: 80}
		if !Better(a, b, nil) {
			t.Error("higher confidence lost")
		}
	})

	t.Run("static order breaks confidence ties", func(t *testing.T) {
		arn := &MatchResult{Strategy: StrategyARN, Confidence: 100}
		name := &MatchResult{Strategy: StrategyName, Confidence: 100}
		if !Better(arn, name, nil) || Better(name, arn, nil) {
			t.Error("static priority tie-break failed")
		}
	})

	t.Run("configured priority is the final tie-break", func(t *testing.T) {
		a := &MatchResult{Strategy: StrategyName, Confidence: 100}
		b := &MatchResult{Strategy: StrategyName, Confidence: 100}
		priorityOf := func(strategy string) int { return 5 }
		if Better(a, b, priorityOf) {
			t.Error("identical results should not prefer either side")
		}
	})
}
