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
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for configuration handling.
var (
	// ErrInvalidConfig indicates a strategy configuration failed validation.
	ErrInvalidConfig = errors.New("invalid matcher configuration")

	// ErrUnknownStrategy indicates an unrecognized strategy identifier.
	ErrUnknownStrategy = errors.New("unknown matching strategy")
)

// Defaults for strategy configuration.
const (
	// DefaultFuzzyThreshold is the minimum name similarity (percent) for a
	// fuzzy name match.
	DefaultFuzzyThreshold = 80

	// DefaultMinConfidence is the floor below which match results are
	// discarded.
	DefaultMinConfidence = 50

	// weightedTagBonus is added to the proportional tag confidence when
	// weighted matching is enabled. Policy constant; changing it changes
	// every weighted tag score.
	weightedTagBonus = 2
)

// Tag match modes.
const (
	TagMatchAll = "all"
	TagMatchAny = "any"
)

// TagRequirement is one required tag for the tag strategy.
//
// Value and ValuePattern are mutually exclusive; when both are empty the
// requirement is key-only and any value satisfies it.
type TagRequirement struct {
	// Key is the required tag key.
	Key string `yaml:"key" json:"key" validate:"required"`

	// Value, when set, must match the tag value exactly.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// ValuePattern, when set, is a regular expression the tag value must
	// match.
	ValuePattern string `yaml:"valuePattern,omitempty" json:"valuePattern,omitempty"`
}

// Config configures one matching strategy instance.
type Config struct {
	// Strategy selects the strategy implementation.
	Strategy string `yaml:"strategy" json:"strategy" validate:"required,oneof=arn resource_id name tag"`

	// Enabled toggles the strategy. Nil means enabled.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Priority is the configured tie-break rank. Higher wins.
	Priority int `yaml:"priority" json:"priority" validate:"gte=0"`

	// MinConfidence is the result floor. Zero means DefaultMinConfidence.
	MinConfidence int `yaml:"minConfidence" json:"minConfidence" validate:"gte=0,lte=100"`

	// CaseSensitive applies to the name and resource-id strategies.
	CaseSensitive bool `yaml:"caseSensitive" json:"caseSensitive"`

	// FuzzyThreshold applies to the name strategy. Zero means
	// DefaultFuzzyThreshold.
	FuzzyThreshold int `yaml:"fuzzyThreshold" json:"fuzzyThreshold" validate:"gte=0,lte=100"`

	// RequiredTags applies to the tag strategy.
	RequiredTags []TagRequirement `yaml:"requiredTags,omitempty" json:"requiredTags,omitempty" validate:"dive"`

	// MatchMode applies to the tag strategy: "all" or "any".
	MatchMode string `yaml:"matchMode,omitempty" json:"matchMode,omitempty" validate:"omitempty,oneof=all any"`

	// Weighted enables proportional tag confidence instead of all-or-nothing.
	Weighted bool `yaml:"weighted" json:"weighted"`
}

// enabled resolves the Enabled pointer with its default.
func (c *Config) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// minConfidence resolves the confidence floor with its default.
func (c *Config) minConfidence() int {
	if c.MinConfidence == 0 {
		return DefaultMinConfidence
	}
	return c.MinConfidence
}

// ValidationResult reports configuration validation with field-level detail.
type ValidationResult struct {
	// IsValid is true when the configuration can be used as-is.
	IsValid bool `json:"isValid"`

	// Errors lists blocking problems.
	Errors []string `json:"errors,omitempty"`

	// Warnings lists non-blocking observations.
	Warnings []string `json:"warnings,omitempty"`
}

var validate = validator.New()

// ValidateConfig checks a strategy configuration before any matching work.
//
// Structural checks come from validator struct tags; strategy-specific
// semantic checks (tag requirement shapes, pattern compilation) are layered
// on top. A config that fails here is rejected before any comparison runs.
func ValidateConfig(cfg *Config) ValidationResult {
	result := ValidationResult{IsValid: true}

	if cfg == nil {
		result.IsValid = false
		result.Errors = append(result.Errors, "configuration is nil")
		return result
	}

	if err := validate.Struct(cfg); err != nil {
		result.IsValid = false
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				result.Errors = append(result.Errors,
					fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag()))
			}
		} else {
			result.Errors = append(result.Errors, err.Error())
		}
		return result
	}

	switch cfg.Strategy {
	case StrategyTag:
		if len(cfg.RequiredTags) == 0 {
			result.IsValid = false
			result.Errors = append(result.Errors, "tag strategy requires at least one required tag")
		}
		for i, req := range cfg.RequiredTags {
			if req.Value != "" && req.ValuePattern != "" {
				result.IsValid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("requiredTags[%d]: value and valuePattern are mutually exclusive", i))
			}
			if req.ValuePattern != "" {
				if _, err := regexp.Compile(req.ValuePattern); err != nil {
					result.IsValid = false
					result.Errors = append(result.Errors,
						fmt.Sprintf("requiredTags[%d]: invalid valuePattern: %v", i, err))
				}
			}
		}
	case StrategyName:
		if cfg.FuzzyThreshold != 0 && cfg.FuzzyThreshold < 50 {
			result.Warnings = append(result.Warnings,
				"fuzzyThreshold below 50 will produce many spurious matches")
		}
	}

	if len(cfg.RequiredTags) > 0 && cfg.Strategy != StrategyTag {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("requiredTags is ignored by the %s strategy", cfg.Strategy))
	}

	return result
}
