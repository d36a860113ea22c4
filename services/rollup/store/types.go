// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists rollup configurations, their executions, and the
// merged nodes an execution produces.
//
// Reads of a single entity return (nil, nil) when it does not exist;
// mutations that require an existing entity return ErrNotFound. Rollup
// updates use optimistic concurrency: the caller passes the version it
// read, and a mismatch fails with ErrVersionConflict so the caller can
// re-read and retry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/iac-rollup/services/rollup/match"
	"github.com/AleutianAI/iac-rollup/services/rollup/merge"
)

var (
	// ErrNotFound indicates a mutation targeted an entity that does not
	// exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists indicates a create collided with an existing ID.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrVersionConflict indicates an optimistic-lock mismatch on a
	// rollup update. Callers should re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidTransition indicates a disallowed execution status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ExecutionStatus is the lifecycle state of one rollup execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// validTransitions encodes the status machine. Completed, failed, and
// cancelled are terminal.
var validTransitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// ValidStatus reports whether s is a known execution status.
func ValidStatus(s ExecutionStatus) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s allows no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CheckTransition validates a status change. Same-status updates are
// allowed so callers can refresh an execution's payload without a
// transition.
func CheckTransition(from, to ExecutionStatus) error {
	if !ValidStatus(from) || !ValidStatus(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from == to {
		return nil
	}
	for _, allowed := range validTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Rollup is a named, versioned configuration of repositories, matcher
// configs, and merge options. Version is an optimistic lock: every update
// must carry the version the caller read.
type Rollup struct {
	ID            string          `json:"id"`
	Name          string          `json:"name" validate:"required"`
	Description   string          `json:"description,omitempty"`
	RepositoryIDs []string        `json:"repositoryIds" validate:"required,min=1"`
	Matchers      []match.Config  `json:"matchers" validate:"required,min=1,dive"`
	MergeOptions  merge.Options   `json:"mergeOptions"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// RollupExecution is one immutable run of a rollup against a set of
// scans. Once the status is terminal the execution never changes again.
type RollupExecution struct {
	ID          string          `json:"id"`
	RollupID    string          `json:"rollupId"`
	ScanIDs     []string        `json:"scanIds"`
	Status      ExecutionStatus `json:"status"`
	Stats       *merge.Stats    `json:"stats,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   time.Time       `json:"startedAt,omitempty"`
	CompletedAt time.Time       `json:"completedAt,omitempty"`
}

// RollupStore is the rollup lifecycle persistence contract.
type RollupStore interface {
	CreateRollup(ctx context.Context, r *Rollup) error
	FindRollupByID(ctx context.Context, id string) (*Rollup, error)
	FindRollups(ctx context.Context, offset, limit int) ([]*Rollup, error)

	// UpdateRollup persists r if r.Version matches the stored version,
	// then bumps the version. ErrVersionConflict on mismatch.
	UpdateRollup(ctx context.Context, r *Rollup) error
	DeleteRollup(ctx context.Context, id string) error

	CreateExecution(ctx context.Context, e *RollupExecution) error
	FindExecutionByID(ctx context.Context, rollupID, executionID string) (*RollupExecution, error)
	ListExecutions(ctx context.Context, rollupID string) ([]*RollupExecution, error)

	// UpdateExecution persists e, validating the status transition from
	// the stored execution. Terminal executions are immutable.
	UpdateExecution(ctx context.Context, e *RollupExecution) error
	UpdateExecutionStatus(ctx context.Context, rollupID, executionID string, status ExecutionStatus, errMsg string) error
}

// MergedNodeRepository persists the merged nodes one execution produced.
// An execution's nodes are written once and superseded wholesale by a
// re-execution, never mutated.
type MergedNodeRepository interface {
	SaveMergedNodes(ctx context.Context, executionID string, nodes []merge.MergedNode) error
	ListMergedNodes(ctx context.Context, executionID string, offset, limit int) ([]merge.MergedNode, error)
	DeleteMergedNodes(ctx context.Context, executionID string) (int, error)
	CountMergedNodesByType(ctx context.Context, executionID string) (map[string]int, error)
}
