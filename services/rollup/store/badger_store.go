// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/iac-rollup/services/rollup/merge"
)

// Key prefixes. Executions nest under their rollup so one prefix scan
// lists a rollup's history; merged nodes nest under their execution.
const (
	rollupKeyPrefix     = "rollup:"
	executionKeyPrefix  = "rollup_execution:"
	mergedNodeKeyPrefix = "merged_node:"
)

func rollupKey(id string) string {
	return rollupKeyPrefix + id
}

func executionKey(rollupID, executionID string) string {
	return executionKeyPrefix + rollupID + ":" + executionID
}

func mergedNodeKey(executionID, nodeID string) string {
	return mergedNodeKeyPrefix + executionID + ":" + nodeID
}

// BadgerStore implements RollupStore and MergedNodeRepository over a
// BadgerDB instance. Entities are stored as JSON.
//
// The store does not own the DB: the caller opens and closes it (the
// result cache shares the same instance).
//
// # Thread Safety
//
// Safe for concurrent use. Rollup updates serialize through Badger
// transactions, and the version check runs inside the update transaction
// so two concurrent writers cannot both succeed at the same version.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// BadgerStoreOption configures a BadgerStore.
type BadgerStoreOption func(*BadgerStore)

// WithStoreLogger sets the store's logger. Default: slog.Default().
func WithStoreLogger(l *slog.Logger) BadgerStoreOption {
	return func(s *BadgerStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewBadgerStore wraps an open BadgerDB.
func NewBadgerStore(db *badger.DB, opts ...BadgerStoreOption) *BadgerStore {
	s := &BadgerStore{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// getJSON reads and decodes one key inside txn. Returns false on a miss.
func getJSON(txn *badger.Txn, key string, dest any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, dest)
	})
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// setJSON encodes and writes one key inside txn.
func setJSON(txn *badger.Txn, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// CreateRollup persists a new rollup. A missing ID is generated; the
// version always starts at 1.
func (s *BadgerStore) CreateRollup(ctx context.Context, r *Rollup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil {
		return errors.New("rollup is nil")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Version = 1
	r.CreatedAt = s.now().UTC()
	r.UpdatedAt = r.CreatedAt

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, getErr := txn.Get([]byte(rollupKey(r.ID))); getErr == nil {
			return fmt.Errorf("%w: rollup %s", ErrAlreadyExists, r.ID)
		} else if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		return setJSON(txn, rollupKey(r.ID), r)
	})
	if err != nil {
		return err
	}
	s.logger.Info("rollup created", slog.String("rollup_id", r.ID), slog.String("name", r.Name))
	return nil
}

// FindRollupByID returns the rollup or (nil, nil) when absent.
func (s *BadgerStore) FindRollupByID(ctx context.Context, id string) (*Rollup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r Rollup
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, rollupKey(id), &r)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &r, nil
}

// FindRollups lists rollups ordered by ID with offset/limit pagination.
// A non-positive limit means no limit.
func (s *BadgerStore) FindRollups(ctx context.Context, offset, limit int) ([]*Rollup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rollups []*Rollup
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(rollupKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var r Rollup
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return err
			}
			rollups = append(rollups, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rollups, func(i, j int) bool { return rollups[i].ID < rollups[j].ID })
	return paginate(rollups, offset, limit), nil
}

// UpdateRollup persists r under optimistic concurrency. The stored
// version must equal r.Version; on success the version is bumped.
func (s *BadgerStore) UpdateRollup(ctx context.Context, r *Rollup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil || r.ID == "" {
		return errors.New("rollup id is required")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		var stored Rollup
		found, err := getJSON(txn, rollupKey(r.ID), &stored)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: rollup %s", ErrNotFound, r.ID)
		}
		if stored.Version != r.Version {
			return fmt.Errorf("%w: rollup %s at version %d, update carried %d",
				ErrVersionConflict, r.ID, stored.Version, r.Version)
		}

		r.Version++
		r.CreatedAt = stored.CreatedAt
		r.UpdatedAt = s.now().UTC()
		return setJSON(txn, rollupKey(r.ID), r)
	})
	if err != nil {
		return err
	}
	s.logger.Info("rollup updated",
		slog.String("rollup_id", r.ID), slog.Int64("version", r.Version))
	return nil
}

// DeleteRollup removes a rollup and its execution history.
func (s *BadgerStore) DeleteRollup(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(rollupKey(id))); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: rollup %s", ErrNotFound, id)
		} else if err != nil {
			return err
		}
		if err := txn.Delete([]byte(rollupKey(id))); err != nil {
			return err
		}
		return deletePrefix(txn, executionKeyPrefix+id+":")
	})
}

// CreateExecution persists a new execution in status pending. A missing
// ID is generated.
func (s *BadgerStore) CreateExecution(ctx context.Context, e *RollupExecution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e == nil || e.RollupID == "" {
		return errors.New("execution rollup id is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if !ValidStatus(e.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, e.Status)
	}
	e.CreatedAt = s.now().UTC()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(rollupKey(e.RollupID))); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: rollup %s", ErrNotFound, e.RollupID)
		} else if err != nil {
			return err
		}
		return setJSON(txn, executionKey(e.RollupID, e.ID), e)
	})
}

// FindExecutionByID returns the execution or (nil, nil) when absent.
func (s *BadgerStore) FindExecutionByID(ctx context.Context, rollupID, executionID string) (*RollupExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var e RollupExecution
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, executionKey(rollupID, executionID), &e)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

// ListExecutions returns a rollup's executions, newest first.
func (s *BadgerStore) ListExecutions(ctx context.Context, rollupID string) ([]*RollupExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var executions []*RollupExecution
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(executionKeyPrefix + rollupID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e RollupExecution
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			executions = append(executions, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		if !executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].CreatedAt.After(executions[j].CreatedAt)
		}
		return executions[i].ID < executions[j].ID
	})
	return executions, nil
}

// UpdateExecution persists e, validating the status transition against
// the stored execution. Terminal executions are immutable.
func (s *BadgerStore) UpdateExecution(ctx context.Context, e *RollupExecution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e == nil || e.RollupID == "" || e.ID == "" {
		return errors.New("execution id is required")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		var stored RollupExecution
		found, err := getJSON(txn, executionKey(e.RollupID, e.ID), &stored)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: execution %s", ErrNotFound, e.ID)
		}
		if stored.Status.Terminal() {
			return fmt.Errorf("%w: execution %s is %s", ErrInvalidTransition, e.ID, stored.Status)
		}
		if err := CheckTransition(stored.Status, e.Status); err != nil {
			return err
		}
		e.CreatedAt = stored.CreatedAt
		return setJSON(txn, executionKey(e.RollupID, e.ID), e)
	})
}

// UpdateExecutionStatus transitions an execution, stamping StartedAt on
// entry to running and CompletedAt on any terminal status.
func (s *BadgerStore) UpdateExecutionStatus(ctx context.Context, rollupID, executionID string, status ExecutionStatus, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		var stored RollupExecution
		found, err := getJSON(txn, executionKey(rollupID, executionID), &stored)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
		}
		if err := CheckTransition(stored.Status, status); err != nil {
			return err
		}

		stored.Status = status
		stored.Error = errMsg
		now := s.now().UTC()
		if status == StatusRunning && stored.StartedAt.IsZero() {
			stored.StartedAt = now
		}
		if status.Terminal() {
			stored.CompletedAt = now
		}
		return setJSON(txn, executionKey(rollupID, executionID), &stored)
	})
	if err != nil {
		return err
	}
	s.logger.Info("execution status updated",
		slog.String("rollup_id", rollupID),
		slog.String("execution_id", executionID),
		slog.String("status", string(status)))
	return nil
}

// SaveMergedNodes persists an execution's merged nodes. Any previous
// nodes for the execution are superseded wholesale first, so a partial
// earlier write never mixes with the new set.
func (s *BadgerStore) SaveMergedNodes(ctx context.Context, executionID string, nodes []merge.MergedNode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if executionID == "" {
		return errors.New("execution id is required")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, mergedNodeKeyPrefix+executionID+":"); err != nil {
			return err
		}
		for i := range nodes {
			if err := setJSON(txn, mergedNodeKey(executionID, nodes[i].ID), &nodes[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMergedNodes pages through an execution's merged nodes ordered by
// node ID. A non-positive limit means no limit.
func (s *BadgerStore) ListMergedNodes(ctx context.Context, executionID string, offset, limit int) ([]merge.MergedNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var nodes []merge.MergedNode
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(mergedNodeKeyPrefix + executionID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var n merge.MergedNode
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &n)
			})
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return paginate(nodes, offset, limit), nil
}

// DeleteMergedNodes removes an execution's merged nodes and returns how
// many were removed.
func (s *BadgerStore) DeleteMergedNodes(ctx context.Context, executionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		keys, err := collectKeys(txn, mergedNodeKeyPrefix+executionID+":")
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		removed = len(keys)
		return nil
	})
	return removed, err
}

// CountMergedNodesByType aggregates an execution's merged nodes by
// resource type.
func (s *BadgerStore) CountMergedNodesByType(ctx context.Context, executionID string) (map[string]int, error) {
	nodes, err := s.ListMergedNodes(ctx, executionID, 0, 0)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for i := range nodes {
		counts[nodes[i].NodeType]++
	}
	return counts, nil
}

// collectKeys gathers every key under a prefix inside txn.
func collectKeys(txn *badger.Txn, prefix string) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// deletePrefix removes every key under a prefix inside txn.
func deletePrefix(txn *badger.Txn, prefix string) error {
	keys, err := collectKeys(txn, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// paginate applies offset/limit to a sorted slice. A non-positive limit
// means no limit.
func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
