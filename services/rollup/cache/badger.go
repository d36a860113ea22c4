// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerBackend persists cache entries in a BadgerDB instance, using
// Badger's native entry TTLs for expiration and prefix iteration for
// scan-scoped invalidation.
//
// The backend does not own the DB: the caller opens and closes it (the
// rollup store shares the same instance).
type BadgerBackend struct {
	db *badger.DB
}

// NewBadgerBackend wraps an open BadgerDB.
func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

// Get returns the value for key. Expired entries are misses; Badger drops
// them at read time.
func (b *BadgerBackend) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key with a TTL.
func (b *BadgerBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte(value))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete removes one key.
func (b *BadgerBackend) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// DeletePrefix removes every key with the given prefix.
//
// Keys are collected in a read pass and deleted in batched write
// transactions so one huge invalidation cannot exceed Badger's
// transaction size limits.
func (b *BadgerBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	const batchSize = 1000
	removed := 0
	for start := 0; start < len(keys); start += batchSize {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		err := b.db.Update(func(txn *badger.Txn) error {
			for _, key := range keys[start:end] {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed += end - start
	}
	return removed, nil
}

// Close is a no-op; the DB owner closes it.
func (b *BadgerBackend) Close() error { return nil }
