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
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend.
//
// Expiration is lazy: entries are checked on read and swept opportunistically
// on writes. The clock is injectable so TTL behavior is testable without
// sleeping.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   Clock
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithClock injects a clock. Default: SystemClock().
func WithClock(c Clock) MemoryOption {
	return func(b *MemoryBackend) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string]memoryEntry),
		clock:   SystemClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// expired reports whether an entry is past its TTL.
func (b *MemoryBackend) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !b.clock.Now().Before(e.expiresAt)
}

// Get returns the value for key, treating expired entries as misses.
func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if b.expired(e) {
		b.mu.Lock()
		// Re-check under the write lock; another writer may have replaced
		// the entry.
		if e, ok := b.entries[key]; ok && b.expired(e) {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with a TTL.
func (b *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = b.clock.Now().Add(ttl)
	}

	b.mu.Lock()
	b.entries[key] = e
	b.mu.Unlock()
	return nil
}

// Delete removes one key.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

// DeletePrefix removes every key with the given prefix.
func (b *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key := range b.entries {
		if strings.HasPrefix(key, prefix) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Close drops all entries.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	b.entries = make(map[string]memoryEntry)
	b.mu.Unlock()
	return nil
}

// Len returns the number of live entries, expired included until swept.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
