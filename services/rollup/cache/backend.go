// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the result cache for expensive graph queries.
//
// The ResultCache wraps traversal, cycle, and blast-radius computations
// with key-based memoization on top of a pluggable Backend. Backend
// failures never surface to callers: every backend error degrades to a
// cache miss and the wrapped computation runs directly.
package cache

import (
	"context"
	"time"
)

// Backend is the storage a ResultCache memoizes into.
//
// Values are opaque strings (the ResultCache stores JSON). Implementations
// must treat stored values as immutable: overwritten wholesale, never
// mutated in place.
type Backend interface {
	// Get returns the value for key. The boolean is false on a miss or an
	// expired entry.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with a TTL. A non-positive TTL means the
	// entry never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes one key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix and returns
	// how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Close releases backend resources.
	Close() error
}

// Clock abstracts time for deterministic TTL tests.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real-time Clock.
func SystemClock() Clock { return systemClock{} }
