// Package keystore defines the shared key-value store contract that every
// durable coordination concern in breakwater goes through: rate-limit
// windows, shared cache entries, idempotency records and distributed locks.
//
// Two implementations ship with the package: Redis for multi-instance
// deployments and Memory for tests and single-process setups. Both honor the
// same atomicity contract, so components never depend on which one is wired.
package keystore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("keystore: key not found")

// WindowResult is the outcome of an atomic rate-limit window check. It is
// computed in the same operation that mutates the window, so concurrent
// callers can never observe a stale count.
type WindowResult struct {
	// Allowed reports whether the call fits inside the window.
	Allowed bool
	// Count is the number of calls recorded in the current window,
	// including this one when it was admitted.
	Count int64
	// Remaining is how many further calls the window accepts, never
	// negative.
	Remaining int64
	// ResetAt is when the window frees capacity again.
	ResetAt time.Time
}

// Store is the durable coordination surface. Implementations must make each
// method atomic with respect to concurrent callers, including callers on
// other instances sharing the same backing store.
//
// Methods return errors instead of failing soft. Deciding what an
// unavailable store means (serve stale, allow, deny, proceed unguarded) is a
// policy question that belongs to the component on top, not to the store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores val under key. A zero ttl means no automatic expiration.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// SetNX stores val under key only if the key does not already exist.
	// It reports whether the write happened. Used for lock acquisition.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)

	// Del removes keys. Missing keys are not an error. It returns the
	// number of keys actually removed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Incr atomically increments the integer value at key by one,
	// creating it at zero first, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// SAdd adds members to the set at key and extends the set's TTL to at
	// least ttl. The TTL only moves upward so a short-lived member can
	// never shorten the index's life under longer-lived ones.
	SAdd(ctx context.Context, key string, members []string, ttl time.Duration) error

	// SMembers returns all members of the set at key. A missing set is an
	// empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Keys returns the keys matching a glob-style pattern. Intended for
	// operational tooling, not hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// CompareAndDelete removes key only if its current value equals
	// expect, atomically. It reports whether the delete happened. Used
	// for releasing locks without clobbering another holder.
	CompareAndDelete(ctx context.Context, key string, expect []byte) (bool, error)

	// FixedWindow atomically records a call against the fixed window that
	// contains now and decides admission. The key is bucketed internally
	// by the window start, so callers pass a stable base key.
	FixedWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error)

	// SlidingWindow atomically records a call against the trailing window
	// ending at now and decides admission. Denied calls are not recorded,
	// so a burst of rejections cannot extend the window.
	SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// windowStart returns the inclusive start of the fixed window containing now.
func windowStart(now time.Time, window time.Duration) time.Time {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return time.Unix(now.Unix()-now.Unix()%secs, 0)
}

// bucketKey derives the storage key for the fixed window starting at start.
func bucketKey(key string, start time.Time) string {
	return key + ":" + start.UTC().Format("20060102T150405")
}

func fixedResult(count, limit int64, start time.Time, window time.Duration) WindowResult {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return WindowResult{
		Allowed:   count <= limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   start.Add(window),
	}
}

func slidingResult(allowed bool, count, oldestMs, limit int64, window time.Duration) WindowResult {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return WindowResult{
		Allowed:   allowed,
		Count:     count,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(oldestMs).Add(window),
	}
}
