// Package cache provides the hierarchical derived-cache store. Every
// document it holds is a rebuildable projection of the primary store; keys
// form the path hierarchy described in keys.go.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrMiss is returned when a key holds no document.
	ErrMiss = errors.New("cache miss")
	// ErrConflict is returned when an optimistic update lost the race.
	ErrConflict = errors.New("cache write conflict")
)

// Store is the backing key-value surface of the derived cache. Documents are
// JSON blobs; Update provides the optimistic read-modify-conditional-write
// primitive the contended projections (counters, leaderboard lock) rely on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error

	// Update reads key, applies fn to the current value (nil when absent),
	// and writes the result only if the key was untouched in between.
	// Returns ErrConflict when a concurrent writer interleaved.
	Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error

	// AcquireLock sets an advisory lock key if absent, with expiry.
	// Returns false without error when another owner holds it.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes the lock only when held by owner.
	ReleaseLock(ctx context.Context, key, owner string) error

	// Keys lists keys under a path prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// LockInfo is the document stored under an advisory lock key.
type LockInfo struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// GetJSON reads and unmarshals the document at key into dst.
func GetJSON(ctx context.Context, s Store, key string, dst any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// SetJSON marshals v and writes it at key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw)
}

// UpdateJSON runs an optimistic update over a typed document. fn receives
// the zero value of T when the key is absent.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(cur T, exists bool) (T, error)) error {
	return s.Update(ctx, key, func(old []byte) ([]byte, error) {
		var cur T
		exists := len(old) > 0
		if exists {
			if err := json.Unmarshal(old, &cur); err != nil {
				return nil, err
			}
		}
		next, err := fn(cur, exists)
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	})
}
