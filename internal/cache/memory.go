package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memEntry struct {
	value   []byte
	version uint64
}

type memLock struct {
	owner    string
	deadline time.Time
}

// memoryStore is a process-local Store with the same optimistic-update and
// advisory-lock semantics as the Redis store. Tests run against it, and the
// read client uses a second instance as its local layer.
type memoryStore struct {
	entries *xsync.MapOf[string, memEntry]
	locks   *xsync.MapOf[string, memLock]
}

func NewMemoryStore() Store {
	return &memoryStore{
		entries: xsync.NewMapOf[string, memEntry](),
		locks:   xsync.NewMapOf[string, memLock](),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.entries.Load(key)
	if !ok {
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.entries.Compute(key, func(old memEntry, _ bool) (memEntry, bool) {
		return memEntry{value: cp, version: old.version + 1}, false
	})
	return nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.entries.Delete(k)
	}
	return nil
}

func (s *memoryStore) Update(_ context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	e, exists := s.entries.Load(key)
	var old []byte
	if exists {
		old = e.value
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	cp := make([]byte, len(next))
	copy(cp, next)

	swapped := false
	s.entries.Compute(key, func(cur memEntry, loaded bool) (memEntry, bool) {
		if loaded != exists || (loaded && cur.version != e.version) {
			return cur, false
		}
		swapped = true
		return memEntry{value: cp, version: cur.version + 1}, false
	})
	if !swapped {
		return ErrConflict
	}
	return nil
}

func (s *memoryStore) AcquireLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	acquired := false
	s.locks.Compute(key, func(cur memLock, loaded bool) (memLock, bool) {
		if loaded && now.Before(cur.deadline) {
			return cur, false
		}
		acquired = true
		return memLock{owner: owner, deadline: now.Add(ttl)}, false
	})
	return acquired, nil
}

func (s *memoryStore) ReleaseLock(_ context.Context, key, owner string) error {
	s.locks.Compute(key, func(cur memLock, loaded bool) (memLock, bool) {
		if !loaded || cur.owner != owner {
			return cur, !loaded
		}
		return memLock{}, true
	})
	return nil
}

func (s *memoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	s.entries.Range(func(k string, _ memEntry) bool {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
		return true
	})
	return out, nil
}

// Snapshot returns a decoded copy of a document, for test assertions.
func Snapshot[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var v T
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}
