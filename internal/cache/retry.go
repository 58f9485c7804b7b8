package cache

import (
	"context"
	"errors"
	"time"
)

// conflictBackoff paces repeated attempts against a contended document.
var conflictBackoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// SleepFunc pauses between optimistic-update attempts. Sleep is the
// default; tests substitute a no-op.
type SleepFunc func(context.Context, time.Duration) error

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UpdateJSONRetry behaves like UpdateJSON but absorbs write conflicts:
// shared documents are contended by every concurrent change handler, and the
// delivery layer does not redeliver on failure, so a lost race is retried
// here with 50/100/200ms backoff before it surfaces. onConflict, when
// non-nil, runs once per conflicted attempt.
func UpdateJSONRetry[T any](ctx context.Context, s Store, key string, sleep SleepFunc, onConflict func(), fn func(cur T, exists bool) (T, error)) error {
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 0; ; attempt++ {
		err := UpdateJSON(ctx, s, key, fn)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if onConflict != nil {
			onConflict()
		}
		if attempt >= len(conflictBackoff) {
			return err
		}
		if serr := sleep(ctx, conflictBackoff[attempt]); serr != nil {
			return serr
		}
	}
}
