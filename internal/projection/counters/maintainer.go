// Package counters keeps the running admin totals. Writes go through an
// optimistic read-modify-conditional-write; after bounded retries the
// maintainer degrades to a full recompute from the primary store, which is
// always safe because the counters document is a disposable projection.
package counters

import (
	"context"
	"errors"
	"time"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

// Counters is the admin/stats document.
type Counters struct {
	UsersTotal          int64            `json:"users_total"`
	PendingUsersTotal   int64            `json:"pending_users_total"`
	PointsTotal         int64            `json:"points_total"`
	SubmissionsByStatus map[string]int64 `json:"submissions_by_status"`
	QuizSubmissions     int64            `json:"quiz_submissions"`
	FormSubmissions     int64            `json:"form_submissions"`

	Version     int64     `json:"version"`
	Initialized bool      `json:"initialized"`
	LastUpdated time.Time `json:"last_updated"`
}

// Deltas is one incremental adjustment. Zero fields are no-ops.
type Deltas struct {
	Users           int64
	PendingUsers    int64
	Points          int64
	QuizSubmissions int64
	FormSubmissions int64
	// Submissions adjusts per-status totals, keyed by submission status.
	Submissions map[string]int64
}

func (d Deltas) empty() bool {
	if d.Users != 0 || d.PendingUsers != 0 || d.Points != 0 || d.QuizSubmissions != 0 || d.FormSubmissions != 0 {
		return false
	}
	for _, v := range d.Submissions {
		if v != 0 {
			return false
		}
	}
	return true
}

// Scanner rebuilds totals from an authoritative primary-store scan.
type Scanner interface {
	ScanTotals(ctx context.Context) (Counters, error)
}

const (
	maxRetries         = 3
	stalenessThreshold = 15 * time.Minute
)

var backoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// Maintainer owns the admin/stats document lifecycle:
// uninitialized -> (full-scan init) -> initialized.
type Maintainer struct {
	store cache.Store
	scan  Scanner
	log   *logger.Logger
	hooks projection.Hooks

	// sleep is swappable in tests
	sleep func(context.Context, time.Duration) error
}

func NewMaintainer(store cache.Store, scan Scanner, baseLog *logger.Logger, hooks projection.Hooks) *Maintainer {
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Maintainer{
		store: store,
		scan:  scan,
		log:   baseLog.With("component", "AggregateCounters"),
		hooks: hooks,
		sleep: sleepCtx,
	}
}

// Init seeds the document from a full scan and marks it initialized.
func (m *Maintainer) Init(ctx context.Context) error {
	const op = "counters.init"
	start := time.Now()
	err := m.recomputeNow(ctx, op)
	m.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

// Apply adds deltas to the counters under optimistic concurrency. On a
// write conflict it retries with 50/100/200ms backoff; if still conflicting
// (or the document is not initialized) it falls back to a full recompute.
func (m *Maintainer) Apply(ctx context.Context, d Deltas) error {
	const op = "counters.apply"
	start := time.Now()
	err := m.apply(ctx, op, d)
	m.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

var errUninitialized = errors.New("counters not initialized")

func (m *Maintainer) apply(ctx context.Context, op string, d Deltas) error {
	if d.empty() {
		return nil
	}

	for attempt := 0; ; attempt++ {
		err := cache.UpdateJSON(ctx, m.store, cache.AdminStats(), func(c Counters, exists bool) (Counters, error) {
			if !exists || !c.Initialized {
				return c, errUninitialized
			}
			return applyDeltas(c, d), nil
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errUninitialized):
			m.log.Info("counters uninitialized, seeding from full scan")
			return m.recomputeNow(ctx, op)
		case errors.Is(err, cache.ErrConflict):
			m.hooks.IncConflict(op)
			if attempt >= maxRetries-1 {
				m.log.Warn("counter write kept conflicting, falling back to full recompute", "attempts", attempt+1)
				return m.recomputeNow(ctx, op)
			}
			m.hooks.IncRetry(op)
			if err := m.sleep(ctx, backoff[attempt]); err != nil {
				return projection.Wrap(projection.CodeRetryable, op, err)
			}
		default:
			return projection.Wrap(projection.CodeRetryable, op, err)
		}
	}
}

// Recompute refreshes the document from a full scan. Unforced calls are
// skipped while the snapshot is younger than the staleness threshold.
func (m *Maintainer) Recompute(ctx context.Context, force bool) error {
	const op = "counters.recompute"
	start := time.Now()
	err := m.recompute(ctx, op, force)
	m.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

func (m *Maintainer) recompute(ctx context.Context, op string, force bool) error {
	if !force {
		cur, found, err := cache.Snapshot[Counters](ctx, m.store, cache.AdminStats())
		if err != nil {
			return projection.Wrap(projection.CodeRetryable, op, err)
		}
		if found && cur.Initialized && time.Since(cur.LastUpdated) < stalenessThreshold {
			return nil
		}
	}
	return m.recomputeNow(ctx, op)
}

func (m *Maintainer) recomputeNow(ctx context.Context, op string) error {
	fresh, err := m.scan.ScanTotals(ctx)
	if err != nil {
		return projection.Wrap(projection.CodeRetryable, op, err)
	}
	fresh.Initialized = true
	fresh.LastUpdated = time.Now().UTC()
	if fresh.SubmissionsByStatus == nil {
		fresh.SubmissionsByStatus = map[string]int64{}
	}

	err = cache.UpdateJSON(ctx, m.store, cache.AdminStats(), func(old Counters, _ bool) (Counters, error) {
		fresh.Version = old.Version + 1
		return fresh, nil
	})
	if err != nil {
		// lost a race against another recompute; theirs is as good as ours
		if errors.Is(err, cache.ErrConflict) {
			m.hooks.IncConflict(op)
			return nil
		}
		return projection.Wrap(projection.CodeRetryable, op, err)
	}
	return nil
}

// Read returns the current counters document.
func (m *Maintainer) Read(ctx context.Context) (Counters, bool, error) {
	return cache.Snapshot[Counters](ctx, m.store, cache.AdminStats())
}

func applyDeltas(c Counters, d Deltas) Counters {
	c.UsersTotal += d.Users
	c.PendingUsersTotal += d.PendingUsers
	c.PointsTotal += d.Points
	c.QuizSubmissions += d.QuizSubmissions
	c.FormSubmissions += d.FormSubmissions
	if len(d.Submissions) > 0 {
		if c.SubmissionsByStatus == nil {
			c.SubmissionsByStatus = map[string]int64{}
		}
		for status, delta := range d.Submissions {
			c.SubmissionsByStatus[status] += delta
		}
	}
	c.Version++
	c.LastUpdated = time.Now().UTC()
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
