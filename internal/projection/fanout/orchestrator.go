// Package fanout broadcasts one upstream change into per-user view
// rebuilds. The shared inputs (user set, catalogs) are read exactly once per
// pass; each user's rebuild is then an independent, uncontended write, so a
// potential N-way contention point becomes N isolated ones.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
	"github.com/nexevent/participation-backend/internal/projection/catalog"
	"github.com/nexevent/participation-backend/internal/projection/debounce"
	"github.com/nexevent/participation-backend/internal/projection/userview"
)

// UserLister supplies the fan-out user set from the primary store.
type UserLister interface {
	ListEligibleUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// UserFailure records one isolated per-user rebuild failure.
type UserFailure struct {
	UserID uuid.UUID
	Err    error
}

// Result aggregates the outcome of one propagation pass. Failures are
// captured, never silently dropped.
type Result struct {
	Total    int
	Rebuilt  int
	Failures []UserFailure
}

// Options tunes one propagation pass. ExcludeID guarantees a just-deleted
// activity is absent from every rebuilt view even before its catalog
// removal is visible.
type Options struct {
	ExcludeID uuid.UUID
}

// Orchestrator runs propagation passes and the fast single-user path.
type Orchestrator struct {
	catalogs    *catalog.Writer
	builder     *userview.Builder
	users       UserLister
	log         *logger.Logger
	hooks       projection.Hooks
	concurrency int
	debouncer   *debounce.Registry
}

func New(catalogs *catalog.Writer, builder *userview.Builder, users UserLister, baseLog *logger.Logger, hooks projection.Hooks, concurrency int, debounceWindow time.Duration) *Orchestrator {
	if hooks == nil {
		hooks = projection.NopHooks
	}
	if concurrency < 1 {
		concurrency = 8
	}
	if debounceWindow <= 0 {
		debounceWindow = 2 * time.Second
	}
	return &Orchestrator{
		catalogs:    catalogs,
		builder:     builder,
		users:       users,
		log:         baseLog.With("component", "FanoutOrchestrator"),
		hooks:       hooks,
		concurrency: concurrency,
		debouncer:   debounce.New(debounceWindow),
	}
}

// Close stops the debounce registry.
func (o *Orchestrator) Close() { o.debouncer.Close() }

// Propagate rebuilds every eligible user's view from one shared catalog
// read. Per-user failures are isolated and aggregated into the result; only
// failures of the shared reads abort the pass.
func (o *Orchestrator) Propagate(ctx context.Context, opts Options) (Result, error) {
	const op = "fanout.propagate"
	start := time.Now()
	res, err := o.propagate(ctx, op, opts)
	o.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return res, err
}

func (o *Orchestrator) propagate(ctx context.Context, op string, opts Options) (Result, error) {
	userIDs, err := o.users.ListEligibleUserIDs(ctx)
	if err != nil {
		return Result{}, projection.Wrap(projection.CodeRetryable, op, err)
	}

	cats, err := o.readCatalogs(ctx)
	if err != nil {
		return Result{}, err
	}

	var exclude []uuid.UUID
	if opts.ExcludeID != uuid.Nil {
		exclude = []uuid.UUID{opts.ExcludeID}
	}

	res := Result{Total: len(userIDs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			if _, err := o.builder.Rebuild(gctx, userID, cats, exclude); err != nil {
				mu.Lock()
				res.Failures = append(res.Failures, UserFailure{UserID: userID, Err: err})
				mu.Unlock()
				return nil // isolate: one user never blocks siblings
			}
			mu.Lock()
			res.Rebuilt++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(res.Failures) > 0 {
		o.log.Warn("propagation finished with per-user failures",
			"total", res.Total,
			"rebuilt", res.Rebuilt,
			"failed", len(res.Failures),
		)
	}
	return res, nil
}

// PropagateUser is the fast single-user path, invoked right after that
// user's own submission event.
func (o *Orchestrator) PropagateUser(ctx context.Context, userID uuid.UUID) error {
	const op = "fanout.propagate_user"
	start := time.Now()
	err := o.propagateUser(ctx, userID)
	o.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	return err
}

func (o *Orchestrator) propagateUser(ctx context.Context, userID uuid.UUID) error {
	cats, err := o.readCatalogs(ctx)
	if err != nil {
		return err
	}
	_, err = o.builder.Rebuild(ctx, userID, cats, nil)
	return err
}

// ScheduleUser coalesces rapid successive single-user propagations: only
// the last request within the debounce window runs. The caller's context is
// usually cancelled long before the window fires, so the callback keeps its
// values but not its cancellation.
func (o *Orchestrator) ScheduleUser(ctx context.Context, userID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	o.debouncer.Schedule(userID.String(), func() {
		if err := o.PropagateUser(ctx, userID); err != nil {
			o.log.Warn("debounced user propagation failed", "user_id", userID, "error", err)
		}
	})
}

func (o *Orchestrator) readCatalogs(ctx context.Context) (userview.Catalogs, error) {
	cats := userview.Catalogs{}
	for _, t := range domain.ActivityTypes {
		snap, err := o.catalogs.ReadSnapshot(ctx, t)
		if err != nil {
			return nil, err
		}
		cats[t] = snap
	}
	return cats, nil
}
