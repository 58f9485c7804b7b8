package counters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

type staticScanner struct {
	totals Counters
	calls  int
}

func (s *staticScanner) ScanTotals(context.Context) (Counters, error) {
	s.calls++
	return s.totals, nil
}

// conflictStore fails the first n optimistic updates with ErrConflict.
type conflictStore struct {
	cache.Store
	remaining int
}

func (s *conflictStore) Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	if s.remaining > 0 {
		s.remaining--
		return cache.ErrConflict
	}
	return s.Store.Update(ctx, key, fn)
}

func newTestMaintainer(store cache.Store, scan Scanner) *Maintainer {
	m := NewMaintainer(store, scan, logger.Nop(), nil)
	m.sleep = func(context.Context, time.Duration) error { return nil }
	return m
}

func TestApplySeedsFromScanWhenUninitialized(t *testing.T) {
	store := cache.NewMemoryStore()
	scan := &staticScanner{totals: Counters{UsersTotal: 7, PointsTotal: 300}}
	m := newTestMaintainer(store, scan)
	ctx := context.Background()

	if err := m.Apply(ctx, Deltas{Users: 1}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if scan.calls != 1 {
		t.Fatalf("scan calls: want 1, got %d", scan.calls)
	}
	got, found, err := m.Read(ctx)
	if err != nil || !found {
		t.Fatalf("read: found=%v err=%v", found, err)
	}
	if !got.Initialized || got.UsersTotal != 7 {
		t.Fatalf("seeded doc: want initialized users=7, got %+v", got)
	}
}

func TestApplyAddsDeltasAndBumpsVersion(t *testing.T) {
	store := cache.NewMemoryStore()
	m := newTestMaintainer(store, &staticScanner{})
	ctx := context.Background()

	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	before, _, err := m.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	deltas := Deltas{
		Users:           2,
		Points:          50,
		QuizSubmissions: 1,
		Submissions:     map[string]int64{domain.SubmissionStatusPending: 1},
	}
	if err := m.Apply(ctx, deltas); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _, err := m.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.UsersTotal != 2 || got.PointsTotal != 50 || got.QuizSubmissions != 1 {
		t.Fatalf("totals after apply: %+v", got)
	}
	if got.SubmissionsByStatus[domain.SubmissionStatusPending] != 1 {
		t.Fatalf("submission status totals: %v", got.SubmissionsByStatus)
	}
	if got.Version <= before.Version {
		t.Fatalf("version not bumped: before=%d after=%d", before.Version, got.Version)
	}
}

func TestApplyIsConservative(t *testing.T) {
	store := cache.NewMemoryStore()
	m := newTestMaintainer(store, &staticScanner{})
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	// +1 then -1 must cancel exactly.
	if err := m.Apply(ctx, Deltas{Submissions: map[string]int64{domain.SubmissionStatusPending: 1}}); err != nil {
		t.Fatalf("apply +1: %v", err)
	}
	if err := m.Apply(ctx, Deltas{Submissions: map[string]int64{domain.SubmissionStatusPending: -1, domain.SubmissionStatusApproved: 1}}); err != nil {
		t.Fatalf("apply move: %v", err)
	}

	got, _, err := m.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var sum int64
	for _, v := range got.SubmissionsByStatus {
		sum += v
	}
	if sum != 1 {
		t.Fatalf("status totals not conserved: %v", got.SubmissionsByStatus)
	}
	if got.SubmissionsByStatus[domain.SubmissionStatusPending] != 0 {
		t.Fatalf("pending total: want 0, got %d", got.SubmissionsByStatus[domain.SubmissionStatusPending])
	}
}

func TestApplyRetriesThroughConflicts(t *testing.T) {
	inner := cache.NewMemoryStore()
	m := newTestMaintainer(inner, &staticScanner{})
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	wrapped := &conflictStore{Store: inner, remaining: 2}
	m.store = wrapped

	if err := m.Apply(ctx, Deltas{Users: 1}); err != nil {
		t.Fatalf("apply through conflicts: %v", err)
	}
	got, _, err := m.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.UsersTotal != 1 {
		t.Fatalf("delta lost across retries: %+v", got)
	}
}

func TestApplyFallsBackToRecomputeAfterRetriesExhausted(t *testing.T) {
	inner := cache.NewMemoryStore()
	scan := &staticScanner{totals: Counters{UsersTotal: 42}}
	m := newTestMaintainer(inner, scan)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	scan.calls = 0

	// Conflict on every apply attempt; the recompute path writes through the
	// inner store only.
	m.store = &conflictStore{Store: inner, remaining: maxRetries}

	if err := m.Apply(ctx, Deltas{Users: 1}); err != nil {
		t.Fatalf("apply with fallback: %v", err)
	}
	if scan.calls != 1 {
		t.Fatalf("full recompute not triggered: scan calls=%d", scan.calls)
	}
	got, _, err := m.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.UsersTotal != 42 {
		t.Fatalf("recompute result: want users=42, got %+v", got)
	}
}

func TestRecomputeSkipsFreshSnapshotUnlessForced(t *testing.T) {
	store := cache.NewMemoryStore()
	scan := &staticScanner{}
	m := newTestMaintainer(store, scan)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	scan.calls = 0

	if err := m.Recompute(ctx, false); err != nil {
		t.Fatalf("unforced recompute: %v", err)
	}
	if scan.calls != 0 {
		t.Fatalf("fresh snapshot rescanned: calls=%d", scan.calls)
	}

	if err := m.Recompute(ctx, true); err != nil {
		t.Fatalf("forced recompute: %v", err)
	}
	if scan.calls != 1 {
		t.Fatalf("forced recompute skipped: calls=%d", scan.calls)
	}
}

func TestApplyEmptyDeltasIsNoOp(t *testing.T) {
	store := cache.NewMemoryStore()
	scan := &staticScanner{}
	m := newTestMaintainer(store, scan)

	if err := m.Apply(context.Background(), Deltas{}); err != nil {
		t.Fatalf("empty apply: %v", err)
	}
	if scan.calls != 0 {
		t.Fatalf("empty apply touched the scanner")
	}
	_, found, err := m.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if found {
		t.Fatalf("empty apply created the document")
	}
}

// interleavingStore commits a competing increment through the inner store
// before failing each of the first n Update calls, so every retry starts
// from a base another writer has moved.
type interleavingStore struct {
	cache.Store
	remaining int
}

func (s *interleavingStore) Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	if s.remaining > 0 {
		s.remaining--
		err := cache.UpdateJSON(ctx, s.Store, key, func(c Counters, _ bool) (Counters, error) {
			if c.SubmissionsByStatus == nil {
				c.SubmissionsByStatus = map[string]int64{}
			}
			c.SubmissionsByStatus[domain.SubmissionStatusPending] += 5
			c.Version++
			return c, nil
		})
		if err != nil {
			return err
		}
		return cache.ErrConflict
	}
	return s.Store.Update(ctx, key, fn)
}

func TestApplyRereadsBaseBetweenRetries(t *testing.T) {
	inner := cache.NewMemoryStore()
	scan := &staticScanner{}
	m := newTestMaintainer(inner, scan)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	m.store = &interleavingStore{Store: inner, remaining: 2}
	err := m.Apply(ctx, Deltas{Submissions: map[string]int64{domain.SubmissionStatusPending: 1}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _, err := m.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Two competing +5 writes landed between attempts; our +1 must count
	// exactly once on top of them.
	if got.SubmissionsByStatus[domain.SubmissionStatusPending] != 11 {
		t.Fatalf("delta not conserved across retries: %v", got.SubmissionsByStatus)
	}
	if scan.calls != 1 {
		t.Fatalf("fell back to recompute: scans=%d", scan.calls)
	}
}

func TestApplyConservesUnderConcurrentWriters(t *testing.T) {
	store := cache.NewMemoryStore()
	scan := &staticScanner{}
	m := NewMaintainer(store, scan, logger.Nop(), nil)
	ctx := context.Background()
	if err := m.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Slight stagger keeps contention realistic without forcing
			// every writer into lockstep retry waves.
			time.Sleep(time.Duration(i) * time.Millisecond)
			err := m.Apply(ctx, Deltas{Submissions: map[string]int64{domain.SubmissionStatusPending: 1}})
			if err != nil {
				t.Errorf("apply: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, found, err := m.Read(ctx)
	if err != nil || !found {
		t.Fatalf("read: found=%v err=%v", found, err)
	}
	if got.SubmissionsByStatus[domain.SubmissionStatusPending] != writers {
		t.Fatalf("lost increments: want %d, got %d", writers, got.SubmissionsByStatus[domain.SubmissionStatusPending])
	}
	if got.UsersTotal != 0 || got.PointsTotal != 0 {
		t.Fatalf("unrelated totals drifted: %+v", got)
	}
}
