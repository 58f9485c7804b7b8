package userview

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
	"github.com/nexevent/participation-backend/internal/projection/completion"
)

type fixedPoints int

func (p fixedPoints) PointsFor(context.Context, uuid.UUID) (int, error) { return int(p), nil }

func newTestBuilder() (*Builder, *completion.Tracker, cache.Store) {
	store := cache.NewMemoryStore()
	tracker := completion.NewTracker(store, logger.Nop(), nil)
	b := NewBuilder(store, tracker, logger.Nop(), nil)
	return b, tracker, store
}

func record(t domain.ActivityType, title string, points int, created time.Time) domain.ActivityRecord {
	return domain.ActivityRecord{
		ID:         uuid.New(),
		Type:       t,
		Title:      title,
		PointValue: points,
		Status:     domain.ActivityStatusActive,
		CreatedAt:  created,
	}
}

// snapshotOf mirrors what a fan-out pass hands the builder.
func snapshotOf(recs ...domain.ActivityRecord) Catalogs {
	cats := Catalogs{}
	for _, t := range domain.ActivityTypes {
		snap := cats[t]
		snap.Type = t
		if snap.ByID == nil {
			snap.ByID = map[string]domain.ActivityRecord{}
		}
		cats[t] = snap
	}
	for _, rec := range recs {
		snap := cats[rec.Type]
		snap.ByID[rec.ID.String()] = rec
		snap.Ordered = append(snap.Ordered, rec.ID.String())
		cats[rec.Type] = snap
	}
	return cats
}

func TestRebuildPartitionsByFacts(t *testing.T) {
	b, tracker, _ := newTestBuilder()
	ctx := context.Background()
	userID := uuid.New()

	quiz := record(domain.ActivityQuiz, "safety quiz", 10, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	taskOpen := record(domain.ActivityTask, "open task", 20, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	taskReview := record(domain.ActivityTask, "task under review", 20, time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))
	taskDone := record(domain.ActivityTask, "approved task", 30, time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC))

	score := 8
	mustRecord(t, tracker, userID, completion.Fact{
		ActivityID: quiz.ID, ActivityType: domain.ActivityQuiz, Score: &score,
		SubmittedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	mustRecord(t, tracker, userID, completion.Fact{
		ActivityID: taskReview.ID, ActivityType: domain.ActivityTask, Status: domain.SubmissionStatusPending,
		SubmittedAt: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	})
	mustRecord(t, tracker, userID, completion.Fact{
		ActivityID: taskDone.ID, ActivityType: domain.ActivityTask, Status: domain.SubmissionStatusApproved,
		SubmittedAt: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
	})

	view, err := b.Rebuild(ctx, userID, snapshotOf(quiz, taskOpen, taskReview, taskDone), nil)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if len(view.Pending.Tasks) != 1 || view.Pending.Tasks[0].ActivityID != taskOpen.ID {
		t.Fatalf("pending tasks: want only %s, got %v", taskOpen.ID, view.Pending.Tasks)
	}
	if len(view.Pending.Quizzes) != 0 {
		t.Fatalf("completed quiz still pending: %v", view.Pending.Quizzes)
	}
	if len(view.Completed.Tasks) != 1 || view.Completed.Tasks[0].ActivityID != taskDone.ID {
		t.Fatalf("completed tasks: want only %s, got %v", taskDone.ID, view.Completed.Tasks)
	}
	if len(view.Completed.Quizzes) != 1 {
		t.Fatalf("quiz with fact not completed: %v", view.Completed.Quizzes)
	}
	if got := view.Completed.Quizzes[0]; got.Score == nil || *got.Score != 8 {
		t.Fatalf("quiz score not folded into entry: %+v", got)
	}

	// The task awaiting review must be in neither half.
	for _, e := range append(view.Pending.Combined, view.Completed.Combined...) {
		if e.ActivityID == taskReview.ID {
			t.Fatalf("task awaiting review leaked into a list")
		}
	}
}

func TestRebuildHonorsExclusion(t *testing.T) {
	b, _, _ := newTestBuilder()
	ctx := context.Background()
	userID := uuid.New()

	keep := record(domain.ActivityForm, "feedback form", 5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gone := record(domain.ActivityForm, "deleted form", 5, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	view, err := b.Rebuild(ctx, userID, snapshotOf(keep, gone), []uuid.UUID{gone.ID})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(view.Pending.Forms) != 1 || view.Pending.Forms[0].ActivityID != keep.ID {
		t.Fatalf("exclusion ignored: %v", view.Pending.Forms)
	}
}

func TestRebuildVersionStrictlyIncreases(t *testing.T) {
	b, _, store := newTestBuilder()
	ctx := context.Background()
	userID := uuid.New()
	cats := snapshotOf(record(domain.ActivityQuiz, "quiz", 10, time.Now().UTC()))

	for i := 1; i <= 3; i++ {
		if _, err := b.Rebuild(ctx, userID, cats, nil); err != nil {
			t.Fatalf("rebuild #%d: %v", i, err)
		}
		lists, ok, err := cache.Snapshot[Lists](ctx, store, cache.UserPending(userID))
		if err != nil || !ok {
			t.Fatalf("read pending doc: ok=%v err=%v", ok, err)
		}
		if lists.Metadata.Version != int64(i) {
			t.Fatalf("version after rebuild #%d: want %d, got %d", i, i, lists.Metadata.Version)
		}
	}
}

func TestCombinedCompletedSortsBySubmissionTimeDesc(t *testing.T) {
	b, tracker, _ := newTestBuilder()
	ctx := context.Background()
	userID := uuid.New()

	early := record(domain.ActivityQuiz, "early", 10, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	late := record(domain.ActivityForm, "late", 10, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	mustRecord(t, tracker, userID, completion.Fact{
		ActivityID: early.ID, ActivityType: domain.ActivityQuiz,
		SubmittedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	mustRecord(t, tracker, userID, completion.Fact{
		ActivityID: late.ID, ActivityType: domain.ActivityForm,
		SubmittedAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	})

	view, err := b.Rebuild(ctx, userID, snapshotOf(early, late), nil)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(view.Completed.Combined) != 2 {
		t.Fatalf("combined completed: want 2 entries, got %d", len(view.Completed.Combined))
	}
	if view.Completed.Combined[0].ActivityID != late.ID {
		t.Fatalf("combined completed not sorted by submission time desc: %v", view.Completed.Combined)
	}
}

func TestRebuildWritesStatsSnapshot(t *testing.T) {
	b, tracker, store := newTestBuilder()
	b.SetPointsSource(fixedPoints(120))
	ctx := context.Background()
	userID := uuid.New()

	quiz := record(domain.ActivityQuiz, "quiz", 10, time.Now().UTC())
	task := record(domain.ActivityTask, "task", 20, time.Now().UTC())
	mustRecord(t, tracker, userID, completion.Fact{
		ActivityID: quiz.ID, ActivityType: domain.ActivityQuiz, SubmittedAt: time.Now().UTC(),
	})

	if _, err := b.Rebuild(ctx, userID, snapshotOf(quiz, task), nil); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	stats, ok, err := cache.Snapshot[Stats](ctx, store, cache.UserStats(userID))
	if err != nil || !ok {
		t.Fatalf("read stats: ok=%v err=%v", ok, err)
	}
	if stats.Points != 120 {
		t.Fatalf("points: want 120, got %d", stats.Points)
	}
	if stats.TotalPending != 1 || stats.TotalCompleted != 1 {
		t.Fatalf("totals: want pending=1 completed=1, got pending=%d completed=%d", stats.TotalPending, stats.TotalCompleted)
	}
	if stats.Version != 1 {
		t.Fatalf("stats version: want 1, got %d", stats.Version)
	}
}

func mustRecord(t *testing.T, tracker *completion.Tracker, userID uuid.UUID, fact completion.Fact) {
	t.Helper()
	if err := tracker.Record(context.Background(), userID, fact); err != nil {
		t.Fatalf("record fact: %v", err)
	}
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

func TestRebuildRetriesThroughConflicts(t *testing.T) {
	store := &conflictStore{Store: cache.NewMemoryStore(), remaining: 2}
	tracker := completion.NewTracker(store, logger.Nop(), nil)
	b := NewBuilder(store, tracker, logger.Nop(), nil)
	b.sleep = func(context.Context, time.Duration) error { return nil }
	userID := uuid.New()
	rec := record(domain.ActivityTask, "stack chairs", 5, time.Now().UTC())

	view, err := b.Rebuild(context.Background(), userID, snapshotOf(rec), nil)
	if err != nil {
		t.Fatalf("rebuild through conflicts: %v", err)
	}
	if len(view.Pending.Combined) != 1 {
		t.Fatalf("pending after retries: %+v", view.Pending)
	}
}
