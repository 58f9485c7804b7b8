package subindex

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/cache"
	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

func taskMeta(status string) Meta {
	return Meta{
		SubmissionID: uuid.New(),
		Kind:         domain.KindSubmission,
		UserID:       uuid.New(),
		UserName:     "dana",
		ActivityID:   uuid.New(),
		ActivityType: domain.ActivityTask,
		Title:        "hang posters",
		Status:       status,
		SubmittedAt:  time.Now().UTC(),
	}
}

func metadataOf(t *testing.T, store cache.Store) map[string]Meta {
	t.Helper()
	all, _, err := cache.Snapshot[map[string]Meta](context.Background(), store, cache.SubmissionsMetadata())
	if err != nil {
		t.Fatalf("metadata doc: %v", err)
	}
	return all
}

func TestIndexCreateLinksAllDocuments(t *testing.T) {
	store := cache.NewMemoryStore()
	m := NewMaintainer(store, logger.Nop(), nil)
	ctx := context.Background()
	meta := taskMeta(domain.SubmissionStatusPending)
	id := meta.SubmissionID.String()

	if err := m.Index(ctx, meta, domain.ChangeCreate); err != nil {
		t.Fatalf("index: %v", err)
	}

	checks := []struct {
		key, bucket string
	}{
		{cache.SubmissionsByTask(), meta.ActivityID.String()},
		{cache.SubmissionsByUser(), meta.UserID.String()},
		{cache.SubmissionsByStatus(), domain.SubmissionStatusPending},
	}
	for _, c := range checks {
		got, err := m.Lookup(ctx, c.key, c.bucket)
		if err != nil {
			t.Fatalf("lookup %s/%s: %v", c.key, c.bucket, err)
		}
		if len(got) != 1 || got[0] != id {
			t.Fatalf("membership %s/%s: %v", c.key, c.bucket, got)
		}
	}

	all := metadataOf(t, store)
	if rec, ok := all[id]; !ok || rec.Title != "hang posters" || rec.UserName != "dana" {
		t.Fatalf("metadata record: %+v (ok=%v)", all[id], ok)
	}
}

func TestIndexIsIdempotent(t *testing.T) {
	store := cache.NewMemoryStore()
	m := NewMaintainer(store, logger.Nop(), nil)
	ctx := context.Background()
	meta := taskMeta(domain.SubmissionStatusPending)

	for i := 0; i < 3; i++ {
		if err := m.Index(ctx, meta, domain.ChangeCreate); err != nil {
			t.Fatalf("index #%d: %v", i, err)
		}
	}
	got, err := m.Lookup(ctx, cache.SubmissionsByUser(), meta.UserID.String())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("duplicate membership: %v", got)
	}
}

func TestIndexStatusChangeSwapsBuckets(t *testing.T) {
	store := cache.NewMemoryStore()
	m := NewMaintainer(store, logger.Nop(), nil)
	ctx := context.Background()
	meta := taskMeta(domain.SubmissionStatusPending)
	id := meta.SubmissionID.String()

	if err := m.Index(ctx, meta, domain.ChangeCreate); err != nil {
		t.Fatalf("create: %v", err)
	}
	meta.Status = domain.SubmissionStatusApproved
	if err := m.Index(ctx, meta, domain.ChangeUpdate); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got, _ := m.Lookup(ctx, cache.SubmissionsByStatus(), domain.SubmissionStatusPending); len(got) != 0 {
		t.Fatalf("old status bucket not vacated: %v", got)
	}
	got, err := m.Lookup(ctx, cache.SubmissionsByStatus(), domain.SubmissionStatusApproved)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 || got[0] != id {
		t.Fatalf("new status bucket: %v", got)
	}
	if all := metadataOf(t, store); all[id].Status != domain.SubmissionStatusApproved {
		t.Fatalf("metadata status: %+v", all[id])
	}
}

func TestDeleteUnlinksEverywhere(t *testing.T) {
	store := cache.NewMemoryStore()
	m := NewMaintainer(store, logger.Nop(), nil)
	ctx := context.Background()
	meta := taskMeta(domain.SubmissionStatusApproved)

	if err := m.Index(ctx, meta, domain.ChangeCreate); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Index(ctx, Meta{SubmissionID: meta.SubmissionID}, domain.ChangeDelete); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, key := range []string{cache.SubmissionsByTask(), cache.SubmissionsByUser(), cache.SubmissionsByStatus()} {
		for _, bucket := range []string{meta.ActivityID.String(), meta.UserID.String(), domain.SubmissionStatusApproved} {
			if got, _ := m.Lookup(ctx, key, bucket); len(got) != 0 {
				t.Fatalf("stale membership in %s/%s: %v", key, bucket, got)
			}
		}
	}
	if all := metadataOf(t, store); len(all) != 0 {
		t.Fatalf("metadata not deleted: %v", all)
	}
}

func TestDeleteUnknownSubmissionIsHarmless(t *testing.T) {
	m := NewMaintainer(cache.NewMemoryStore(), logger.Nop(), nil)
	if err := m.Index(context.Background(), Meta{SubmissionID: uuid.New()}, domain.ChangeDelete); err != nil {
		t.Fatalf("delete of unknown submission: %v", err)
	}
}

func TestQuizAndFormSubmissionsUseTheirOwnDocuments(t *testing.T) {
	store := cache.NewMemoryStore()
	m := NewMaintainer(store, logger.Nop(), nil)
	ctx := context.Background()

	quiz := taskMeta("")
	quiz.ActivityType = domain.ActivityQuiz
	quiz.Kind = domain.KindQuizSubmission
	form := taskMeta("")
	form.ActivityType = domain.ActivityForm
	form.Kind = domain.KindFormSubmission

	if err := m.Index(ctx, quiz, domain.ChangeCreate); err != nil {
		t.Fatalf("quiz index: %v", err)
	}
	if err := m.Index(ctx, form, domain.ChangeCreate); err != nil {
		t.Fatalf("form index: %v", err)
	}

	if got, _ := m.Lookup(ctx, cache.SubmissionsByQuiz(), quiz.ActivityID.String()); len(got) != 1 {
		t.Fatalf("quiz membership: %v", got)
	}
	if got, _ := m.Lookup(ctx, cache.SubmissionsByForm(), form.ActivityID.String()); len(got) != 1 {
		t.Fatalf("form membership: %v", got)
	}
	if got, _ := m.Lookup(ctx, cache.SubmissionsByTask(), quiz.ActivityID.String()); len(got) != 0 {
		t.Fatalf("quiz leaked into task document: %v", got)
	}
}

func TestIndexRejectsIncompleteMeta(t *testing.T) {
	m := NewMaintainer(cache.NewMemoryStore(), logger.Nop(), nil)
	ctx := context.Background()

	err := m.Index(ctx, Meta{}, domain.ChangeCreate)
	if projection.CodeOf(err) != projection.CodeValidation {
		t.Fatalf("missing submission id: want validation, got %v", err)
	}
	err = m.Index(ctx, Meta{SubmissionID: uuid.New()}, domain.ChangeCreate)
	if projection.CodeOf(err) != projection.CodeValidation {
		t.Fatalf("missing user/activity: want validation, got %v", err)
	}
}

func TestLookupMissingDocumentIsEmpty(t *testing.T) {
	m := NewMaintainer(cache.NewMemoryStore(), logger.Nop(), nil)
	got, err := m.Lookup(context.Background(), cache.SubmissionsByTask(), uuid.NewString())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("phantom membership: %v", got)
	}
}

// conflictStore fails the first n optimistic updates with ErrConflict.
type conflictStore struct {
	cache.Store
	remaining int
	conflicts int
}

func (s *conflictStore) Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	if s.remaining > 0 {
		s.remaining--
		s.conflicts++
		return cache.ErrConflict
	}
	return s.Store.Update(ctx, key, fn)
}

func TestIndexRetriesThroughConflicts(t *testing.T) {
	store := &conflictStore{Store: cache.NewMemoryStore(), remaining: 2}
	m := NewMaintainer(store, logger.Nop(), nil)
	m.sleep = func(context.Context, time.Duration) error { return nil }
	ctx := context.Background()
	meta := taskMeta(domain.SubmissionStatusPending)

	if err := m.Index(ctx, meta, domain.ChangeCreate); err != nil {
		t.Fatalf("index through conflicts: %v", err)
	}
	if store.conflicts != 2 {
		t.Fatalf("conflicts consumed: %d", store.conflicts)
	}
	got, err := m.Lookup(ctx, cache.SubmissionsByStatus(), domain.SubmissionStatusPending)
	if err != nil || len(got) != 1 {
		t.Fatalf("membership after retries: %v err=%v", got, err)
	}
}

func TestIndexSurfacesUnrelievedConflict(t *testing.T) {
	store := &conflictStore{Store: cache.NewMemoryStore(), remaining: 100}
	m := NewMaintainer(store, logger.Nop(), nil)
	m.sleep = func(context.Context, time.Duration) error { return nil }

	err := m.Index(context.Background(), taskMeta(domain.SubmissionStatusPending), domain.ChangeCreate)
	if projection.CodeOf(err) != projection.CodeConflict {
		t.Fatalf("want conflict after exhausted retries, got %v", err)
	}
}
