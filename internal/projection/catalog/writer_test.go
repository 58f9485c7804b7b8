package catalog

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

func newTestWriter() (*Writer, cache.Store) {
	store := cache.NewMemoryStore()
	return NewWriter(store, logger.Nop(), nil), store
}

func taskRecord(points int, created time.Time) domain.ActivityRecord {
	return domain.ActivityRecord{
		ID:         uuid.New(),
		Type:       domain.ActivityTask,
		Title:      "write a trip report",
		PointValue: points,
		Status:     domain.ActivityStatusActive,
		CreatedAt:  created,
		Task:       &domain.TaskInfo{},
	}
}

func readBuckets(t *testing.T, store cache.Store, key string) Buckets {
	t.Helper()
	b, _, err := cache.Snapshot[Buckets](context.Background(), store, key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return b
}

func TestUpsertWritesAllIndices(t *testing.T) {
	w, store := newTestWriter()
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec := taskRecord(25, created)

	if err := w.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	snap, err := w.ReadSnapshot(ctx, domain.ActivityTask)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	got, ok := snap.ByID[rec.ID.String()]
	if !ok {
		t.Fatalf("byId missing %s", rec.ID)
	}
	if got.Title != rec.Title || got.PointValue != 25 {
		t.Fatalf("byId record: want title=%q points=25, got title=%q points=%d", rec.Title, got.Title, got.PointValue)
	}
	if len(snap.Ordered) != 1 || snap.Ordered[0] != rec.ID.String() {
		t.Fatalf("list: want [%s], got %v", rec.ID, snap.Ordered)
	}
	if snap.Metadata.Version != 1 || snap.Metadata.Count != 1 {
		t.Fatalf("metadata: want version=1 count=1, got version=%d count=%d", snap.Metadata.Version, snap.Metadata.Count)
	}

	byPoints := readBuckets(t, store, cache.ActivityByPoints(domain.ActivityTask))
	if !contains(byPoints["25"], rec.ID.String()) {
		t.Fatalf("byPoints[25] missing %s: %v", rec.ID, byPoints)
	}
	byDate := readBuckets(t, store, cache.ActivityByDate(domain.ActivityTask))
	if !contains(byDate["2026-03-14"], rec.ID.String()) {
		t.Fatalf("byDate[2026-03-14] missing %s: %v", rec.ID, byDate)
	}
}

func TestUpsertIsIdempotentModuloVersion(t *testing.T) {
	w, store := newTestWriter()
	ctx := context.Background()
	rec := taskRecord(10, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	if err := w.Upsert(ctx, rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := w.Upsert(ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	snap, err := w.ReadSnapshot(ctx, domain.ActivityTask)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(snap.ByID) != 1 || len(snap.Ordered) != 1 {
		t.Fatalf("duplicated entries after redelivery: byId=%d list=%d", len(snap.ByID), len(snap.Ordered))
	}
	if snap.Metadata.Version != 2 {
		t.Fatalf("metadata version: want 2, got %d", snap.Metadata.Version)
	}
	byPoints := readBuckets(t, store, cache.ActivityByPoints(domain.ActivityTask))
	if len(byPoints["10"]) != 1 {
		t.Fatalf("byPoints bucket duplicated: %v", byPoints["10"])
	}
}

func TestUpsertMovesBucketsOnPointChange(t *testing.T) {
	w, store := newTestWriter()
	ctx := context.Background()
	rec := taskRecord(10, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	if err := w.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec.PointValue = 40
	if err := w.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert with new points: %v", err)
	}

	byPoints := readBuckets(t, store, cache.ActivityByPoints(domain.ActivityTask))
	if _, ok := byPoints["10"]; ok {
		t.Fatalf("old bucket still present: %v", byPoints)
	}
	if !contains(byPoints["40"], rec.ID.String()) {
		t.Fatalf("new bucket missing id: %v", byPoints)
	}
}

func TestUpsertInactiveRemoves(t *testing.T) {
	w, _ := newTestWriter()
	ctx := context.Background()
	rec := taskRecord(10, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	if err := w.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec.Status = domain.ActivityStatusInactive
	if err := w.Upsert(ctx, rec); err != nil {
		t.Fatalf("deactivating upsert: %v", err)
	}

	snap, err := w.ReadSnapshot(ctx, domain.ActivityTask)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(snap.ByID) != 0 || len(snap.Ordered) != 0 {
		t.Fatalf("inactive record still cached: byId=%v list=%v", snap.ByID, snap.Ordered)
	}
	if snap.Metadata.Count != 0 {
		t.Fatalf("metadata count: want 0, got %d", snap.Metadata.Count)
	}
}

func TestRemoveUnknownIDOnlyBumpsVersion(t *testing.T) {
	w, _ := newTestWriter()
	ctx := context.Background()

	if err := w.Remove(ctx, domain.ActivityTask, uuid.New()); err != nil {
		t.Fatalf("remove unknown id: %v", err)
	}
	snap, err := w.ReadSnapshot(ctx, domain.ActivityTask)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Metadata.Version != 1 {
		t.Fatalf("metadata version: want 1, got %d", snap.Metadata.Version)
	}
}

func TestRemoveSweepsBucketsWhenOldRecordUnknown(t *testing.T) {
	w, store := newTestWriter()
	ctx := context.Background()
	rec := taskRecord(15, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	id := rec.ID.String()

	// Simulate a partial earlier failure: secondary indices know the id but
	// byId does not.
	if err := cache.SetJSON(ctx, store, cache.ActivityByPoints(domain.ActivityTask), Buckets{"15": {id}}); err != nil {
		t.Fatalf("seed byPoints: %v", err)
	}
	if err := cache.SetJSON(ctx, store, cache.ActivityByDate(domain.ActivityTask), Buckets{"2026-02-01": {id}}); err != nil {
		t.Fatalf("seed byDate: %v", err)
	}

	if err := w.Remove(ctx, domain.ActivityTask, rec.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	byPoints := readBuckets(t, store, cache.ActivityByPoints(domain.ActivityTask))
	byDate := readBuckets(t, store, cache.ActivityByDate(domain.ActivityTask))
	if len(byPoints) != 0 || len(byDate) != 0 {
		t.Fatalf("stale memberships survived sweep: byPoints=%v byDate=%v", byPoints, byDate)
	}
}

func TestUpsertRejectsInvalidRecord(t *testing.T) {
	w, _ := newTestWriter()
	rec := taskRecord(10, time.Now())
	rec.Title = " "

	err := w.Upsert(context.Background(), rec)
	if !projection.IsCode(err, projection.CodeValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestRebuildReplacesWholesale(t *testing.T) {
	w, _ := newTestWriter()
	ctx := context.Background()

	stale := taskRecord(5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := w.Upsert(ctx, stale); err != nil {
		t.Fatalf("seed stale record: %v", err)
	}

	fresh := []domain.ActivityRecord{
		taskRecord(10, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		taskRecord(20, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)),
	}
	inactive := taskRecord(30, time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC))
	inactive.Status = domain.ActivityStatusInactive

	if err := w.Rebuild(ctx, domain.ActivityTask, append(fresh, inactive)); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	snap, err := w.ReadSnapshot(ctx, domain.ActivityTask)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(snap.ByID) != 2 {
		t.Fatalf("byId after rebuild: want 2 records, got %d", len(snap.ByID))
	}
	if _, ok := snap.ByID[stale.ID.String()]; ok {
		t.Fatalf("stale record survived rebuild")
	}
	if _, ok := snap.ByID[inactive.ID.String()]; ok {
		t.Fatalf("inactive record included in rebuild")
	}
	if snap.Metadata.Count != 2 {
		t.Fatalf("metadata count: want 2, got %d", snap.Metadata.Count)
	}
}

func TestOrderedRecordsSkipsIdsMissingFromByID(t *testing.T) {
	snap := Snapshot{
		ByID:    ByID{"a": {Title: "kept"}},
		Ordered: List{"a", "b"},
	}
	recs := snap.OrderedRecords()
	if len(recs) != 1 || recs[0].Title != "kept" {
		t.Fatalf("ordered records: want only the byId-backed entry, got %v", recs)
	}
}
