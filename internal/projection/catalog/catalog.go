// Package catalog maintains the per-activity-type indexed catalogs: the
// authoritative byId map plus the byPoints/byDate/list secondary indices and
// a version-counted metadata document. byId is ground truth; the secondary
// indices may lag it briefly and readers must treat them as hints.
package catalog

import (
	"strconv"
	"time"

	"github.com/nexevent/participation-backend/internal/domain"
)

// Metadata is the version/count stamp written after every catalog mutation.
type Metadata struct {
	Version     int64     `json:"version"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// ByID maps activity id -> cached snapshot. Keys are uuid strings.
type ByID map[string]domain.ActivityRecord

// Buckets maps a bucket label (point value or YYYY-MM-DD date) to the ids it
// contains.
type Buckets map[string][]string

// List is the catalog's insertion-ordered id list.
type List []string

// PointBucket labels the byPoints bucket for a point value.
func PointBucket(points int) string { return strconv.Itoa(points) }

// DateBucket labels the byDate bucket for a creation time. Returns false for
// a zero time, which callers treat as an unparsable date and skip.
func DateBucket(t time.Time) (string, bool) {
	if t.IsZero() {
		return "", false
	}
	return t.UTC().Format("2006-01-02"), true
}

// Snapshot is one full catalog read, shared across a fan-out pass.
type Snapshot struct {
	Type     domain.ActivityType
	ByID     ByID
	Ordered  List
	Metadata Metadata
}

// OrderedRecords returns the active records in catalog order. Ids in the
// ordered list that byId no longer knows are skipped, since byId wins.
func (s Snapshot) OrderedRecords() []domain.ActivityRecord {
	out := make([]domain.ActivityRecord, 0, len(s.Ordered))
	for _, id := range s.Ordered {
		rec, ok := s.ByID[id]
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (b Buckets) add(bucket, id string) {
	if contains(b[bucket], id) {
		return
	}
	b[bucket] = append(b[bucket], id)
}

func (b Buckets) remove(bucket, id string) {
	if b == nil {
		return
	}
	ids := without(b[bucket], id)
	if len(ids) == 0 {
		delete(b, bucket)
		return
	}
	b[bucket] = ids
}
