// Package userview builds the per-user precomputed activity lists. A view is
// derived purely from the catalog snapshots intersected with the user's
// completion facts; it is rebuilt wholesale on every relevant change and
// never patched field by field.
package userview

import (
	"time"

	"github.com/google/uuid"

	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/projection/catalog"
)

// Entry is one ready-to-serve activity row. Completion fields are only
// populated on completed entries.
type Entry struct {
	ActivityID  uuid.UUID           `json:"activity_id"`
	Type        domain.ActivityType `json:"type"`
	Title       string              `json:"title"`
	PointValue  int                 `json:"point_value"`
	Score       *int                `json:"score,omitempty"`
	Status      string              `json:"status,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// Metadata versions one view document. Version strictly increases per
// rebuild (read-then-increment).
type Metadata struct {
	Version     int64          `json:"version"`
	LastUpdated time.Time      `json:"last_updated"`
	Counts      map[string]int `json:"counts"`
}

// Lists is one half of a user's view: per-type lists plus the combined one.
type Lists struct {
	Quizzes  []Entry  `json:"quizzes"`
	Tasks    []Entry  `json:"tasks"`
	Forms    []Entry  `json:"forms"`
	Combined []Entry  `json:"combined"`
	Metadata Metadata `json:"metadata"`
}

func (l Lists) counts() map[string]int {
	return map[string]int{
		"quizzes":  len(l.Quizzes),
		"tasks":    len(l.Tasks),
		"forms":    len(l.Forms),
		"combined": len(l.Combined),
	}
}

func (l *Lists) byType(t domain.ActivityType) *[]Entry {
	switch t {
	case domain.ActivityQuiz:
		return &l.Quizzes
	case domain.ActivityTask:
		return &l.Tasks
	case domain.ActivityForm:
		return &l.Forms
	}
	return nil
}

// View pairs the two halves for callers that rebuild both at once.
type View struct {
	UserID    uuid.UUID `json:"user_id"`
	Pending   Lists     `json:"pending"`
	Completed Lists     `json:"completed"`
}

// Catalogs is the shared one-read catalog input to a rebuild pass.
type Catalogs map[domain.ActivityType]catalog.Snapshot
