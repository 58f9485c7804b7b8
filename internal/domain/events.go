package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityKind names the primary-store collection a change event refers to.
type EntityKind string

const (
	KindUser           EntityKind = "user"
	KindPendingUser    EntityKind = "pendingUser"
	KindAdmin          EntityKind = "admin"
	KindQuiz           EntityKind = "quiz"
	KindTask           EntityKind = "task"
	KindForm           EntityKind = "form"
	KindSubmission     EntityKind = "submission"
	KindQuizSubmission EntityKind = "quizSubmission"
	KindFormSubmission EntityKind = "formSubmission"
)

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is emitted after every primary-store mutation. Delivery is
// at-least-once with no ordering guarantee across events; handlers must be
// idempotent. Before/After are raw snapshots of the affected row; either
// side may be empty depending on Change.
type ChangeEvent struct {
	ID       uuid.UUID       `json:"id"`
	Kind     EntityKind      `json:"kind"`
	Change   ChangeType      `json:"change"`
	EntityID uuid.UUID       `json:"entity_id"`
	Before   json.RawMessage `json:"before,omitempty"`
	After    json.RawMessage `json:"after,omitempty"`
	At       time.Time       `json:"at"`
}

// NewChangeEvent stamps a fresh event envelope.
func NewChangeEvent(kind EntityKind, change ChangeType, entityID uuid.UUID, before, after any) (ChangeEvent, error) {
	ev := ChangeEvent{
		ID:       uuid.New(),
		Kind:     kind,
		Change:   change,
		EntityID: entityID,
		At:       time.Now().UTC(),
	}
	if before != nil {
		raw, err := json.Marshal(before)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.Before = raw
	}
	if after != nil {
		raw, err := json.Marshal(after)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.After = raw
	}
	return ev, nil
}

// DecodeAfter unmarshals the post-image into dst, tolerating absence.
func (e ChangeEvent) DecodeAfter(dst any) (bool, error) {
	if len(e.After) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(e.After, dst); err != nil {
		return false, err
	}
	return true, nil
}

// DecodeBefore unmarshals the pre-image into dst, tolerating absence.
func (e ChangeEvent) DecodeBefore(dst any) (bool, error) {
	if len(e.Before) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(e.Before, dst); err != nil {
		return false, err
	}
	return true, nil
}
