package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActivityType tags the variant carried by an ActivityRecord.
type ActivityType string

const (
	ActivityQuiz ActivityType = "quiz"
	ActivityTask ActivityType = "task"
	ActivityForm ActivityType = "form"
)

// ActivityTypes lists all variants in catalog order.
var ActivityTypes = []ActivityType{ActivityQuiz, ActivityTask, ActivityForm}

func (t ActivityType) Valid() bool {
	switch t {
	case ActivityQuiz, ActivityTask, ActivityForm:
		return true
	}
	return false
}

// QuizInfo carries the quiz-only attributes of an activity snapshot.
type QuizInfo struct {
	QuestionCount int `json:"question_count"`
	MaxScore      int `json:"max_score"`
}

// TaskInfo carries the task-only attributes of an activity snapshot.
type TaskInfo struct {
	Deadline *time.Time `json:"deadline,omitempty"`
}

// FormInfo carries the form-only attributes of an activity snapshot.
type FormInfo struct {
	FieldCount int `json:"field_count"`
}

// ActivityRecord is the cached snapshot of one activity. It is a tagged
// variant: exactly the info struct matching Type may be set. Attributes the
// cache does not interpret ride along in Extra untouched.
type ActivityRecord struct {
	ID         uuid.UUID    `json:"id"`
	Type       ActivityType `json:"type"`
	Title      string       `json:"title"`
	PointValue int          `json:"point_value"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`

	Quiz *QuizInfo `json:"quiz,omitempty"`
	Task *TaskInfo `json:"task,omitempty"`
	Form *FormInfo `json:"form,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

func (r ActivityRecord) Active() bool { return r.Status == ActivityStatusActive }

// Validate enforces the variant shape at the cache write boundary.
func (r ActivityRecord) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("activity record missing id")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("activity record %s: unknown type %q", r.ID, r.Type)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("activity record %s: missing title", r.ID)
	}
	switch r.Status {
	case ActivityStatusActive, ActivityStatusInactive:
	default:
		return fmt.Errorf("activity record %s: unknown status %q", r.ID, r.Status)
	}
	if r.PointValue < 0 {
		return fmt.Errorf("activity record %s: negative point value %d", r.ID, r.PointValue)
	}
	if (r.Quiz != nil && r.Type != ActivityQuiz) ||
		(r.Task != nil && r.Type != ActivityTask) ||
		(r.Form != nil && r.Type != ActivityForm) {
		return fmt.Errorf("activity record %s: variant payload does not match type %q", r.ID, r.Type)
	}
	return nil
}

// NormalizePoints coerces a loosely-typed point value into an int,
// defaulting anything non-numeric to 0.
func NormalizePoints(v any) int {
	switch n := v.(type) {
	case int:
		return maxInt(n, 0)
	case int64:
		return maxInt(int(n), 0)
	case float64:
		return maxInt(int(n), 0)
	case string:
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &i); err == nil {
			return maxInt(i, 0)
		}
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RecordFromQuiz projects a primary-store quiz row into its cache snapshot.
func RecordFromQuiz(q *Quiz, questionCount, maxScore int) ActivityRecord {
	return ActivityRecord{
		ID:         q.ID,
		Type:       ActivityQuiz,
		Title:      q.Title,
		PointValue: NormalizePoints(q.PointValue),
		Status:     q.Status,
		CreatedAt:  q.CreatedAt,
		Quiz:       &QuizInfo{QuestionCount: questionCount, MaxScore: maxScore},
	}
}

// RecordFromTask projects a primary-store task row into its cache snapshot.
func RecordFromTask(t *Task) ActivityRecord {
	return ActivityRecord{
		ID:         t.ID,
		Type:       ActivityTask,
		Title:      t.Title,
		PointValue: NormalizePoints(t.PointValue),
		Status:     t.Status,
		CreatedAt:  t.CreatedAt,
		Task:       &TaskInfo{Deadline: t.Deadline},
	}
}

// RecordFromForm projects a primary-store form row into its cache snapshot.
func RecordFromForm(f *Form, fieldCount int) ActivityRecord {
	return ActivityRecord{
		ID:         f.ID,
		Type:       ActivityForm,
		Title:      f.Title,
		PointValue: NormalizePoints(f.PointValue),
		Status:     f.Status,
		CreatedAt:  f.CreatedAt,
		Form:       &FormInfo{FieldCount: fieldCount},
	}
}
