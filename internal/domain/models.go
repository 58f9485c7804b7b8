package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Primary-store documents. Everything in internal/cache and
// internal/projection is a disposable projection of these rows.

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email       string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	DisplayName string    `gorm:"not null;column:display_name" json:"display_name"`
	Role        string    `gorm:"not null;default:user;column:role" json:"role"`
	Points      int       `gorm:"not null;default:0;column:points" json:"points"`
	Eligible    bool      `gorm:"not null;default:true;column:eligible" json:"eligible"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// PendingUser is a registration awaiting admin approval. Counted separately
// in the aggregate stats, never part of fan-out.
type PendingUser struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email       string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	DisplayName string    `gorm:"column:display_name" json:"display_name"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

type Admin struct {
	ID    uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email string    `gorm:"uniqueIndex;not null;column:email" json:"email"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

const (
	ActivityStatusActive   = "active"
	ActivityStatusInactive = "inactive"
)

type Quiz struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title      string         `gorm:"not null;column:title" json:"title"`
	PointValue int            `gorm:"not null;default:0;column:point_value" json:"point_value"`
	Status     string         `gorm:"not null;default:active;column:status" json:"status"`
	Questions  datatypes.JSON `gorm:"column:questions" json:"questions"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type Task struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title      string     `gorm:"not null;column:title" json:"title"`
	PointValue int        `gorm:"not null;default:0;column:point_value" json:"point_value"`
	Status     string     `gorm:"not null;default:active;column:status" json:"status"`
	Deadline   *time.Time `gorm:"column:deadline" json:"deadline,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type Form struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title      string         `gorm:"not null;column:title" json:"title"`
	PointValue int            `gorm:"not null;default:0;column:point_value" json:"point_value"`
	Status     string         `gorm:"not null;default:active;column:status" json:"status"`
	Fields     datatypes.JSON `gorm:"column:fields" json:"fields"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

const (
	SubmissionStatusPending  = "pending"
	SubmissionStatusApproved = "approved"
	SubmissionStatusRejected = "rejected"
)

// Submission is a task submission awaiting admin review.
type Submission struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID  uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	TaskID  uuid.UUID `gorm:"type:uuid;not null;index;column:task_id" json:"task_id"`
	Status  string    `gorm:"not null;default:pending;column:status" json:"status"`
	Content string    `gorm:"column:content" json:"content"`

	SubmittedAt time.Time `gorm:"not null;default:now();column:submitted_at" json:"submitted_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

// QuizSubmission is final on first write; quizzes cannot be retaken.
type QuizSubmission struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	QuizID uuid.UUID `gorm:"type:uuid;not null;index;column:quiz_id" json:"quiz_id"`
	Score  int       `gorm:"not null;default:0;column:score" json:"score"`

	SubmittedAt time.Time `gorm:"not null;default:now();column:submitted_at" json:"submitted_at"`
}

type FormSubmission struct {
	ID      uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID  uuid.UUID      `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	FormID  uuid.UUID      `gorm:"type:uuid;not null;index;column:form_id" json:"form_id"`
	Answers datatypes.JSON `gorm:"column:answers" json:"answers"`

	SubmittedAt time.Time `gorm:"not null;default:now();column:submitted_at" json:"submitted_at"`
}
