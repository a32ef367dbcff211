package domain

import (
	"context"
	"errors"
	"regexp"
	"time"

	"gorm.io/gorm"
)

// Task statuses. A task moves pending -> processing -> completed|failed;
// the claim query is the only writer of the pending->processing edge.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const TypeGenerateCarePlan = "generate_care_plan"

// Task is a durable unit of background work. It survives restarts, unlike
// an in-process goroutine queue.
type Task struct {
	ID          int64      `json:"id" gorm:"primaryKey"`
	Type        string     `json:"type"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status" gorm:"index"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Task) TableName() string {
	return "tasks"
}

// TaskPayload is the JSON body of a generate_care_plan task.
type TaskPayload struct {
	Email       string `json:"email"`
	Transcript  string `json:"transcript"`
	SessionID   string `json:"session_id"`
	BlueprintID string `json:"blueprint_id"`
	HostURL     string `json:"host_url"`
}

// Blueprint is a finished care plan, addressable by its public ID.
type Blueprint struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	Email      string    `json:"email" gorm:"index"`
	SessionID  string    `json:"session_id"`
	Content    string    `json:"content"`
	Transcript string    `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Blueprint) TableName() string {
	return "blueprints"
}

type EnqueueResult struct {
	BlueprintID string `json:"blueprint_id"`
}

type Service interface {
	// Enqueue validates a session transcript and queues care-plan
	// generation. Returns immediately with the blueprint ID the plan
	// will be published under.
	Enqueue(ctx context.Context, email, transcript, hostURL string) (*EnqueueResult, error)

	// GetBlueprint loads a published care plan.
	GetBlueprint(ctx context.Context, id string) (*Blueprint, error)
}

type Repository interface {
	InsertTask(ctx context.Context, db *gorm.DB, task *Task) error

	// ClaimNextTask atomically moves the oldest pending task to
	// processing and returns it, or nil when the queue is empty.
	ClaimNextTask(ctx context.Context, db *gorm.DB, now time.Time) (*Task, error)

	CompleteTask(ctx context.Context, db *gorm.DB, id int64, now time.Time) error
	FailTask(ctx context.Context, db *gorm.DB, id int64, taskErr string, now time.Time) error

	UpsertBlueprint(ctx context.Context, db *gorm.DB, bp *Blueprint) error
	FindBlueprint(ctx context.Context, db *gorm.DB, id string) (*Blueprint, error)
}

var (
	ErrTranscriptTooShort = errors.New("transcript_too_short")
	ErrMissingTranscript  = errors.New("missing_transcript")
	ErrBlueprintNotFound  = errors.New("blueprint_not_found")
	ErrInvalidBlueprintID = errors.New("invalid_blueprint_id")
)

var blueprintIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidBlueprintID guards the public lookup path against traversal and
// junk identifiers.
func ValidBlueprintID(id string) bool {
	return id != "" && len(id) <= 100 && blueprintIDPattern.MatchString(id)
}
