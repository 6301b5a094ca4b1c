package domain

import (
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a research task
type TaskStatus string

// Possible task status values. Queued and in_progress are transient;
// success and error are terminal.
const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusSuccess    TaskStatus = "success"
	TaskStatusError      TaskStatus = "error"
)

// MaxSubjectNameLength bounds the subject name accepted at task creation.
const MaxSubjectNameLength = 255

// Common validation errors for ResearchTask
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptySubjectName   = errors.New("subject name cannot be empty")
	ErrSubjectNameTooLong = errors.New("subject name exceeds maximum length")
	ErrInvalidSubjectURL  = errors.New("subject URL is not a valid absolute URL")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrTerminalStatus     = errors.New("task is already in a terminal status")
)

// OutputSchemaVersion is the current version of the TaskOutput schema.
const OutputSchemaVersion = 1

// Message is one entry of the ordered conversation produced by the
// analysis pipeline.
type Message struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// TaskOutput is the versioned success payload stored on a completed task.
// Known fields are stable; Extra carries forward-compatible extensions.
type TaskOutput struct {
	SchemaVersion    int            `json:"schema_version"`
	Messages         []Message      `json:"messages"`
	NotificationSent bool           `json:"notification_sent"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// ResearchTask represents one due-diligence analysis request and its
// progress through the task lifecycle. Status transitions are monotonic:
// queued -> in_progress -> success|error, and never leave a terminal state.
type ResearchTask struct {
	ID           uuid.UUID         `json:"id"`
	SubjectName  string            `json:"subject_name"`
	SubjectURL   string            `json:"subject_url,omitempty"`
	Status       TaskStatus        `json:"status"`
	CurrentStage string            `json:"current_stage,omitempty"`
	InputData    json.RawMessage   `json:"input_data"`
	Output       *TaskOutput       `json:"output,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// NewResearchTask creates a queued task for the given subject.
// It generates a new UUID, snapshots the request input, and sets the
// creation timestamps. Returns an error if validation fails.
func NewResearchTask(subjectName, subjectURL string, inputData json.RawMessage) (*ResearchTask, error) {
	now := time.Now().UTC()
	task := &ResearchTask{
		ID:          uuid.New(),
		SubjectName: subjectName,
		SubjectURL:  subjectURL,
		Status:      TaskStatusQueued,
		InputData:   inputData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the ResearchTask has valid data.
// Returns an error if any field fails validation.
func (t *ResearchTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.SubjectName == "" {
		return ErrEmptySubjectName
	}

	if len(t.SubjectName) > MaxSubjectNameLength {
		return ErrSubjectNameTooLong
	}

	if t.SubjectURL != "" {
		u, err := url.Parse(t.SubjectURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return ErrInvalidSubjectURL
		}
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// IsTerminal reports whether the task has reached success or error.
func (t *ResearchTask) IsTerminal() bool {
	return t.Status == TaskStatusSuccess || t.Status == TaskStatusError
}

// MarkInProgress transitions the task to in_progress with the given stage
// label. Returns ErrTerminalStatus if the task is already terminal.
func (t *ResearchTask) MarkInProgress(stage string) error {
	if t.IsTerminal() {
		return ErrTerminalStatus
	}

	t.Status = TaskStatusInProgress
	t.CurrentStage = stage
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSuccess transitions the task to its success terminal state, setting
// the output payload and artifact map and stamping CompletedAt exactly once.
func (t *ResearchTask) MarkSuccess(output *TaskOutput, artifacts map[string]string) error {
	if t.IsTerminal() {
		return ErrTerminalStatus
	}

	now := time.Now().UTC()
	t.Status = TaskStatusSuccess
	t.CurrentStage = "completed"
	t.Output = output
	t.Artifacts = artifacts
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

// MarkError transitions the task to its error terminal state, recording the
// failure message and stamping CompletedAt exactly once. Artifacts and
// output remain unset on errored tasks.
func (t *ResearchTask) MarkError(message string) error {
	if t.IsTerminal() {
		return ErrTerminalStatus
	}

	now := time.Now().UTC()
	t.Status = TaskStatusError
	t.ErrorMessage = message
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

// NotificationSent reports whether a delivery notification went out for
// this task. False for tasks without an output payload.
func (t *ResearchTask) NotificationSent() bool {
	return t.Output != nil && t.Output.NotificationSent
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusQueued, TaskStatusInProgress, TaskStatusSuccess, TaskStatusError:
		return true
	default:
		return false
	}
}
