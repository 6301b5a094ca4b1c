package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/diligence-api/internal/domain"
)

// TaskStore defines the interface for persisting research tasks.
// Implementations must serialize updates per task identifier; by contract
// only one background execution writes a given task's lifecycle fields.
type TaskStore interface {
	// Create saves a new research task to the store.
	// Returns validation errors from the domain task if data is invalid.
	Create(ctx context.Context, task *domain.ResearchTask) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ResearchTask, error)

	// Update saves the task's mutable lifecycle fields (status, stage,
	// output, error message, artifacts, timestamps).
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, task *domain.ResearchTask) error

	// List retrieves tasks ordered by creation time, newest first,
	// bounded by limit and skipping offset rows.
	List(ctx context.Context, limit, offset int) ([]*domain.ResearchTask, error)

	// ListByStatus retrieves tasks with the given status, newest first.
	// If olderThan is non-zero, only tasks whose last update is older than
	// the given duration are returned.
	ListByStatus(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) ([]*domain.ResearchTask, error)

	// Delete removes a task from the store.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}
