package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/diligence-api/internal/artifact"
	"github.com/phrazzld/diligence-api/internal/domain"
	"github.com/phrazzld/diligence-api/internal/store"
	"github.com/phrazzld/diligence-api/internal/task"
)

// TaskRunner defines the interface for submitting background tasks
type TaskRunner interface {
	// Submit adds a task to the processing queue
	Submit(ctx context.Context, task task.Task) error
}

// Common sentinel errors for ResearchService
var (
	// ErrTaskNotFound indicates that the research task does not exist
	ErrTaskNotFound = errors.New("research task not found")

	// ErrQueueFull indicates the background queue cannot accept more work
	ErrQueueFull = errors.New("task queue is full")
)

// defaultHistoryLimit bounds history queries that pass no explicit limit.
const defaultHistoryLimit = 50

// StartRequest carries the caller's input for a new due-diligence run.
type StartRequest struct {
	SubjectName    string `json:"subject_name"`
	SubjectURL     string `json:"subject_url,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`
}

// ResearchService provides research task operations
type ResearchService interface {
	// StartResearch creates a queued research task and schedules its
	// background execution. The returned task reflects the queued state.
	StartResearch(ctx context.Context, req StartRequest) (*domain.ResearchTask, error)

	// GetTask retrieves a research task by its ID
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.ResearchTask, error)

	// ListTasks retrieves tasks ordered newest first
	ListTasks(ctx context.Context, limit, offset int) ([]*domain.ResearchTask, error)

	// DeleteTask removes a task record and its stored artifacts
	DeleteTask(ctx context.Context, taskID uuid.UUID) error
}

// ResearchServiceError wraps errors from the research service with context.
type ResearchServiceError struct {
	// Operation is the operation that failed (e.g., "start_research")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ResearchServiceError.
func (e *ResearchServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("research service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("research service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ResearchServiceError) Unwrap() error {
	return e.Err
}

// NewResearchServiceError creates a new ResearchServiceError.
// It returns known sentinel errors directly without wrapping.
func NewResearchServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTaskNotFound) {
		return ErrTaskNotFound
	}

	if errors.Is(err, store.ErrTaskNotFound) {
		return ErrTaskNotFound
	}

	return &ResearchServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// researchServiceImpl implements the ResearchService interface
type researchServiceImpl struct {
	taskStore store.TaskStore
	runner    TaskRunner
	factory   task.Factory
	artifacts *artifact.Store
	logger    *slog.Logger
}

// NewResearchService creates a new ResearchService.
// It returns an error if any of the required dependencies are nil.
func NewResearchService(
	taskStore store.TaskStore,
	runner TaskRunner,
	factory task.Factory,
	artifacts *artifact.Store,
	logger *slog.Logger,
) (ResearchService, error) {
	if taskStore == nil {
		return nil, &ResearchServiceError{
			Operation: "create_service",
			Message:   "taskStore cannot be nil",
		}
	}
	if runner == nil {
		return nil, &ResearchServiceError{
			Operation: "create_service",
			Message:   "runner cannot be nil",
		}
	}
	if factory == nil {
		return nil, &ResearchServiceError{
			Operation: "create_service",
			Message:   "factory cannot be nil",
		}
	}
	if artifacts == nil {
		return nil, &ResearchServiceError{
			Operation: "create_service",
			Message:   "artifacts cannot be nil",
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &researchServiceImpl{
		taskStore: taskStore,
		runner:    runner,
		factory:   factory,
		artifacts: artifacts,
		logger:    logger.With("component", "research_service"),
	}, nil
}

// StartResearch creates a queued research task and submits it to the
// background runner. Domain validation errors pass through unwrapped so
// the HTTP layer can map them to client errors.
func (s *researchServiceImpl) StartResearch(ctx context.Context, req StartRequest) (*domain.ResearchTask, error) {
	inputData, err := json.Marshal(req)
	if err != nil {
		return nil, NewResearchServiceError("start_research", "failed to encode request payload", err)
	}

	research, err := domain.NewResearchTask(req.SubjectName, req.SubjectURL, inputData)
	if err != nil {
		s.logger.Warn("rejected invalid research request",
			"error", err,
			"subject_name", req.SubjectName)
		return nil, err
	}

	if err := s.taskStore.Create(ctx, research); err != nil {
		s.logger.Error("failed to persist research task",
			"error", err,
			"task_id", research.ID)
		return nil, NewResearchServiceError("start_research", "failed to save research task", err)
	}

	if err := s.runner.Submit(ctx, s.factory.NewExecution(research)); err != nil {
		s.logger.Error("failed to schedule research task",
			"error", err,
			"task_id", research.ID)

		// The record exists but will never run; fail it so callers are
		// not left polling a permanently queued task.
		if markErr := research.MarkError("task could not be scheduled: queue is full"); markErr == nil {
			if updateErr := s.taskStore.Update(ctx, research); updateErr != nil {
				s.logger.Error("failed to persist scheduling failure",
					"error", updateErr,
					"task_id", research.ID)
			}
		}

		return nil, fmt.Errorf("%w: %v", ErrQueueFull, err)
	}

	s.logger.Info("research task queued",
		"task_id", research.ID,
		"subject_name", research.SubjectName)

	return research, nil
}

// GetTask retrieves a research task by its ID
func (s *researchServiceImpl) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.ResearchTask, error) {
	research, err := s.taskStore.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		s.logger.Error("failed to retrieve research task",
			"error", err,
			"task_id", taskID)
		return nil, NewResearchServiceError("get_task", "failed to retrieve research task", err)
	}

	return research, nil
}

// ListTasks retrieves tasks ordered newest first
func (s *researchServiceImpl) ListTasks(ctx context.Context, limit, offset int) ([]*domain.ResearchTask, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks, err := s.taskStore.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list research tasks", "error", err)
		return nil, NewResearchServiceError("list_tasks", "failed to list research tasks", err)
	}

	return tasks, nil
}

// DeleteTask removes a task record along with its stored artifacts.
func (s *researchServiceImpl) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	if err := s.taskStore.Delete(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return ErrTaskNotFound
		}
		s.logger.Error("failed to delete research task",
			"error", err,
			"task_id", taskID)
		return NewResearchServiceError("delete_task", "failed to delete research task", err)
	}

	if err := s.artifacts.DeleteAll(taskID.String()); err != nil {
		// The record is gone; orphaned files are a cleanup concern, not
		// a failed deletion.
		s.logger.Warn("failed to delete task artifacts",
			"error", err,
			"task_id", taskID)
	}

	s.logger.Info("research task deleted", "task_id", taskID)
	return nil
}
