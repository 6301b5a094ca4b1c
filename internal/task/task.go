package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task type constants
const (
	// TaskTypeDueDiligence represents the background execution of one
	// due-diligence analysis run.
	TaskTypeDueDiligence = "due_diligence"
)

// Task represents a unit of background work to be processed
type Task interface {
	// ID returns the task's unique identifier
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// Execute runs the task logic. The task is responsible for persisting
	// its own lifecycle transitions; the runner only schedules and logs.
	Execute(ctx context.Context) error
}

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// StaleTaskAge defines how long a task can sit in in_progress before
	// the reconciliation sweep marks it failed
	StaleTaskAge time.Duration

	// StaleCheckInterval defines how often the sweep runs.
	// If zero, defaults to 5 minutes
	StaleCheckInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:        2,
		QueueSize:          100,
		StaleTaskAge:       2 * time.Hour,
		StaleCheckInterval: 10 * time.Minute,
	}
}
