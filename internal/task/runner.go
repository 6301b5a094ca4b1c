package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/diligence-api/internal/domain"
	"github.com/phrazzld/diligence-api/internal/store"
)

// Factory builds executable tasks from persisted research task records.
// The runner uses it to requeue work recovered after a restart.
type Factory interface {
	NewExecution(research *domain.ResearchTask) Task
}

// Runner manages background task processing
type Runner struct {
	store      store.TaskStore
	factory    Factory
	taskChan   chan Task
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     RunnerConfig
	logger     *slog.Logger
	errHandler func(task Task, err error)
}

// NewRunner creates a new Runner
func NewRunner(taskStore store.TaskStore, factory Factory, config RunnerConfig, logger *slog.Logger) *Runner {
	// Apply default check interval if not specified
	if config.StaleCheckInterval == 0 {
		config.StaleCheckInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		store:      taskStore,
		factory:    factory,
		taskChan:   make(chan Task, config.QueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
		wg:         sync.WaitGroup{},
		config:     config,
		logger:     logger,
		errHandler: func(task Task, err error) {
			// Default error handler just logs the error
			logger.Error("task execution failed",
				"task_id", task.ID(),
				"task_type", task.Type(),
				"error", err)
		},
	}
}

// SetErrorHandler allows setting a custom error handler function
func (r *Runner) SetErrorHandler(handler func(task Task, err error)) {
	r.errHandler = handler
}

// Submit adds a task to the queue. The task record must already be
// persisted; Submit only schedules the in-memory execution.
func (r *Runner) Submit(_ context.Context, task Task) error {
	select {
	case r.taskChan <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full, try again later")
	}
}

// Start initializes the worker pool and begins processing tasks
func (r *Runner) Start() error {
	// Reconcile unfinished tasks from previous runs
	if err := r.Recover(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	// Start worker goroutines
	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	// Start goroutine that reconciles stale in_progress tasks periodically
	r.wg.Add(1)
	go r.staleTaskMonitor()

	return nil
}

// Stop gracefully shuts down the task runner
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	close(r.taskChan)
}

// Recover reconciles tasks left unfinished by a previous process. Queued
// tasks are requeued for execution. In-progress tasks cannot be resumed
// mid-pipeline, so they are marked failed rather than left to stall
// forever.
func (r *Runner) Recover() error {
	ctx := context.Background()

	queued, err := r.store.ListByStatus(ctx, domain.TaskStatusQueued, 0)
	if err != nil {
		return fmt.Errorf("failed to list queued tasks: %w", err)
	}

	inProgress, err := r.store.ListByStatus(ctx, domain.TaskStatusInProgress, 0)
	if err != nil {
		return fmt.Errorf("failed to list in-progress tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks",
		"queued_count", len(queued),
		"in_progress_count", len(inProgress))

	for _, research := range queued {
		execution := r.factory.NewExecution(research)
		select {
		case r.taskChan <- execution:
			// Successfully requeued
		default:
			r.logger.Error("failed to requeue task, queue is full",
				"task_id", research.ID)
		}
	}

	for _, research := range inProgress {
		r.failStaleTask(ctx, research, "task interrupted by service restart")
	}

	return nil
}

// worker processes tasks from the queue
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return

		case task, ok := <-r.taskChan:
			if !ok {
				r.logger.Debug("task channel closed, stopping worker", "worker_id", id)
				return
			}

			r.processTask(task, id)
		}
	}
}

// processTask handles execution of a single task. Lifecycle persistence
// lives inside the task itself; the runner handles scheduling and the
// error hook.
func (r *Runner) processTask(task Task, workerID int) {
	logger := r.logger.With(
		"task_id", task.ID(),
		"task_type", task.Type(),
		"worker_id", workerID,
	)

	logger.Info("processing task")

	if err := task.Execute(context.Background()); err != nil {
		logger.Error("task execution failed", "error", err)
		r.errHandler(task, err)
		return
	}

	logger.Info("task completed successfully")
}

// staleTaskMonitor periodically marks tasks failed that have been in
// in_progress state for too long, typically because a final status write
// failed or a worker died mid-run.
func (r *Runner) staleTaskMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			ctx := context.Background()

			stale, err := r.store.ListByStatus(ctx, domain.TaskStatusInProgress, r.config.StaleTaskAge)
			if err != nil {
				r.logger.Error("failed to check for stale tasks", "error", err)
				continue
			}

			if len(stale) == 0 {
				continue
			}

			r.logger.Info("found stale tasks", "count", len(stale))
			for _, research := range stale {
				r.failStaleTask(ctx, research, "task stalled in in_progress state")
			}
		}
	}
}

// failStaleTask transitions an unfinishable task to its error state.
func (r *Runner) failStaleTask(ctx context.Context, research *domain.ResearchTask, reason string) {
	if err := research.MarkError(reason); err != nil {
		r.logger.Error("failed to mark task as failed",
			"task_id", research.ID,
			"error", err)
		return
	}

	if err := r.store.Update(ctx, research); err != nil {
		r.logger.Error("failed to persist failed task status",
			"task_id", research.ID,
			"error", err)
		return
	}

	r.logger.Info("marked unfinishable task as failed",
		"task_id", research.ID,
		"reason", reason)
}
