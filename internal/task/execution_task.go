package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/diligence-api/internal/artifact"
	"github.com/phrazzld/diligence-api/internal/delivery"
	"github.com/phrazzld/diligence-api/internal/domain"
	"github.com/phrazzld/diligence-api/internal/pipeline"
	"github.com/phrazzld/diligence-api/internal/store"
)

// initialStage is the stage label recorded when execution begins, before
// the pipeline reports its own stages.
const initialStage = "initializing due diligence pipeline"

// Deliverer runs the report delivery step for a completed pipeline run.
type Deliverer interface {
	Deliver(ctx context.Context, taskID, subjectName string, artifacts map[string]string, recipientOverride string) delivery.Result
}

// ExecutionTask runs one due-diligence analysis end to end: pipeline,
// artifact persistence, report delivery, and the task's lifecycle writes.
type ExecutionTask struct {
	research  *domain.ResearchTask
	store     store.TaskStore
	pipeline  pipeline.Pipeline
	artifacts *artifact.Store
	delivery  Deliverer
	logger    *slog.Logger
}

// requestInput is the slice of the task's input payload the execution
// needs back out at delivery time.
type requestInput struct {
	RecipientEmail string `json:"recipient_email"`
}

// ID returns the task's unique identifier
func (t *ExecutionTask) ID() uuid.UUID {
	return t.research.ID
}

// Type returns the task type identifier
func (t *ExecutionTask) Type() string {
	return TaskTypeDueDiligence
}

// Execute runs the analysis and persists every lifecycle transition. The
// returned error reflects the run outcome; lifecycle writes that fail are
// logged and left for the stale-task sweep to reconcile.
func (t *ExecutionTask) Execute(ctx context.Context) error {
	log := t.logger.With(slog.String("task_id", t.research.ID.String()))

	if err := t.research.MarkInProgress(initialStage); err != nil {
		return fmt.Errorf("cannot start execution: %w", err)
	}
	if err := t.store.Update(ctx, t.research); err != nil {
		return fmt.Errorf("failed to mark task in progress: %w", err)
	}

	result, err := t.pipeline.Run(ctx, pipeline.Request{
		SubjectName:   t.research.SubjectName,
		SubjectURL:    t.research.SubjectURL,
		CorrelationID: t.research.ID.String(),
		OnStage: func(stage string) {
			t.updateStage(ctx, log, stage)
		},
	})
	if err != nil {
		t.failTask(ctx, log, err.Error())
		return err
	}

	saved := t.artifacts.PersistAll(t.research.ID.String(), t.artifacts.LatestArtifacts())

	output := &domain.TaskOutput{
		SchemaVersion: domain.OutputSchemaVersion,
		Messages:      result.Messages,
	}

	// A run that produced no files still succeeded; there is just nothing
	// to deliver.
	if len(saved) == 0 {
		log.Warn("pipeline produced no artifacts, skipping delivery")
		return t.succeed(ctx, log, output, saved)
	}

	deliveryResult := t.delivery.Deliver(ctx, t.research.ID.String(), t.research.SubjectName, saved, t.recipientOverride(log))
	if !deliveryResult.DocumentGenerated {
		t.failTask(ctx, log, deliveryResult.Err.Error())
		return deliveryResult.Err
	}

	saved[artifact.KindDocument] = deliveryResult.DocumentFilename
	output.NotificationSent = deliveryResult.NotificationSent

	extra := make(map[string]any)
	if deliveryResult.Recipient != "" {
		extra["notified_recipient"] = deliveryResult.Recipient
	}
	if deliveryResult.Detail != "" {
		extra["delivery_detail"] = deliveryResult.Detail
	}
	if len(extra) > 0 {
		output.Extra = extra
	}

	return t.succeed(ctx, log, output, saved)
}

// updateStage persists the task's current pipeline stage. Stage writes are
// best-effort progress reporting; a failed write never aborts the run.
func (t *ExecutionTask) updateStage(ctx context.Context, log *slog.Logger, stage string) {
	if err := t.research.MarkInProgress(stage); err != nil {
		log.Warn("cannot update stage", slog.String("error", err.Error()))
		return
	}
	if err := t.store.Update(ctx, t.research); err != nil {
		log.Warn("failed to persist stage update",
			slog.String("stage", stage),
			slog.String("error", err.Error()))
	}
}

// succeed transitions the task to success. If the final write fails the
// task stays in_progress and the stale-task sweep picks it up later.
func (t *ExecutionTask) succeed(ctx context.Context, log *slog.Logger, output *domain.TaskOutput, artifacts map[string]string) error {
	if err := t.research.MarkSuccess(output, artifacts); err != nil {
		return fmt.Errorf("cannot finalize task: %w", err)
	}
	if err := t.store.Update(ctx, t.research); err != nil {
		log.Error("failed to persist task success", slog.String("error", err.Error()))
		return fmt.Errorf("failed to persist task success: %w", err)
	}

	log.Info("due diligence task succeeded",
		slog.Int("artifact_count", len(artifacts)),
		slog.Bool("notification_sent", output.NotificationSent))
	return nil
}

// failTask transitions the task to error.
func (t *ExecutionTask) failTask(ctx context.Context, log *slog.Logger, message string) {
	if err := t.research.MarkError(message); err != nil {
		log.Error("cannot mark task as failed", slog.String("error", err.Error()))
		return
	}
	if err := t.store.Update(ctx, t.research); err != nil {
		log.Error("failed to persist task failure", slog.String("error", err.Error()))
	}
}

// recipientOverride extracts the per-request notification recipient from
// the task's input payload, if one was provided.
func (t *ExecutionTask) recipientOverride(log *slog.Logger) string {
	if len(t.research.InputData) == 0 {
		return ""
	}

	var input requestInput
	if err := json.Unmarshal(t.research.InputData, &input); err != nil {
		log.Warn("failed to parse task input payload", slog.String("error", err.Error()))
		return ""
	}

	return input.RecipientEmail
}

// ExecutionFactory builds ExecutionTasks wired to the application's
// pipeline, stores, and delivery service.
type ExecutionFactory struct {
	store     store.TaskStore
	pipeline  pipeline.Pipeline
	artifacts *artifact.Store
	delivery  Deliverer
	logger    *slog.Logger
}

// NewExecutionFactory creates a factory for due-diligence execution tasks.
func NewExecutionFactory(
	taskStore store.TaskStore,
	analysis pipeline.Pipeline,
	artifacts *artifact.Store,
	deliverer Deliverer,
	logger *slog.Logger,
) *ExecutionFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionFactory{
		store:     taskStore,
		pipeline:  analysis,
		artifacts: artifacts,
		delivery:  deliverer,
		logger:    logger,
	}
}

// NewExecution wraps a persisted research task in an executable task.
func (f *ExecutionFactory) NewExecution(research *domain.ResearchTask) Task {
	return &ExecutionTask{
		research:  research,
		store:     f.store,
		pipeline:  f.pipeline,
		artifacts: f.artifacts,
		delivery:  f.delivery,
		logger:    f.logger,
	}
}
