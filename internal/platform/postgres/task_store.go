package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/diligence-api/internal/domain"
	"github.com/phrazzld/diligence-api/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the
// TaskStore interface. It accepts a database connection or transaction that
// should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore.Create
// It saves a new research task to the database, handling domain validation.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.ResearchTask) error {
	if err := task.Validate(); err != nil {
		s.logger.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	outputJSON, artifactsJSON, err := marshalTaskPayloads(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO research_tasks
			(id, subject_name, subject_url, status, current_stage, input_data,
			 output_data, error_message, artifacts, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.SubjectName,
		nullString(task.SubjectURL),
		task.Status,
		nullString(task.CurrentStage),
		[]byte(task.InputData),
		outputJSON,
		nullString(task.ErrorMessage),
		artifactsJSON,
		task.CreatedAt,
		task.UpdatedAt,
		task.CompletedAt,
	)

	if err != nil {
		s.logger.Error("failed to create research task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	s.logger.Info("research task created",
		slog.String("task_id", task.ID.String()),
		slog.String("subject_name", task.SubjectName),
		slog.String("status", string(task.Status)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
// It retrieves a task by its unique ID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ResearchTask, error) {
	query := selectColumns + `
		FROM research_tasks
		WHERE id = $1
	`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("research task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		s.logger.Error("failed to get research task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	return task, nil
}

// Update implements store.TaskStore.Update
// It saves the task's mutable lifecycle fields.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.ResearchTask) error {
	if err := task.Validate(); err != nil {
		s.logger.Warn("task validation failed during update",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	outputJSON, artifactsJSON, err := marshalTaskPayloads(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE research_tasks
		SET status = $1, current_stage = $2, output_data = $3,
		    error_message = $4, artifacts = $5, updated_at = $6, completed_at = $7
		WHERE id = $8
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		task.Status,
		nullString(task.CurrentStage),
		outputJSON,
		nullString(task.ErrorMessage),
		artifactsJSON,
		task.UpdatedAt,
		task.CompletedAt,
		task.ID,
	)

	if err != nil {
		s.logger.Error("failed to update research task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("status", string(task.Status)))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "research task"); err != nil {
		s.logger.Debug("research task not found for update",
			slog.String("task_id", task.ID.String()))
		return store.ErrTaskNotFound
	}

	s.logger.Info("research task updated",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// List implements store.TaskStore.List
// It retrieves tasks ordered by creation time, newest first.
// Returns an empty slice if no tasks exist.
func (s *PostgresTaskStore) List(ctx context.Context, limit, offset int) ([]*domain.ResearchTask, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := selectColumns + `
		FROM research_tasks
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		s.logger.Error("failed to list research tasks", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return s.collectTasks(rows)
}

// ListByStatus implements store.TaskStore.ListByStatus
// It retrieves tasks with the given status, newest first. A non-zero
// olderThan restricts results to tasks last updated before that cutoff.
func (s *PostgresTaskStore) ListByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
) ([]*domain.ResearchTask, error) {
	cutoff := time.Now().UTC()
	if olderThan > 0 {
		cutoff = cutoff.Add(-olderThan)
	}

	query := selectColumns + `
		FROM research_tasks
		WHERE status = $1 AND updated_at <= $2
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, status, cutoff)
	if err != nil {
		s.logger.Error("failed to list research tasks by status",
			slog.String("error", err.Error()),
			slog.String("status", string(status)))
		return nil, MapError(err)
	}

	return s.collectTasks(rows)
}

// Delete implements store.TaskStore.Delete
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM research_tasks WHERE id = $1`, id)
	if err != nil {
		s.logger.Error("failed to delete research task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "research task"); err != nil {
		return store.ErrTaskNotFound
	}

	s.logger.Info("research task deleted", slog.String("task_id", id.String()))
	return nil
}

const selectColumns = `
		SELECT id, subject_name, subject_url, status, current_stage, input_data,
		       output_data, error_message, artifacts, created_at, updated_at, completed_at`

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one research task row, decoding the JSONB payloads.
func scanTask(row rowScanner) (*domain.ResearchTask, error) {
	var (
		task         domain.ResearchTask
		status       string
		subjectURL   sql.NullString
		currentStage sql.NullString
		inputData    []byte
		outputData   []byte
		errorMessage sql.NullString
		artifacts    []byte
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.SubjectName,
		&subjectURL,
		&status,
		&currentStage,
		&inputData,
		&outputData,
		&errorMessage,
		&artifacts,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.SubjectURL = subjectURL.String
	task.CurrentStage = currentStage.String
	task.InputData = json.RawMessage(inputData)
	task.ErrorMessage = errorMessage.String

	if len(outputData) > 0 {
		var output domain.TaskOutput
		if err := json.Unmarshal(outputData, &output); err != nil {
			return nil, fmt.Errorf("failed to decode task output payload: %w", err)
		}
		task.Output = &output
	}

	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &task.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to decode task artifact map: %w", err)
		}
	}

	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}

// collectTasks drains a result set into a slice of tasks.
func (s *PostgresTaskStore) collectTasks(rows *sql.Rows) ([]*domain.ResearchTask, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var tasks []*domain.ResearchTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			s.logger.Error("failed to scan research task row", slog.String("error", err.Error()))
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("error after scanning rows", slog.String("error", err.Error()))
		return nil, err
	}

	if tasks == nil {
		tasks = []*domain.ResearchTask{}
	}

	return tasks, nil
}

// marshalTaskPayloads encodes the nullable JSONB columns for storage.
func marshalTaskPayloads(task *domain.ResearchTask) (output, artifacts []byte, err error) {
	if task.Output != nil {
		output, err = json.Marshal(task.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode task output payload: %w", err)
		}
	}

	if task.Artifacts != nil {
		artifacts, err = json.Marshal(task.Artifacts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode task artifact map: %w", err)
		}
	}

	return output, artifacts, nil
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
