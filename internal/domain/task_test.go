package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResearchTask(t *testing.T) {
	t.Parallel()

	t.Run("creates queued task with valid input", func(t *testing.T) {
		t.Parallel()

		input := json.RawMessage(`{"subject_name":"Acme"}`)
		task, err := NewResearchTask("Acme", "https://acme.example.com", input)

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, task.ID)
		assert.Equal(t, TaskStatusQueued, task.Status)
		assert.Equal(t, "Acme", task.SubjectName)
		assert.Equal(t, "https://acme.example.com", task.SubjectURL)
		assert.Nil(t, task.CompletedAt)
		assert.Nil(t, task.Artifacts)
		assert.False(t, task.CreatedAt.IsZero())
	})

	t.Run("generates unique identifiers", func(t *testing.T) {
		t.Parallel()

		seen := make(map[uuid.UUID]bool)
		for i := 0; i < 10; i++ {
			task, err := NewResearchTask("Acme", "", nil)
			require.NoError(t, err)
			assert.False(t, seen[task.ID])
			seen[task.ID] = true
		}
	})

	t.Run("rejects empty subject name", func(t *testing.T) {
		t.Parallel()

		_, err := NewResearchTask("", "", nil)
		assert.ErrorIs(t, err, ErrEmptySubjectName)
	})

	t.Run("rejects overlong subject name", func(t *testing.T) {
		t.Parallel()

		name := make([]byte, MaxSubjectNameLength+1)
		for i := range name {
			name[i] = 'a'
		}
		_, err := NewResearchTask(string(name), "", nil)
		assert.ErrorIs(t, err, ErrSubjectNameTooLong)
	})

	t.Run("rejects malformed subject URL", func(t *testing.T) {
		t.Parallel()

		for _, bad := range []string{"not a url", "/relative/path", "example.com"} {
			_, err := NewResearchTask("Acme", bad, nil)
			assert.ErrorIs(t, err, ErrInvalidSubjectURL, "url: %q", bad)
		}
	})

	t.Run("accepts empty subject URL", func(t *testing.T) {
		t.Parallel()

		task, err := NewResearchTask("Acme", "", nil)
		require.NoError(t, err)
		assert.Empty(t, task.SubjectURL)
	})
}

func TestResearchTask_Transitions(t *testing.T) {
	t.Parallel()

	newTask := func(t *testing.T) *ResearchTask {
		t.Helper()
		task, err := NewResearchTask("Acme", "", nil)
		require.NoError(t, err)
		return task
	}

	t.Run("queued to in_progress", func(t *testing.T) {
		t.Parallel()

		task := newTask(t)
		err := task.MarkInProgress("initializing due diligence pipeline")

		require.NoError(t, err)
		assert.Equal(t, TaskStatusInProgress, task.Status)
		assert.Equal(t, "initializing due diligence pipeline", task.CurrentStage)
		assert.Nil(t, task.CompletedAt)
	})

	t.Run("in_progress to success sets completed_at once", func(t *testing.T) {
		t.Parallel()

		task := newTask(t)
		require.NoError(t, task.MarkInProgress("running"))

		output := &TaskOutput{SchemaVersion: OutputSchemaVersion, NotificationSent: true}
		artifacts := map[string]string{"report": "investment_report_20260101_000000.html"}
		require.NoError(t, task.MarkSuccess(output, artifacts))

		assert.Equal(t, TaskStatusSuccess, task.Status)
		assert.Equal(t, "completed", task.CurrentStage)
		assert.Equal(t, artifacts, task.Artifacts)
		require.NotNil(t, task.CompletedAt)
		assert.True(t, task.NotificationSent())

		first := *task.CompletedAt
		assert.ErrorIs(t, task.MarkSuccess(output, nil), ErrTerminalStatus)
		assert.Equal(t, first, *task.CompletedAt)
	})

	t.Run("in_progress to error records message", func(t *testing.T) {
		t.Parallel()

		task := newTask(t)
		require.NoError(t, task.MarkInProgress("running"))
		require.NoError(t, task.MarkError("timeout"))

		assert.Equal(t, TaskStatusError, task.Status)
		assert.Equal(t, "timeout", task.ErrorMessage)
		assert.Nil(t, task.Artifacts)
		require.NotNil(t, task.CompletedAt)
	})

	t.Run("terminal states never revert", func(t *testing.T) {
		t.Parallel()

		task := newTask(t)
		require.NoError(t, task.MarkError("boom"))

		assert.ErrorIs(t, task.MarkInProgress("again"), ErrTerminalStatus)
		assert.ErrorIs(t, task.MarkSuccess(nil, nil), ErrTerminalStatus)
		assert.ErrorIs(t, task.MarkError("again"), ErrTerminalStatus)
		assert.Equal(t, TaskStatusError, task.Status)
	})

	t.Run("success with empty artifact map", func(t *testing.T) {
		t.Parallel()

		task := newTask(t)
		require.NoError(t, task.MarkInProgress("running"))
		require.NoError(t, task.MarkSuccess(&TaskOutput{SchemaVersion: OutputSchemaVersion}, map[string]string{}))

		assert.Equal(t, TaskStatusSuccess, task.Status)
		assert.Empty(t, task.Artifacts)
		assert.False(t, task.NotificationSent())
	})
}

func TestResearchTask_Validate(t *testing.T) {
	t.Parallel()

	task := &ResearchTask{
		ID:          uuid.New(),
		SubjectName: "Acme",
		Status:      TaskStatus("bogus"),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	assert.ErrorIs(t, task.Validate(), ErrInvalidTaskStatus)

	task.Status = TaskStatusQueued
	task.ID = uuid.Nil
	assert.ErrorIs(t, task.Validate(), ErrEmptyTaskID)
}
