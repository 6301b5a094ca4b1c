package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/diligence-api/internal/artifact"
	"github.com/phrazzld/diligence-api/internal/domain"
	"github.com/phrazzld/diligence-api/internal/store"
	"github.com/phrazzld/diligence-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryTaskStore is an in-memory store.TaskStore.
type memoryTaskStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]*domain.ResearchTask
	order     []uuid.UUID
	createErr error
}

func newMemoryTaskStore() *memoryTaskStore {
	return &memoryTaskStore{tasks: make(map[uuid.UUID]*domain.ResearchTask)}
}

func (m *memoryTaskStore) Create(_ context.Context, research *domain.ResearchTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	copied := *research
	m.tasks[research.ID] = &copied
	m.order = append(m.order, research.ID)
	return nil
}

func (m *memoryTaskStore) GetByID(_ context.Context, id uuid.UUID) (*domain.ResearchTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	research, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	copied := *research
	return &copied, nil
}

func (m *memoryTaskStore) Update(_ context.Context, research *domain.ResearchTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[research.ID]; !ok {
		return store.ErrTaskNotFound
	}
	copied := *research
	m.tasks[research.ID] = &copied
	return nil
}

func (m *memoryTaskStore) List(_ context.Context, limit, offset int) ([]*domain.ResearchTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Newest first
	var tasks []*domain.ResearchTask
	for i := len(m.order) - 1; i >= 0; i-- {
		copied := *m.tasks[m.order[i]]
		tasks = append(tasks, &copied)
	}

	if offset >= len(tasks) {
		return nil, nil
	}
	tasks = tasks[offset:]
	if limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (m *memoryTaskStore) ListByStatus(_ context.Context, status domain.TaskStatus, _ time.Duration) ([]*domain.ResearchTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []*domain.ResearchTask
	for _, research := range m.tasks {
		if research.Status == status {
			copied := *research
			tasks = append(tasks, &copied)
		}
	}
	return tasks, nil
}

func (m *memoryTaskStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

// stubRunner records submitted tasks and optionally rejects them.
type stubRunner struct {
	err       error
	submitted []task.Task
}

func (r *stubRunner) Submit(_ context.Context, t task.Task) error {
	if r.err != nil {
		return r.err
	}
	r.submitted = append(r.submitted, t)
	return nil
}

// noopExecution satisfies task.Task without doing work.
type noopExecution struct {
	id uuid.UUID
}

func (n *noopExecution) ID() uuid.UUID                 { return n.id }
func (n *noopExecution) Type() string                  { return task.TaskTypeDueDiligence }
func (n *noopExecution) Execute(context.Context) error { return nil }

// stubFactory wraps research tasks in noop executions.
type stubFactory struct{}

func (f *stubFactory) NewExecution(research *domain.ResearchTask) task.Task {
	return &noopExecution{id: research.ID}
}

type serviceFixture struct {
	store     *memoryTaskStore
	runner    *stubRunner
	artifacts *artifact.Store
	service   ResearchService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	artifacts, err := artifact.NewStore(t.TempDir(), t.TempDir(), logger)
	require.NoError(t, err)

	taskStore := newMemoryTaskStore()
	runner := &stubRunner{}

	svc, err := NewResearchService(taskStore, runner, &stubFactory{}, artifacts, logger)
	require.NoError(t, err)

	return &serviceFixture{store: taskStore, runner: runner, artifacts: artifacts, service: svc}
}

func TestNewResearchService_Validation(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	artifacts, err := artifact.NewStore(t.TempDir(), t.TempDir(), logger)
	require.NoError(t, err)
	taskStore := newMemoryTaskStore()
	runner := &stubRunner{}
	factory := &stubFactory{}

	tests := []struct {
		name string
		call func() (ResearchService, error)
	}{
		{"nil store", func() (ResearchService, error) {
			return NewResearchService(nil, runner, factory, artifacts, logger)
		}},
		{"nil runner", func() (ResearchService, error) {
			return NewResearchService(taskStore, nil, factory, artifacts, logger)
		}},
		{"nil factory", func() (ResearchService, error) {
			return NewResearchService(taskStore, runner, nil, artifacts, logger)
		}},
		{"nil artifacts", func() (ResearchService, error) {
			return NewResearchService(taskStore, runner, factory, nil, logger)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := tc.call()
			require.Error(t, err)
		})
	}
}

func TestResearchService_StartResearch(t *testing.T) {
	t.Parallel()

	t.Run("creates queued task and submits execution", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		research, err := f.service.StartResearch(context.Background(), StartRequest{
			SubjectName:    "Acme Corp",
			SubjectURL:     "https://acme.example.com",
			RecipientEmail: "partner@fund.example.com",
		})
		require.NoError(t, err)

		assert.Equal(t, domain.TaskStatusQueued, research.Status)
		assert.Contains(t, string(research.InputData), "partner@fund.example.com")

		require.Len(t, f.runner.submitted, 1)
		assert.Equal(t, research.ID, f.runner.submitted[0].ID())

		stored, err := f.store.GetByID(context.Background(), research.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusQueued, stored.Status)
	})

	t.Run("validation errors pass through", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)

		_, err := f.service.StartResearch(context.Background(), StartRequest{SubjectName: ""})
		assert.ErrorIs(t, err, domain.ErrEmptySubjectName)

		_, err = f.service.StartResearch(context.Background(), StartRequest{
			SubjectName: "Acme",
			SubjectURL:  "not-a-url",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidSubjectURL)

		assert.Empty(t, f.runner.submitted)
	})

	t.Run("full queue fails the created task", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.runner.err = errors.New("task queue is full, try again later")

		_, err := f.service.StartResearch(context.Background(), StartRequest{SubjectName: "Acme"})
		assert.ErrorIs(t, err, ErrQueueFull)

		tasks, err := f.store.List(context.Background(), 10, 0)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, domain.TaskStatusError, tasks[0].Status)
		assert.Contains(t, tasks[0].ErrorMessage, "could not be scheduled")
	})

	t.Run("store failure is wrapped", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.store.createErr = errors.New("connection refused")

		_, err := f.service.StartResearch(context.Background(), StartRequest{SubjectName: "Acme"})
		require.Error(t, err)

		var svcErr *ResearchServiceError
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, "start_research", svcErr.Operation)
	})
}

func TestResearchService_GetTask(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	research, err := f.service.StartResearch(context.Background(), StartRequest{SubjectName: "Acme"})
	require.NoError(t, err)

	found, err := f.service.GetTask(context.Background(), research.ID)
	require.NoError(t, err)
	assert.Equal(t, research.ID, found.ID)

	_, err = f.service.GetTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestResearchService_ListTasks(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	for _, name := range []string{"First Co", "Second Co", "Third Co"} {
		_, err := f.service.StartResearch(context.Background(), StartRequest{SubjectName: name})
		require.NoError(t, err)
	}

	tasks, err := f.service.ListTasks(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Third Co", tasks[0].SubjectName)
	assert.Equal(t, "Second Co", tasks[1].SubjectName)

	rest, err := f.service.ListTasks(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "First Co", rest[0].SubjectName)

	// Non-positive limit falls back to the default
	all, err := f.service.ListTasks(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestResearchService_DeleteTask(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	research, err := f.service.StartResearch(context.Background(), StartRequest{SubjectName: "Acme"})
	require.NoError(t, err)

	// Give the task a stored artifact to clean up
	taskDir := f.artifacts.TaskDir(research.ID.String())
	require.NoError(t, os.MkdirAll(taskDir, 0o755))
	require.NoError(t, os.WriteFile(f.artifacts.Path(research.ID.String(), "r.html"), []byte("x"), 0o644))

	require.NoError(t, f.service.DeleteTask(context.Background(), research.ID))

	_, err = f.service.GetTask(context.Background(), research.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.NoDirExists(t, taskDir)

	assert.ErrorIs(t, f.service.DeleteTask(context.Background(), uuid.New()), ErrTaskNotFound)
}
