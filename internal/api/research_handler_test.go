package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/diligence-api/internal/artifact"
	"github.com/phrazzld/diligence-api/internal/domain"
	"github.com/phrazzld/diligence-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubResearchService is a canned service.ResearchService.
type stubResearchService struct {
	startResult *domain.ResearchTask
	startErr    error
	lastStart   service.StartRequest

	tasks map[uuid.UUID]*domain.ResearchTask

	listResult []*domain.ResearchTask
	listErr    error
	lastLimit  int
	lastOffset int

	deleteErr error
	deleted   []uuid.UUID
}

func (s *stubResearchService) StartResearch(_ context.Context, req service.StartRequest) (*domain.ResearchTask, error) {
	s.lastStart = req
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.startResult, nil
}

func (s *stubResearchService) GetTask(_ context.Context, taskID uuid.UUID) (*domain.ResearchTask, error) {
	if task, ok := s.tasks[taskID]; ok {
		return task, nil
	}
	return nil, service.ErrTaskNotFound
}

func (s *stubResearchService) ListTasks(_ context.Context, limit, offset int) ([]*domain.ResearchTask, error) {
	s.lastLimit = limit
	s.lastOffset = offset
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listResult, nil
}

func (s *stubResearchService) DeleteTask(_ context.Context, taskID uuid.UUID) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, taskID)
	return nil
}

type handlerFixture struct {
	service   *stubResearchService
	artifacts *artifact.Store
	router    chi.Router
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	artifacts, err := artifact.NewStore(t.TempDir(), t.TempDir(), logger)
	require.NoError(t, err)

	svc := &stubResearchService{tasks: make(map[uuid.UUID]*domain.ResearchTask)}
	handler := NewResearchHandler(svc, artifacts)

	router := chi.NewRouter()
	router.Route("/api/research", func(r chi.Router) {
		r.Post("/trigger", handler.Trigger)
		r.Get("/status/{taskID}", handler.GetStatus)
		r.Get("/artifact/{taskID}/{filename}", handler.GetArtifact)
		r.Get("/history", handler.GetHistory)
		r.Delete("/{taskID}", handler.Delete)
	})

	return &handlerFixture{service: svc, artifacts: artifacts, router: router}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func newQueuedTask(t *testing.T) *domain.ResearchTask {
	t.Helper()
	research, err := domain.NewResearchTask("Acme Corp", "https://acme.example.com", []byte(`{}`))
	require.NoError(t, err)
	return research
}

func TestResearchHandler_Trigger(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		f.service.startResult = newQueuedTask(t)

		rec := f.do(t, http.MethodPost, "/api/research/trigger", map[string]string{
			"subject_name":    "Acme Corp",
			"subject_url":     "https://acme.example.com",
			"recipient_email": "partner@fund.example.com",
		})

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp TriggerResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, f.service.startResult.ID.String(), resp.TaskID)
		assert.Contains(t, resp.Message, "Acme Corp")

		assert.Equal(t, "partner@fund.example.com", f.service.lastStart.RecipientEmail)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/api/research/trigger", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation failures", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)

		tests := []map[string]string{
			{},
			{"subject_name": "Acme", "subject_url": "not-a-url"},
			{"subject_name": "Acme", "recipient_email": "not-an-email"},
		}

		for _, body := range tests {
			rec := f.do(t, http.MethodPost, "/api/research/trigger", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("queue full maps to service unavailable", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		f.service.startErr = service.ErrQueueFull

		rec := f.do(t, http.MethodPost, "/api/research/trigger", map[string]string{"subject_name": "Acme"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestResearchHandler_GetStatus(t *testing.T) {
	t.Parallel()

	t.Run("completed task", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		research := newQueuedTask(t)
		require.NoError(t, research.MarkInProgress("drafting investment report"))
		require.NoError(t, research.MarkSuccess(&domain.TaskOutput{
			SchemaVersion:    domain.OutputSchemaVersion,
			NotificationSent: true,
		}, map[string]string{artifact.KindReport: "r.html"}))
		f.service.tasks[research.ID] = research

		rec := f.do(t, http.MethodGet, "/api/research/status/"+research.ID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp TaskStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, "completed", resp.CurrentStage)
		assert.True(t, resp.NotificationSent)
		assert.Equal(t, "r.html", resp.Artifacts[artifact.KindReport])
		assert.NotNil(t, resp.CompletedAt)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		rec := f.do(t, http.MethodGet, "/api/research/status/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed task id", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		rec := f.do(t, http.MethodGet, "/api/research/status/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestResearchHandler_GetArtifact(t *testing.T) {
	t.Parallel()

	writeArtifact := func(t *testing.T, f *handlerFixture, taskID, name, content string) {
		t.Helper()
		require.NoError(t, os.MkdirAll(f.artifacts.TaskDir(taskID), 0o755))
		require.NoError(t, os.WriteFile(f.artifacts.Path(taskID, name), []byte(content), 0o644))
	}

	t.Run("serves file with content type", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		research := newQueuedTask(t)
		f.service.tasks[research.ID] = research

		tests := []struct {
			name        string
			contentType string
		}{
			{"report.html", "text/html; charset=utf-8"},
			{"chart.png", "image/png"},
			{"info.jpg", "image/jpeg"},
			{"doc.pdf", "application/pdf"},
			{"data.bin", "application/octet-stream"},
		}

		for _, tc := range tests {
			writeArtifact(t, f, research.ID.String(), tc.name, "payload")

			rec := f.do(t, http.MethodGet, "/api/research/artifact/"+research.ID.String()+"/"+tc.name, nil)
			require.Equal(t, http.StatusOK, rec.Code, tc.name)
			assert.Equal(t, tc.contentType, rec.Header().Get("Content-Type"), tc.name)
			assert.Equal(t, "payload", rec.Body.String(), tc.name)
		}
	})

	t.Run("unknown file", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		research := newQueuedTask(t)
		f.service.tasks[research.ID] = research

		rec := f.do(t, http.MethodGet, "/api/research/artifact/"+research.ID.String()+"/gone.html", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		rec := f.do(t, http.MethodGet, "/api/research/artifact/"+uuid.NewString()+"/r.html", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestResearchHandler_GetHistory(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	first := newQueuedTask(t)
	second := newQueuedTask(t)
	f.service.listResult = []*domain.ResearchTask{second, first}

	rec := f.do(t, http.MethodGet, "/api/research/history?limit=2&offset=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, second.ID.String(), resp.Tasks[0].TaskID)

	assert.Equal(t, 2, f.service.lastLimit)
	assert.Equal(t, 4, f.service.lastOffset)

	// Garbage pagination falls back to defaults
	rec = f.do(t, http.MethodGet, "/api/research/history?limit=abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, f.service.lastLimit)
	assert.Equal(t, 0, f.service.lastOffset)
}

func TestResearchHandler_Delete(t *testing.T) {
	t.Parallel()

	t.Run("deletes task", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		research := newQueuedTask(t)
		f.service.tasks[research.ID] = research

		rec := f.do(t, http.MethodDelete, "/api/research/"+research.ID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp DeleteResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, []uuid.UUID{research.ID}, f.service.deleted)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		f.service.deleteErr = service.ErrTaskNotFound

		rec := f.do(t, http.MethodDelete, "/api/research/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("internal failure", func(t *testing.T) {
		t.Parallel()

		f := newHandlerFixture(t)
		f.service.deleteErr = errors.New("disk on fire")

		rec := f.do(t, http.MethodDelete, "/api/research/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk on fire")
	})
}

func TestTaskToStatusResponse_Timestamps(t *testing.T) {
	t.Parallel()

	research := newQueuedTask(t)
	resp := taskToStatusResponse(research)

	assert.Equal(t, "queued", resp.Status)
	assert.False(t, resp.NotificationSent)
	assert.Nil(t, resp.CompletedAt)
	assert.WithinDuration(t, time.Now().UTC(), resp.CreatedAt, time.Minute)
}
