package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/diligence-api/internal/api/shared"
	"github.com/phrazzld/diligence-api/internal/artifact"
	"github.com/phrazzld/diligence-api/internal/domain"
	"github.com/phrazzld/diligence-api/internal/service"
)

// TriggerRequest represents the request body for starting a research run
type TriggerRequest struct {
	SubjectName    string `json:"subject_name"    validate:"required,max=255"`
	SubjectURL     string `json:"subject_url"     validate:"omitempty,url"`
	RecipientEmail string `json:"recipient_email" validate:"omitempty,email"`
}

// TriggerResponse acknowledges an accepted research run
type TriggerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// TaskStatusResponse represents the full state of a research task
type TaskStatusResponse struct {
	TaskID           string            `json:"task_id"`
	SubjectName      string            `json:"subject_name"`
	SubjectURL       string            `json:"subject_url,omitempty"`
	Status           string            `json:"status"`
	CurrentStage     string            `json:"current_stage,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	Artifacts        map[string]string `json:"artifacts,omitempty"`
	NotificationSent bool              `json:"notification_sent"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// HistoryResponse lists past research tasks
type HistoryResponse struct {
	Tasks []TaskStatusResponse `json:"tasks"`
	Total int                  `json:"total"`
}

// DeleteResponse acknowledges a deleted task
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ResearchHandler handles research task HTTP requests
type ResearchHandler struct {
	researchService service.ResearchService
	artifacts       *artifact.Store
	validator       *validator.Validate
}

// NewResearchHandler creates a new ResearchHandler
func NewResearchHandler(researchService service.ResearchService, artifacts *artifact.Store) *ResearchHandler {
	return &ResearchHandler{
		researchService: researchService,
		artifacts:       artifacts,
		validator:       validator.New(),
	}
}

// Trigger handles POST /api/research/trigger requests. The run executes in
// the background; the response only acknowledges the queued task.
func (h *ResearchHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	research, err := h.researchService.StartResearch(r.Context(), service.StartRequest{
		SubjectName:    strings.TrimSpace(req.SubjectName),
		SubjectURL:     req.SubjectURL,
		RecipientEmail: req.RecipientEmail,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, TriggerResponse{
		Success: true,
		Message: "Due diligence research started for " + research.SubjectName,
		TaskID:  research.ID.String(),
	})
}

// GetStatus handles GET /api/research/status/{taskID} requests
func (h *ResearchHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	research, err := h.researchService.GetTask(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToStatusResponse(research))
}

// GetArtifact handles GET /api/research/artifact/{taskID}/{filename}
// requests, serving a stored artifact file with a content type derived
// from its extension.
func (h *ResearchHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	filename := chi.URLParam(r, "filename")

	// Confirm the task exists so unknown tasks and unknown files are
	// distinguishable in responses.
	if _, err := h.researchService.GetTask(r.Context(), taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	data, err := h.artifacts.Get(taskID.String(), filename)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.Header().Set("Content-Type", artifactContentType(filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to write artifact", err)
	}
}

// GetHistory handles GET /api/research/history requests with optional
// limit and offset query parameters.
func (h *ResearchHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	tasks, err := h.researchService.ListTasks(r.Context(), limit, offset)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]TaskStatusResponse, 0, len(tasks))
	for _, research := range tasks {
		responses = append(responses, taskToStatusResponse(research))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, HistoryResponse{
		Tasks: responses,
		Total: len(responses),
	})
}

// Delete handles DELETE /api/research/{taskID} requests
func (h *ResearchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	if err := h.researchService.DeleteTask(r.Context(), taskID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Research task deleted",
	})
}

// parseTaskID extracts and validates the taskID URL parameter, writing an
// error response itself when the ID is malformed.
func parseTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return taskID, true
}

// taskToStatusResponse converts a domain.ResearchTask to a TaskStatusResponse
func taskToStatusResponse(research *domain.ResearchTask) TaskStatusResponse {
	return TaskStatusResponse{
		TaskID:           research.ID.String(),
		SubjectName:      research.SubjectName,
		SubjectURL:       research.SubjectURL,
		Status:           string(research.Status),
		CurrentStage:     research.CurrentStage,
		ErrorMessage:     research.ErrorMessage,
		Artifacts:        research.Artifacts,
		NotificationSent: research.NotificationSent(),
		CreatedAt:        research.CreatedAt,
		UpdatedAt:        research.UpdatedAt,
		CompletedAt:      research.CompletedAt,
	}
}

// queryInt reads an integer query parameter, falling back to def on
// absence or garbage.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}

// artifactContentType maps an artifact filename to its response content type.
func artifactContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
