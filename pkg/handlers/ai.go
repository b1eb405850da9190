package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"foreman-pm-backend/pkg/ai"
	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/utils"
)

// AIHandler turns free text and voice notes into tasks.
type AIHandler struct {
	config      *config.Config
	db          database.DatabaseInterface
	extractor   ai.Extractor
	transcriber ai.Transcriber
	mutator
}

// NewAIHandler accepts nil extractor or transcriber when the AI backend is
// not configured; the endpoints then answer 400.
func NewAIHandler(cfg *config.Config, db database.DatabaseInterface, approvals *approval.Service, extractor ai.Extractor, transcriber ai.Transcriber, logger *slog.Logger) *AIHandler {
	return &AIHandler{
		config:      cfg,
		db:          db,
		extractor:   extractor,
		transcriber: transcriber,
		mutator:     mutator{approvals: approvals, logger: logger},
	}
}

const (
	statusQuestionsNeeded = "questions_needed"
	statusTaskCreated     = "task_created"
)

// SuggestedTask is the partial task shown while questions are open.
type SuggestedTask struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Priority    models.TaskPriority `json:"priority"`
	ProjectID   *int64              `json:"project_id,omitempty"`
}

// AITaskResponse is the body of both AI endpoints unless the creation was
// deferred, in which case the pending approval body is returned.
type AITaskResponse struct {
	Status        string         `json:"status"`
	Questions     []string       `json:"questions,omitempty"`
	SuggestedTask *SuggestedTask `json:"suggested_task,omitempty"`
	Task          any            `json:"task,omitempty"`
	OriginalText  string         `json:"original_text"`
}

// CreateTaskFromText POST /ai/create-task-from-text
func (h *AIHandler) CreateTaskFromText(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Text      string `json:"text"`
		ProjectID *int64 `json:"project_id,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.fromText(w, r, user, req.Text, req.ProjectID)
}

// ProcessAudio POST /ai/process-audio (multipart field "audio_file")
func (h *AIHandler) ProcessAudio(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.transcriber == nil {
		writeAIError(w, "Voice transcription is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		utils.WriteBadRequestResponse(w, "Multipart field audio_file is required")
		return
	}
	defer file.Close()

	text, err := h.transcriber.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Warn("transcription failed", "user_id", user.ID, "error", err)
		writeAIError(w, "Could not transcribe the voice message")
		return
	}
	h.fromText(w, r, user, text, nil)
}

func (h *AIHandler) fromText(w http.ResponseWriter, r *http.Request, user *models.User, text string, projectID *int64) {
	if h.extractor == nil {
		writeAIError(w, "AI processing is not configured")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		utils.WriteValidationErrorResponse(w, "text is required", "")
		return
	}

	projects, err := h.projectRefs(r.Context(), user)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	s, err := h.extractor.Extract(r.Context(), text, projects)
	if err != nil {
		h.logger.Warn("task extraction failed", "user_id", user.ID, "error", err)
		writeAIError(w, "Could not turn the message into a task")
		return
	}
	s.OriginalText = text
	if projectID != nil {
		s.AssignProject(*projectID)
	}

	if s.NeedsClarification() || s.ProjectID == nil {
		utils.WriteSuccessResponse(w, AITaskResponse{
			Status:    statusQuestionsNeeded,
			Questions: s.Questions,
			SuggestedTask: &SuggestedTask{
				Title:       s.Title,
				Description: s.Description,
				Priority:    s.Priority,
				ProjectID:   s.ProjectID,
			},
			OriginalText: text,
		})
		return
	}

	res, err := submitTask(r.Context(), h.db, &h.mutator, user, models.TaskCreateRequest{
		Title:       s.Title,
		Description: s.Description,
		Priority:    s.Priority,
		ProjectID:   *s.ProjectID,
		Deadline:    s.Deadline,
	})
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if res.Pending != nil {
		writePending(w, res.Pending)
		return
	}
	utils.WriteCreatedResponse(w, AITaskResponse{Status: statusTaskCreated, Task: res.Result, OriginalText: text})
}

func (h *AIHandler) projectRefs(ctx context.Context, user *models.User) ([]ai.ProjectRef, error) {
	var (
		projects []models.Project
		err      error
	)
	if user.Role == models.RoleCreator {
		projects, err = h.db.ListActiveProjects(ctx)
	} else {
		projects, err = h.db.ListUserProjects(ctx, user.ID)
	}
	if err != nil {
		return nil, err
	}
	refs := make([]ai.ProjectRef, 0, len(projects))
	for _, p := range projects {
		refs = append(refs, ai.ProjectRef{ID: p.ID, Name: p.Name})
	}
	return refs, nil
}

// writeAIError reports a degraded AI backend as a client-visible 400. The
// cause is logged by the caller and never sent to the client.
func writeAIError(w http.ResponseWriter, message string) {
	utils.WriteErrorResponseWithCode(w, http.StatusBadRequest, "AI_UNAVAILABLE", message, "")
}
