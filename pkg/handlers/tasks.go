package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/storage"
	"foreman-pm-backend/pkg/utils"
)

// TasksHandler 处理任务、评论和附件
type TasksHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	photos *storage.PhotoStore
	mutator
}

func NewTasksHandler(cfg *config.Config, db database.DatabaseInterface, approvals *approval.Service, photos *storage.PhotoStore, logger *slog.Logger) *TasksHandler {
	return &TasksHandler{config: cfg, db: db, photos: photos, mutator: mutator{approvals: approvals, logger: logger}}
}

// submitTask checks project access and routes task creation through the
// policy. It backs both POST /tasks/ and the AI endpoints.
func submitTask(ctx context.Context, db database.DatabaseInterface, m *mutator, user *models.User, req models.TaskCreateRequest) (*dispatchResult, error) {
	if req.ProjectID <= 0 {
		return nil, fmt.Errorf("project_id is required: %w", apperrors.ErrValidation)
	}
	project, membership, err := projectAccess(ctx, db, user, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !canContribute(user, membership) {
		return nil, fmt.Errorf("no permission to add tasks to project %d: %w", project.ID, apperrors.ErrForbidden)
	}
	if req.AssignedTo != nil {
		if _, err := db.GetUserByID(ctx, *req.AssignedTo); err != nil {
			return nil, fmt.Errorf("assignee: %w", err)
		}
	}
	return m.dispatch(ctx, user, mutation{
		action:    models.ActionCreateTask,
		projectID: &project.ID,
		payload: &approval.CreateTaskPayload{
			Title:       strings.TrimSpace(req.Title),
			Description: strings.TrimSpace(req.Description),
			Priority:    req.Priority,
			ProjectID:   project.ID,
			ProjectName: project.Name,
			AssignedTo:  req.AssignedTo,
			Deadline:    req.Deadline,
		},
	})
}

// POST /tasks/
func (h *TasksHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.TaskCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := submitTask(r.Context(), h.db, &h.mutator, user, req)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if res.Pending != nil {
		writePending(w, res.Pending)
		return
	}
	utils.WriteCreatedResponse(w, res.Result)
}

// GET /tasks/
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var (
		tasks []models.Task
		err   error
	)
	if user.Role == models.RoleCreator {
		tasks, err = h.db.ListTasks(r.Context())
	} else {
		tasks, err = h.db.ListTasksForUser(r.Context(), user.ID)
	}
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	utils.WriteSuccessResponse(w, tasks)
}

// GET /tasks/project/{project_id}
func (h *TasksHandler) ListByProject(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "project_id")
	if !ok {
		return
	}
	if _, _, err := projectAccess(r.Context(), h.db, user, projectID); err != nil {
		utils.WriteError(w, err)
		return
	}
	tasks, err := h.db.ListTasksByProject(r.Context(), projectID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	utils.WriteSuccessResponse(w, tasks)
}

// GET /tasks/{id}
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := taskAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// PUT /tasks/{id}
func (h *TasksHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := taskAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if !canChangeTask(user, task) {
		utils.WriteForbiddenResponse(w, "No permission to change this task")
		return
	}
	var req models.TaskUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.run(w, r, user, mutation{
		action:    models.ActionUpdateTask,
		entityID:  id,
		projectID: &task.ProjectID,
		payload:   &approval.UpdateTaskPayload{TaskID: id, TaskUpdateRequest: req},
	}, http.StatusOK)
}

// DELETE /tasks/{id}
func (h *TasksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := taskAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if !canChangeTask(user, task) {
		utils.WriteForbiddenResponse(w, "No permission to delete this task")
		return
	}
	attachments, err := h.db.ListTaskAttachments(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	res, err := h.dispatch(r.Context(), user, mutation{
		action:    models.ActionDeleteTask,
		entityID:  id,
		projectID: &task.ProjectID,
		payload:   &approval.DeleteTaskPayload{TaskID: id, Title: task.Title},
	})
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if res.Pending != nil {
		writePending(w, res.Pending)
		return
	}
	for _, a := range attachments {
		if err := h.photos.Remove(a.StoredPath); err != nil {
			h.logger.Warn("remove attachment file", "task_id", id, "path", a.StoredPath, "error", err)
		}
	}
	utils.WriteSuccessResponse(w, res.Result)
}

// PATCH /tasks/{id}/status
//
// Participants move their own tasks across the board without review.
func (h *TasksHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	task, err := taskAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if !canChangeTask(user, task) || user.Role == models.RoleViewer {
		utils.WriteForbiddenResponse(w, "No permission to change this task")
		return
	}
	var req struct {
		Status models.TaskStatus `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		utils.WriteValidationErrorResponse(w, "Unknown status", string(req.Status))
		return
	}
	task.Status = req.Status
	if err := h.db.UpdateTask(r.Context(), task); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// POST /tasks/{id}/comments
func (h *TasksHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := taskAccess(r.Context(), h.db, user, id); err != nil {
		utils.WriteError(w, err)
		return
	}
	if user.Role == models.RoleViewer {
		utils.WriteForbiddenResponse(w, "Viewers can not comment")
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		utils.WriteValidationErrorResponse(w, "content is required", "")
		return
	}
	c := &models.TaskComment{TaskID: id, AuthorID: user.ID, Content: content}
	if err := h.db.AddTaskComment(r.Context(), c); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, c)
}

// GET /tasks/{id}/comments
func (h *TasksHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := taskAccess(r.Context(), h.db, user, id); err != nil {
		utils.WriteError(w, err)
		return
	}
	comments, err := h.db.ListTaskComments(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if comments == nil {
		comments = []models.TaskComment{}
	}
	utils.WriteSuccessResponse(w, comments)
}

// POST /tasks/{id}/attachments (multipart field "file")
func (h *TasksHandler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, "id", "file")
}

// GET /tasks/{id}/attachments
func (h *TasksHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := taskAccess(r.Context(), h.db, user, id); err != nil {
		utils.WriteError(w, err)
		return
	}
	attachments, err := h.db.ListTaskAttachments(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if attachments == nil {
		attachments = []models.TaskAttachment{}
	}
	utils.WriteSuccessResponse(w, attachments)
}

// upload stores the multipart file in field and records it against the
// task named by the idParam URL parameter.
func (h *TasksHandler) upload(w http.ResponseWriter, r *http.Request, idParam, field string) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, idParam)
	if !ok {
		return
	}
	task, err := taskAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if !canChangeTask(user, task) || user.Role == models.RoleViewer {
		utils.WriteForbiddenResponse(w, "No permission to change this task")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile(field)
	if err != nil {
		utils.WriteBadRequestResponse(w, "Multipart field "+field+" is required")
		return
	}
	defer file.Close()

	a, err := h.photos.Save(task.ID, user.ID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := h.db.AddTaskAttachment(r.Context(), a); err != nil {
		_ = h.photos.Remove(a.StoredPath)
		utils.WriteError(w, err)
		return
	}
	h.logger.Info("attachment stored", "task_id", task.ID, "attachment_id", a.ID, "size", a.SizeBytes)
	utils.WriteCreatedResponse(w, a)
}
