package handlers

import (
	"net/http"
	"strings"

	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/utils"
)

// PhotoResponse is returned by GET /photos/tasks/{task_id}/photo
type PhotoResponse struct {
	TaskID      int64                  `json:"task_id"`
	PhotoExists bool                   `json:"photo_exists"`
	Photo       *models.TaskAttachment `json:"photo,omitempty"`
}

// UploadPhoto POST /photos/tasks/{task_id}/photo (multipart field "photo")
func (h *TasksHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, "task_id", "photo")
}

// GetPhoto GET /photos/tasks/{task_id}/photo
func (h *TasksHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	task, photo, ok := h.latestPhoto(w, r)
	if !ok {
		return
	}
	utils.WriteSuccessResponse(w, PhotoResponse{TaskID: task.ID, PhotoExists: true, Photo: photo})
}

// DownloadPhoto GET /photos/tasks/{task_id}/photo/raw
func (h *TasksHandler) DownloadPhoto(w http.ResponseWriter, r *http.Request) {
	_, photo, ok := h.latestPhoto(w, r)
	if !ok {
		return
	}
	f, err := h.photos.Open(photo.StoredPath)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", photo.ContentType)
	http.ServeContent(w, r, photo.FileName, photo.CreatedAt, f)
}

func (h *TasksHandler) latestPhoto(w http.ResponseWriter, r *http.Request) (*models.Task, *models.TaskAttachment, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return nil, nil, false
	}
	id, ok := pathID(w, r, "task_id")
	if !ok {
		return nil, nil, false
	}
	task, err := taskAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return nil, nil, false
	}
	attachments, err := h.db.ListTaskAttachments(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err)
		return nil, nil, false
	}
	// newest first
	for i := range attachments {
		if strings.HasPrefix(attachments[i].ContentType, "image/") {
			return task, &attachments[i], true
		}
	}
	utils.WriteNotFoundResponse(w, "Photo not found")
	return nil, nil, false
}
