package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/utils"
)

type ProjectsHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	mutator
}

func NewProjectsHandler(cfg *config.Config, db database.DatabaseInterface, approvals *approval.Service, logger *slog.Logger) *ProjectsHandler {
	return &ProjectsHandler{config: cfg, db: db, mutator: mutator{approvals: approvals, logger: logger}}
}

// POST /projects/
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.ProjectCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payload := &approval.CreateProjectPayload{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Color:       strings.TrimSpace(req.Color),
	}
	h.run(w, r, user, mutation{action: models.ActionCreateProject, payload: payload}, http.StatusCreated)
}

// GET /projects/
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var (
		projects []models.Project
		err      error
	)
	if user.Role == models.RoleCreator {
		projects, err = h.db.ListActiveProjects(r.Context())
	} else {
		projects, err = h.db.ListUserProjects(r.Context(), user.ID)
	}
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	utils.WriteSuccessResponse(w, projects)
}

// GET /projects/{id}
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	project, _, err := projectAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, project)
}

// PUT /projects/{id}
func (h *ProjectsHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	_, membership, err := projectAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	var req models.ProjectUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.run(w, r, user, mutation{
		action:      models.ActionUpdateProject,
		entityID:    id,
		projectID:   &id,
		payload:     &approval.UpdateProjectPayload{ProjectID: id, ProjectUpdateRequest: req},
		ownsProject: ownsProject(membership),
	}, http.StatusOK)
}

// DELETE /projects/{id}
//
// 软删除：项目只是被标记为不活跃
func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	project, membership, err := projectAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	h.run(w, r, user, mutation{
		action:      models.ActionDeleteProject,
		entityID:    id,
		projectID:   &id,
		payload:     &approval.DeleteProjectPayload{ProjectID: id, ProjectName: project.Name},
		ownsProject: ownsProject(membership),
	}, http.StatusOK)
}

// GET /projects/{id}/members
func (h *ProjectsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, _, err := projectAccess(r.Context(), h.db, user, id); err != nil {
		utils.WriteError(w, err)
		return
	}
	members, err := h.db.ListProjectMembers(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, members)
}

// POST /projects/{id}/members
func (h *ProjectsHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	_, membership, err := projectAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	var req struct {
		UserID int64              `json:"user_id"`
		Role   models.ProjectRole `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := h.db.GetUserByID(r.Context(), req.UserID); err != nil {
		utils.WriteError(w, err)
		return
	}
	h.run(w, r, user, mutation{
		action:      models.ActionAddUserToProject,
		entityID:    id,
		projectID:   &id,
		payload:     &approval.MembershipPayload{ProjectID: id, UserID: req.UserID, Role: req.Role},
		ownsProject: ownsProject(membership),
	}, http.StatusCreated)
}

// DELETE /projects/{id}/members/{user_id}
func (h *ProjectsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	_, membership, err := projectAccess(r.Context(), h.db, user, id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	h.run(w, r, user, mutation{
		action:      models.ActionRemoveUserFromProject,
		entityID:    id,
		projectID:   &id,
		payload:     &approval.MembershipPayload{ProjectID: id, UserID: memberID},
		ownsProject: ownsProject(membership),
	}, http.StatusOK)
}
