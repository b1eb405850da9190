package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/notify"
	"foreman-pm-backend/pkg/utils"
)

// AdminHandler 创建者专用的管理端点；角色检查由路由上的 RequireRole 完成
type AdminHandler struct {
	config    *config.Config
	db        database.DatabaseInterface
	approvals *approval.Service
	notifier  notify.Notifier
	logger    *slog.Logger
}

func NewAdminHandler(cfg *config.Config, db database.DatabaseInterface, approvals *approval.Service, notifier notify.Notifier, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{config: cfg, db: db, approvals: approvals, notifier: notifier, logger: logger}
}

// ListUsers GET /admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, users)
}

// CreateUser POST /admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.UserRegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TelegramID == 0 {
		utils.WriteValidationErrorResponse(w, "telegram_id is required", "")
		return
	}
	if req.Role == "" {
		utils.WriteValidationErrorResponse(w, "role is required", "")
		return
	}
	if !req.Role.Valid() || req.Role == models.RoleCreator {
		utils.WriteValidationErrorResponse(w, "role must be foreman, worker or viewer", string(req.Role))
		return
	}

	user := newUser(req)
	if err := h.db.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			utils.WriteConflictResponse(w, "User already exists")
			return
		}
		utils.WriteError(w, err)
		return
	}
	h.logger.Info("user provisioned", "user_id", user.ID, "role", user.Role, "by", admin.ID)
	h.notifier.UserProvisioned(r.Context(), user, admin)
	utils.WriteCreatedResponse(w, user)
}

// SetUserStatus PATCH /admin/users/{id}/status
func (h *AdminHandler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		utils.WriteValidationErrorResponse(w, "is_active is required", "")
		return
	}

	user, err := h.db.GetUserByID(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if user.Role == models.RoleCreator {
		utils.WriteBadRequestResponse(w, "The creator can not be deactivated")
		return
	}
	if user.IsActive == *req.IsActive {
		utils.WriteSuccessResponse(w, user)
		return
	}
	if err := h.db.SetUserActive(r.Context(), id, *req.IsActive); err != nil {
		utils.WriteError(w, err)
		return
	}
	user.IsActive = *req.IsActive
	h.logger.Info("user status changed", "user_id", id, "is_active", user.IsActive)
	h.notifier.UserStatusChanged(r.Context(), user)
	utils.WriteSuccessResponse(w, user)
}

// PendingApprovals GET /admin/approvals/pending
func (h *AdminHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	pending, err := h.approvals.ListPending(r.Context(), admin.ID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if pending == nil {
		pending = []models.ApprovalRequest{}
	}
	utils.WriteSuccessResponse(w, pending)
}

// GetApproval GET /admin/approvals/{id}
func (h *AdminHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.approvals.Get(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, a)
}

// ReviewResponse is the body of POST /admin/approvals/{id}/review
type ReviewResponse struct {
	Approval       *models.ApprovalRequest `json:"approval"`
	Result         any                     `json:"result,omitempty"`
	ExecutionError string                  `json:"execution_error,omitempty"`
	Notified       bool                    `json:"notified"`
}

// ReviewApproval POST /admin/approvals/{id}/review
func (h *AdminHandler) ReviewApproval(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.ApprovalReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.approvals.Review(r.Context(), id, admin, req.Status, req.Comment)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, newReviewResponse(res))
}

func newReviewResponse(res *approval.ReviewResult) ReviewResponse {
	out := ReviewResponse{Approval: res.Approval, Result: res.Result, Notified: res.Notified}
	if res.ExecutionError != nil {
		out.ExecutionError = res.ExecutionError.Error()
	}
	return out
}

// DeleteApproval DELETE /admin/approvals/{id}
func (h *AdminHandler) DeleteApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.approvals.Delete(r.Context(), id); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": id})
}

// Stats GET /admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	stats, err := h.db.UserStats(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if stats.PendingApprovals, err = h.approvals.CountPending(r.Context(), admin.ID); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, stats)
}
