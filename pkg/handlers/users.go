package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// UsersHandler 处理用户注册、登录和个人资料
type UsersHandler struct {
	config     *config.Config
	db         database.DatabaseInterface
	jwtService *utils.JWTService
	logger     *slog.Logger
}

// NewUsersHandler 创建用户处理器
func NewUsersHandler(cfg *config.Config, db database.DatabaseInterface, jwtService *utils.JWTService, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{config: cfg, db: db, jwtService: jwtService, logger: logger}
}

// selfServiceRoles may be chosen at self registration; the others are
// provisioned by the creator.
var selfServiceRoles = map[models.UserRole]bool{
	models.RoleWorker: true,
	models.RoleViewer: true,
}

// Register POST /users/register
func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.UserRegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TelegramID == 0 {
		utils.WriteValidationErrorResponse(w, "telegram_id is required", "")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleViewer
	}
	if !req.Role.Valid() {
		utils.WriteValidationErrorResponse(w, "Unknown role", string(req.Role))
		return
	}
	if !selfServiceRoles[req.Role] {
		utils.WriteForbiddenResponse(w, "Role "+string(req.Role)+" is assigned by the creator")
		return
	}

	user := newUser(req)
	if err := h.db.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			utils.WriteConflictResponse(w, "User with this Telegram ID already exists")
			return
		}
		h.logger.Error("register user", "telegram_id", req.TelegramID, "error", err)
		utils.WriteError(w, err)
		return
	}
	h.logger.Info("user registered", "user_id", user.ID, "telegram_id", user.TelegramID, "role", user.Role)
	utils.WriteCreatedResponse(w, user)
}

// Auth POST /users/auth
func (h *UsersHandler) Auth(w http.ResponseWriter, r *http.Request) {
	var req models.UserAuthRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TelegramID == 0 {
		utils.WriteValidationErrorResponse(w, "telegram_id is required", "")
		return
	}

	user, err := h.db.GetUserByTelegramID(r.Context(), req.TelegramID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			utils.WriteNotFoundResponse(w, "User not found")
			return
		}
		utils.WriteError(w, err)
		return
	}
	if !user.IsActive {
		utils.WriteError(w, apperrors.ErrUserInactive)
		return
	}

	token, expiresIn, err := h.jwtService.GenerateAccessToken(user.TelegramID)
	if err != nil {
		h.logger.Error("issue token", "telegram_id", user.TelegramID, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to generate token")
		return
	}
	utils.WriteSuccessResponse(w, models.UserAuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
		User:        *user,
	})
}

// CheckAccess GET /users/check-access/{telegram_id}
func (h *UsersHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	telegramID, err := strconv.ParseInt(chiRoute.URLParam(r, "telegram_id"), 10, 64)
	if err != nil {
		utils.WriteValidationErrorResponse(w, "Invalid telegram id", "")
		return
	}
	user, err := h.db.GetUserByTelegramID(r.Context(), telegramID)
	if errors.Is(err, apperrors.ErrNotFound) {
		utils.WriteSuccessResponse(w, models.AccessCheckResponse{IsActive: false, Message: "User not found"})
		return
	}
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, models.AccessCheckResponse{
		IsActive:  user.IsActive,
		Role:      user.Role,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Username:  user.Username,
	})
}

// Me GET /users/me
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	utils.WriteSuccessResponse(w, user)
}

// UpdateMe PUT /users/me
func (h *UsersHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.UserUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	updated := *user
	if req.Username != nil {
		updated.Username = strings.TrimSpace(*req.Username)
	}
	if req.FirstName != nil {
		updated.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		updated.LastName = strings.TrimSpace(*req.LastName)
	}
	if err := h.db.UpdateUser(r.Context(), &updated); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, &updated)
}

// List GET /users/ (creator only, enforced by the router)
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, users)
}

func newUser(req models.UserRegisterRequest) *models.User {
	return &models.User{
		TelegramID: req.TelegramID,
		Username:   strings.TrimSpace(req.Username),
		FirstName:  strings.TrimSpace(req.FirstName),
		LastName:   strings.TrimSpace(req.LastName),
		Role:       req.Role,
		IsActive:   true,
	}
}
