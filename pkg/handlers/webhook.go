package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/utils"
)

// CallbackAnswerer acknowledges an inline button press.
type CallbackAnswerer interface {
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// WebhookHandler 处理 Telegram webhook；密钥头由 RequireWebhookSecret 校验
type WebhookHandler struct {
	config    *config.Config
	db        database.DatabaseInterface
	approvals *approval.Service
	bot       CallbackAnswerer
	logger    *slog.Logger
}

// NewWebhookHandler 创建新的webhook处理器; bot may be nil.
func NewWebhookHandler(cfg *config.Config, db database.DatabaseInterface, approvals *approval.Service, bot CallbackAnswerer, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{config: cfg, db: db, approvals: approvals, bot: bot, logger: logger}
}

// TelegramUpdate is the subset of a Bot API update the server reads.
type TelegramUpdate struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type CallbackQuery struct {
	ID   string `json:"id"`
	From struct {
		ID int64 `json:"id"`
	} `json:"from"`
	Data string `json:"data"`
}

// HandleTelegramWebhook POST /telegram/webhook
//
// Telegram retries anything but a 2xx, so every parsed update is answered
// with 200 and the outcome is reported through the callback answer.
func (h *WebhookHandler) HandleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteBadRequestResponse(w, "Failed to read request body")
		return
	}
	var update TelegramUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		h.logger.Warn("bad telegram update", "error", err)
		utils.WriteBadRequestResponse(w, "Invalid update payload")
		return
	}

	if update.CallbackQuery == nil {
		utils.WriteSuccessResponse(w, map[string]string{"status": "ignored"})
		return
	}
	cq := update.CallbackQuery

	decision, approvalID, ok := parseReviewCallback(cq.Data)
	if !ok {
		h.answer(r.Context(), cq.ID, "Unknown action")
		utils.WriteSuccessResponse(w, map[string]string{"status": "ignored"})
		return
	}

	text := h.review(r.Context(), cq.From.ID, approvalID, decision)
	h.answer(r.Context(), cq.ID, text)
	utils.WriteSuccessResponse(w, map[string]string{"status": "processed", "result": text})
}

// parseReviewCallback reads "approve:<id>" and "reject:<id>".
func parseReviewCallback(data string) (models.ApprovalStatus, int64, bool) {
	verb, rawID, found := strings.Cut(data, ":")
	if !found {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	switch verb {
	case "approve":
		return models.ApprovalApproved, id, true
	case "reject":
		return models.ApprovalRejected, id, true
	}
	return "", 0, false
}

// review returns the text shown to the user who pressed the button.
func (h *WebhookHandler) review(ctx context.Context, telegramID, approvalID int64, decision models.ApprovalStatus) string {
	reviewer, err := h.db.GetUserByTelegramID(ctx, telegramID)
	if err != nil || !reviewer.IsActive {
		return "Access denied"
	}

	res, err := h.approvals.Review(ctx, approvalID, reviewer, decision, nil)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrAlreadyReviewed):
		return "This request was already reviewed"
	case errors.Is(err, apperrors.ErrForbidden):
		return "You can not review this request"
	case errors.Is(err, apperrors.ErrNotFound):
		return "Request not found"
	default:
		h.logger.Error("review from telegram", "approval_id", approvalID, "error", err)
		return "Something went wrong, try again later"
	}

	if decision == models.ApprovalRejected {
		return "Request rejected"
	}
	if res.ExecutionError != nil {
		return "Request approved, but the action failed: " + res.ExecutionError.Error()
	}
	return "Request approved"
}

func (h *WebhookHandler) answer(ctx context.Context, callbackID, text string) {
	if h.bot == nil || callbackID == "" {
		return
	}
	if err := h.bot.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		h.logger.Warn("answer callback query", "error", err)
	}
}
