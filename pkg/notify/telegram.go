package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"foreman-pm-backend/pkg/models"
)

// Client is a minimal Bot API client covering the calls this service makes.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for apiURL (usually https://api.telegram.org).
func NewClient(apiURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// InlineKeyboardButton is either a callback button or a web app button.
type InlineKeyboardButton struct {
	Text         string      `json:"text"`
	CallbackData string      `json:"callback_data,omitempty"`
	WebApp       *WebAppInfo `json:"web_app,omitempty"`
}

type WebAppInfo struct {
	URL string `json:"url"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage posts an HTML message to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID: chatID, Text: text, ParseMode: "HTML", ReplyMarkup: markup,
	})
}

// AnswerCallbackQuery acknowledges an inline button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID, Text: text})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// the URL embeds the token; drop it from the error
		return fmt.Errorf("%s: request failed: %w", method, unwrapURLError(err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, out.Description)
	}
	return nil
}

func unwrapURLError(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return u.Unwrap()
	}
	return err
}

// TelegramNotifier renders events as HTML chat messages.
type TelegramNotifier struct {
	client    *Client
	webAppURL string
	logger    *slog.Logger
}

func NewTelegramNotifier(client *Client, webAppURL string, logger *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{client: client, webAppURL: strings.TrimRight(webAppURL, "/"), logger: logger}
}

func (n *TelegramNotifier) send(ctx context.Context, kind string, chatID int64, text string, markup *InlineKeyboardMarkup) bool {
	if err := n.client.SendMessage(ctx, chatID, text, markup); err != nil {
		n.logger.Warn("notification not delivered", "kind", kind, "chat_id", chatID, "error", err)
		return false
	}
	n.logger.Info("notification delivered", "kind", kind, "chat_id", chatID)
	return true
}

// ReviewKeyboard carries approve/reject callback buttons and, when a web app
// is configured, a link to its admin page.
func ReviewKeyboard(approvalID int64, webAppURL string) *InlineKeyboardMarkup {
	kb := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "✅ Approve", CallbackData: fmt.Sprintf("approve:%d", approvalID)},
		{Text: "❌ Reject", CallbackData: fmt.Sprintf("reject:%d", approvalID)},
	}}}
	if webAppURL != "" {
		kb.InlineKeyboard = append(kb.InlineKeyboard, []InlineKeyboardButton{
			{Text: "📋 Open admin panel", WebApp: &WebAppInfo{URL: webAppURL + "/admin"}},
		})
	}
	return kb
}

func (n *TelegramNotifier) ApprovalRequested(ctx context.Context, approver, requester *models.User, a *models.ApprovalRequest) bool {
	return n.send(ctx, KindApprovalRequested, approver.TelegramID,
		approvalRequestedText(requester, a), ReviewKeyboard(a.ID, n.webAppURL))
}

func (n *TelegramNotifier) ApprovalResolved(ctx context.Context, requester, reviewer *models.User, a *models.ApprovalRequest) bool {
	return n.send(ctx, KindApprovalResolved, requester.TelegramID, approvalResolvedText(reviewer, a), nil)
}

func (n *TelegramNotifier) UserProvisioned(ctx context.Context, user, addedBy *models.User) bool {
	return n.send(ctx, KindUserProvisioned, user.TelegramID, userProvisionedText(user, addedBy), nil)
}

func (n *TelegramNotifier) UserStatusChanged(ctx context.Context, user *models.User) bool {
	return n.send(ctx, KindUserStatusChanged, user.TelegramID, userStatusText(user), nil)
}
