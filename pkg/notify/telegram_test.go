package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"foreman-pm-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botCall struct {
	Path string
	Body map[string]any
}

func fakeBotAPI(t *testing.T, status int) (*httptest.Server, func() []botCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []botCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		calls = append(calls, botCall{Path: r.URL.Path, Body: body})
		mu.Unlock()
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
		} else {
			_, _ = io.WriteString(w, `{"ok":false,"description":"Forbidden: bot was blocked by the user"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []botCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]botCall(nil), calls...)
	}
}

func testNotifier(url string) *TelegramNotifier {
	return NewTelegramNotifier(NewClient(url, "TOKEN", 5*time.Second), "https://app.example/", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestApprovalRequestedSendsKeyboard(t *testing.T) {
	srv, calls := fakeBotAPI(t, http.StatusOK)
	n := testNotifier(srv.URL)

	a := &models.ApprovalRequest{ID: 17, ActionType: models.ActionCreateTask, ActionData: []byte(`{"title":"Fix leak"}`), CreatedAt: time.Now()}
	ok := n.ApprovalRequested(context.Background(), &models.User{TelegramID: 1001}, &models.User{FirstName: "Fred"}, a)
	require.True(t, ok)

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "/botTOKEN/sendMessage", got[0].Path)
	assert.Equal(t, float64(1001), got[0].Body["chat_id"])
	assert.Equal(t, "HTML", got[0].Body["parse_mode"])
	assert.Contains(t, got[0].Body["text"], "Fix leak")

	markup, err := json.Marshal(got[0].Body["reply_markup"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"inline_keyboard":[
		[{"text":"✅ Approve","callback_data":"approve:17"},{"text":"❌ Reject","callback_data":"reject:17"}],
		[{"text":"📋 Open admin panel","web_app":{"url":"https://app.example/admin"}}]
	]}`, string(markup))
}

func TestDeliveryFailureReportsFalse(t *testing.T) {
	srv, _ := fakeBotAPI(t, http.StatusForbidden)
	n := testNotifier(srv.URL)
	assert.False(t, n.UserStatusChanged(context.Background(), &models.User{TelegramID: 5}))
}

func TestUnreachableAPIReportsFalse(t *testing.T) {
	srv, _ := fakeBotAPI(t, http.StatusOK)
	url := srv.URL
	srv.Close()
	n := testNotifier(url)
	assert.False(t, n.UserProvisioned(context.Background(), &models.User{TelegramID: 5, Role: models.RoleWorker}, &models.User{FirstName: "Cat"}))
}

func TestClientErrorDoesNotLeakToken(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "SECRET-TOKEN", time.Second)
	err := c.SendMessage(context.Background(), 1, "hi", nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}

func TestAnswerCallbackQuery(t *testing.T) {
	srv, calls := fakeBotAPI(t, http.StatusOK)
	c := NewClient(srv.URL, "TOKEN", time.Second)
	require.NoError(t, c.AnswerCallbackQuery(context.Background(), "cb-1", "Approved"))
	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "/botTOKEN/answerCallbackQuery", got[0].Path)
	assert.Equal(t, "cb-1", got[0].Body["callback_query_id"])
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	comment := "duplicate"
	a := &models.ApprovalRequest{ID: 3, Status: models.ApprovalRejected, ReviewComment: &comment}
	assert.True(t, r.ApprovalResolved(context.Background(), &models.User{TelegramID: 7}, &models.User{}, a))

	e, ok := r.Last(KindApprovalResolved)
	require.True(t, ok)
	assert.Equal(t, int64(7), e.ChatID)
	assert.Equal(t, "duplicate", e.Comment)

	r.Fail = true
	assert.False(t, r.UserStatusChanged(context.Background(), &models.User{}))
	assert.Len(t, r.Events(), 2)
}
