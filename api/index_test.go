package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"foreman-pm-backend/pkg/ai"
	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	customMiddleware "foreman-pm-backend/pkg/middleware"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/notify"
	"foreman-pm-backend/pkg/storage"
	"foreman-pm-backend/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	creatorTG     = 1001
	webhookSecret = "hook-secret"
)

type fakeExtractor struct {
	suggestion *ai.Suggestion
	err        error
}

func (f *fakeExtractor) Extract(_ context.Context, text string, _ []ai.ProjectRef) (*ai.Suggestion, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := *f.suggestion
	s.Questions = append([]string(nil), f.suggestion.Questions...)
	return &s, nil
}

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, audio)
	return f.text, nil
}

type fakeBot struct {
	mu      sync.Mutex
	answers []string
}

func (b *fakeBot) AnswerCallbackQuery(_ context.Context, _ string, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, text)
	return nil
}

func (b *fakeBot) last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.answers) == 0 {
		return ""
	}
	return b.answers[len(b.answers)-1]
}

type testEnv struct {
	router    http.Handler
	db        *database.MemoryDatabase
	notifier  *notify.Recorder
	extractor *fakeExtractor
	bot       *fakeBot
	jwt       *utils.JWTService

	creator *models.User
	foreman *models.User
	worker  *models.User
	viewer  *models.User
	project *models.Project
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		Environment:        "test",
		Port:               "0",
		UseMemoryDB:        true,
		JWTSecret:          "test-secret",
		JWTAlgorithm:       "HS256",
		AccessTokenExpires: time.Hour,
		WebhookSecret:      webhookSecret,
		CreatorTelegramID:  creatorTG,
		MaxUploadBytes:     1 << 20,
		OutboundTimeout:    5 * time.Second,
		AllowedOrigins:     []string{"*"},
	}

	db := database.NewMemoryDatabase()
	mk := func(tg int64, role models.UserRole, name string) *models.User {
		u := &models.User{TelegramID: tg, FirstName: name, Role: role, IsActive: true}
		if err := db.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user %d: %v", tg, err)
		}
		return u
	}
	env := &testEnv{
		db:        db,
		notifier:  &notify.Recorder{},
		extractor: &fakeExtractor{},
		bot:       &fakeBot{},
		jwt:       utils.NewJWTService(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.AccessTokenExpires),
		creator:   mk(creatorTG, models.RoleCreator, "Cat"),
		foreman:   mk(2002, models.RoleForeman, "Fred"),
		worker:    mk(3003, models.RoleWorker, "Wendy"),
		viewer:    mk(4004, models.RoleViewer, "Vic"),
	}

	env.project = &models.Project{Name: "Riverside", CreatedBy: env.creator.ID}
	require.NoError(t, db.CreateProject(ctx, env.project))
	for _, m := range []struct {
		u    *models.User
		role models.ProjectRole
	}{{env.foreman, models.ProjectRoleMember}, {env.worker, models.ProjectRoleMember}, {env.viewer, models.ProjectRoleViewer}} {
		require.NoError(t, db.AddProjectMember(ctx, &models.ProjectMembership{ProjectID: env.project.ID, UserID: m.u.ID, Role: m.role}))
	}

	photos, err := storage.NewPhotoStore(t.TempDir(), cfg.MaxUploadBytes)
	require.NoError(t, err)

	env.router = NewRouter(Deps{
		Config:      cfg,
		DB:          db,
		Approvals:   approval.NewService(db, env.notifier, creatorTG, logger),
		Notifier:    env.notifier,
		Photos:      photos,
		Extractor:   env.extractor,
		Transcriber: fakeTranscriber{text: "fix the leak at riverside"},
		Bot:         env.bot,
		Logger:      logger,
	})
	return env
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadFile(t *testing.T, r http.Handler, path, field, filename, contentType string, content []byte, auth string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write(content)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", auth)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func (e *testEnv) bearerFor(t *testing.T, u *models.User) map[string]string {
	t.Helper()
	tok, _, err := e.jwt.GenerateAccessToken(u.TelegramID)
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *utils.APIError `json:"error"`
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if v != nil {
		require.NoError(t, json.Unmarshal(env.Data, v), w.Body.String())
	}
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeData(t, w, nil)
	require.NotNil(t, env.Error, w.Body.String())
	return env.Error.Code
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t)
	for _, path := range []string{"/", "/healthz"} {
		w := doRequest(t, env.router, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		decodeData(t, w, &body)
		assert.Equal(t, "healthy", body["db_status"])
		assert.Equal(t, "memory", body["database"])
	}
}

func TestUsers_RegisterAuthAndMe(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(t, env.router, http.MethodPost, "/api/v1/users/register", map[string]any{"telegram_id": 5005, "first_name": "Nina"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var u models.User
	decodeData(t, w, &u)
	assert.Equal(t, models.RoleViewer, u.Role)
	assert.True(t, u.IsActive)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/users/register", map[string]any{"telegram_id": 5005}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/users/register", map[string]any{"telegram_id": 6006, "role": "creator"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/users/auth", map[string]any{"telegram_id": 5005}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var auth models.UserAuthResponse
	decodeData(t, w, &auth)
	assert.Equal(t, "bearer", auth.TokenType)
	assert.Equal(t, int64(5005), auth.User.TelegramID)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/users/me", nil, map[string]string{"Authorization": "Bearer " + auth.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &u)
	assert.Equal(t, "Nina", u.FirstName)

	w = doRequest(t, env.router, http.MethodPut, "/api/v1/users/me", map[string]any{"last_name": " Ivanova "},
		map[string]string{"Authorization": "Bearer " + auth.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &u)
	assert.Equal(t, "Ivanova", u.LastName)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/users/auth", map[string]any{"telegram_id": 999}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, env.db.SetUserActive(context.Background(), u.ID, false))
	w = doRequest(t, env.router, http.MethodPost, "/api/v1/users/auth", map[string]any{"telegram_id": 5005}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "USER_INACTIVE", errorCode(t, w))
}

func TestUsers_CheckAccessAndList(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(t, env.router, http.MethodGet, "/api/v1/users/check-access/777", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var access models.AccessCheckResponse
	decodeData(t, w, &access)
	assert.False(t, access.IsActive)
	assert.NotEmpty(t, access.Message)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/users/check-access/2002", nil, nil)
	decodeData(t, w, &access)
	assert.True(t, access.IsActive)
	assert.Equal(t, models.RoleForeman, access.Role)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/users/", nil, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doRequest(t, env.router, http.MethodGet, "/api/v1/users/", nil, env.bearerFor(t, env.creator))
	require.Equal(t, http.StatusOK, w.Code)
	var users []models.User
	decodeData(t, w, &users)
	assert.Len(t, users, 4)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/users/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func createTaskBody(env *testEnv, title string) map[string]any {
	return map[string]any{"title": title, "project_id": env.project.ID, "priority": "high"}
}

func TestTasks_ForemanCreationIsDeferredUntilApproved(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(t, env.router, http.MethodPost, "/api/v1/tasks/", createTaskBody(env, "Fix leak"), env.bearerFor(t, env.foreman))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var pending struct {
		Status     string                 `json:"status"`
		ApprovalID int64                  `json:"approval_id"`
		Approval   models.ApprovalRequest `json:"approval"`
	}
	res := decodeData(t, w, &pending)
	assert.True(t, res.Success)
	assert.Equal(t, "pending_approval", pending.Status)
	assert.Equal(t, models.ApprovalPending, pending.Approval.Status)
	assert.Equal(t, env.creator.ID, pending.Approval.ApproverID)

	tasks, _ := env.db.ListTasks(context.Background())
	assert.Empty(t, tasks)
	ev, ok := env.notifier.Last(notify.KindApprovalRequested)
	require.True(t, ok)
	assert.Equal(t, int64(creatorTG), ev.ChatID)
	assert.Equal(t, pending.ApprovalID, ev.ApprovalID)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/admin/approvals/pending", nil, env.bearerFor(t, env.creator))
	var list []models.ApprovalRequest
	decodeData(t, w, &list)
	require.Len(t, list, 1)

	reviewPath := fmt.Sprintf("/api/v1/admin/approvals/%d/review", pending.ApprovalID)
	w = doRequest(t, env.router, http.MethodPost, reviewPath, map[string]any{"status": "approved"}, env.bearerFor(t, env.creator))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var review struct {
		Approval       models.ApprovalRequest `json:"approval"`
		Result         models.Task            `json:"result"`
		ExecutionError string                 `json:"execution_error"`
		Notified       bool                   `json:"notified"`
	}
	decodeData(t, w, &review)
	assert.Equal(t, models.ApprovalApproved, review.Approval.Status)
	assert.Empty(t, review.ExecutionError)
	assert.True(t, review.Notified)
	assert.Equal(t, "Fix leak", review.Result.Title)
	assert.Equal(t, env.foreman.ID, review.Result.CreatedBy)

	tasks, _ = env.db.ListTasks(context.Background())
	require.Len(t, tasks, 1)
	assert.Equal(t, models.PriorityHigh, tasks[0].Priority)

	w = doRequest(t, env.router, http.MethodPost, reviewPath, map[string]any{"status": "rejected"}, env.bearerFor(t, env.creator))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_REVIEWED", errorCode(t, w))
}

func TestTasks_CreatePermissions(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(t, env.router, http.MethodPost, "/api/v1/tasks/", createTaskBody(env, "Order bricks"), env.bearerFor(t, env.creator))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task models.Task
	decodeData(t, w, &task)
	assert.Equal(t, env.creator.ID, task.CreatedBy)
	assert.Equal(t, models.TaskStatusTodo, task.Status)

	for _, u := range []*models.User{env.worker, env.viewer} {
		w = doRequest(t, env.router, http.MethodPost, "/api/v1/tasks/", createTaskBody(env, "x"), env.bearerFor(t, u))
		assert.Equal(t, http.StatusForbidden, w.Code, u.Role)
	}

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/tasks/", map[string]any{"title": "x", "project_id": 999}, env.bearerFor(t, env.creator))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/tasks/", map[string]any{"project_id": env.project.ID}, env.bearerFor(t, env.creator))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", env.bearerFor(t, env.creator)["Authorization"])
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedTask(t *testing.T, env *testEnv, createdBy *models.User, assignee *models.User) *models.Task {
	t.Helper()
	task := &models.Task{Title: "Pour concrete", ProjectID: env.project.ID, CreatedBy: createdBy.ID}
	if assignee != nil {
		task.AssignedTo = &assignee.ID
	}
	require.NoError(t, env.db.CreateTask(context.Background(), task))
	return task
}

func TestTasks_UpdateAndDeleteRules(t *testing.T) {
	env := setupTestEnv(t)
	foreign := seedTask(t, env, env.creator, nil)
	assigned := seedTask(t, env, env.creator, env.foreman)
	workerTask := seedTask(t, env, env.creator, env.worker)

	change := map[string]any{"title": "Pour more concrete"}

	w := doRequest(t, env.router, http.MethodPut, fmt.Sprintf("/api/v1/tasks/%d", foreign.ID), change, env.bearerFor(t, env.foreman))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, env.router, http.MethodPut, fmt.Sprintf("/api/v1/tasks/%d", assigned.ID), change, env.bearerFor(t, env.foreman))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	got, _ := env.db.GetTask(context.Background(), assigned.ID)
	assert.Equal(t, "Pour concrete", got.Title)

	w = doRequest(t, env.router, http.MethodDelete, fmt.Sprintf("/api/v1/tasks/%d", assigned.ID), nil, env.bearerFor(t, env.foreman))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(t, env.router, http.MethodPut, fmt.Sprintf("/api/v1/tasks/%d", workerTask.ID), change, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, env.router, http.MethodPatch, fmt.Sprintf("/api/v1/tasks/%d/status", workerTask.ID), map[string]any{"status": "in_progress"}, env.bearerFor(t, env.worker))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, _ = env.db.GetTask(context.Background(), workerTask.ID)
	assert.Equal(t, models.TaskStatusInProgress, got.Status)

	w = doRequest(t, env.router, http.MethodPatch, fmt.Sprintf("/api/v1/tasks/%d/status", workerTask.ID), map[string]any{"status": "paused"}, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, env.router, http.MethodPut, fmt.Sprintf("/api/v1/tasks/%d", foreign.ID), change, env.bearerFor(t, env.creator))
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, env.router, http.MethodDelete, fmt.Sprintf("/api/v1/tasks/%d", foreign.ID), nil, env.bearerFor(t, env.creator))
	require.Equal(t, http.StatusOK, w.Code)
	_, err := env.db.GetTask(context.Background(), foreign.ID)
	assert.Error(t, err)
}

func TestTasks_ListingAndComments(t *testing.T) {
	env := setupTestEnv(t)
	mine := seedTask(t, env, env.creator, env.worker)
	seedTask(t, env, env.creator, nil)

	w := doRequest(t, env.router, http.MethodGet, "/api/v1/tasks/", nil, env.bearerFor(t, env.worker))
	var tasks []models.Task
	decodeData(t, w, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, mine.ID, tasks[0].ID)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/tasks/", nil, env.bearerFor(t, env.creator))
	decodeData(t, w, &tasks)
	assert.Len(t, tasks, 2)

	w = doRequest(t, env.router, http.MethodGet, fmt.Sprintf("/api/v1/tasks/project/%d", env.project.ID), nil, env.bearerFor(t, env.viewer))
	decodeData(t, w, &tasks)
	assert.Len(t, tasks, 2)

	path := fmt.Sprintf("/api/v1/tasks/%d/comments", mine.ID)
	w = doRequest(t, env.router, http.MethodPost, path, map[string]any{"content": "started"}, env.bearerFor(t, env.worker))
	require.Equal(t, http.StatusCreated, w.Code)
	w = doRequest(t, env.router, http.MethodPost, path, map[string]any{"content": "hi"}, env.bearerFor(t, env.viewer))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doRequest(t, env.router, http.MethodPost, path, map[string]any{"content": "  "}, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, env.router, http.MethodGet, path, nil, env.bearerFor(t, env.creator))
	var comments []models.TaskComment
	decodeData(t, w, &comments)
	require.Len(t, comments, 1)
	assert.Equal(t, env.worker.ID, comments[0].AuthorID)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/tasks/abc", nil, env.bearerFor(t, env.creator))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func TestPhotosAndAttachments(t *testing.T) {
	env := setupTestEnv(t)
	task := seedTask(t, env, env.worker, nil)
	auth := env.bearerFor(t, env.worker)["Authorization"]
	photoPath := fmt.Sprintf("/api/v1/photos/tasks/%d/photo", task.ID)

	w := doRequest(t, env.router, http.MethodGet, photoPath, nil, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = uploadFile(t, env.router, photoPath, "photo", "wall.png", "image/png", pngBytes, auth)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = uploadFile(t, env.router, photoPath, "photo", "notes.txt", "text/plain", []byte("hello"), auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, env.router, http.MethodGet, photoPath, nil, env.bearerFor(t, env.worker))
	require.Equal(t, http.StatusOK, w.Code)
	var photo struct {
		PhotoExists bool                  `json:"photo_exists"`
		Photo       models.TaskAttachment `json:"photo"`
	}
	decodeData(t, w, &photo)
	assert.True(t, photo.PhotoExists)
	assert.Equal(t, "wall.png", photo.Photo.FileName)

	w = doRequest(t, env.router, http.MethodGet, photoPath+"/raw", nil, env.bearerFor(t, env.worker))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngBytes, w.Body.Bytes())

	w = uploadFile(t, env.router, fmt.Sprintf("/api/v1/tasks/%d/attachments", task.ID), "file", "plan.png", "image/png", pngBytes, auth)
	require.Equal(t, http.StatusCreated, w.Code)
	w = doRequest(t, env.router, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d/attachments", task.ID), nil, env.bearerFor(t, env.worker))
	var attachments []models.TaskAttachment
	decodeData(t, w, &attachments)
	assert.Len(t, attachments, 2)

	w = uploadFile(t, env.router, photoPath, "photo", "x.png", "image/png", pngBytes, env.bearerFor(t, env.viewer)["Authorization"])
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProjects_OwnershipAndMembers(t *testing.T) {
	env := setupTestEnv(t)

	w := doRequest(t, env.router, http.MethodPost, "/api/v1/projects/", map[string]any{"name": "Garage"}, env.bearerFor(t, env.worker))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var project models.Project
	decodeData(t, w, &project)
	assert.Equal(t, env.worker.ID, project.CreatedBy)
	assert.Equal(t, models.DefaultProjectColor, project.Color)
	path := fmt.Sprintf("/api/v1/projects/%d", project.ID)

	w = doRequest(t, env.router, http.MethodPut, path, map[string]any{"color": "#000000"}, env.bearerFor(t, env.worker))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, w, &project)
	assert.Equal(t, "#000000", project.Color)

	w = doRequest(t, env.router, http.MethodPut, path, map[string]any{"name": "Mine"}, env.bearerFor(t, env.foreman))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, env.router, http.MethodPost, path+"/members", map[string]any{"user_id": env.foreman.ID}, env.bearerFor(t, env.worker))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = doRequest(t, env.router, http.MethodGet, path, nil, env.bearerFor(t, env.foreman))
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, env.router, http.MethodPut, path, map[string]any{"name": "Mine"}, env.bearerFor(t, env.foreman))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, env.router, http.MethodGet, path+"/members", nil, env.bearerFor(t, env.foreman))
	var members []models.ProjectMembership
	decodeData(t, w, &members)
	assert.Len(t, members, 2)

	w = doRequest(t, env.router, http.MethodDelete, fmt.Sprintf("%s/members/%d", path, env.worker.ID), nil, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(t, env.router, http.MethodDelete, fmt.Sprintf("%s/members/%d", path, env.foreman.ID), nil, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/projects/", nil, env.bearerFor(t, env.creator))
	var projects []models.Project
	decodeData(t, w, &projects)
	assert.Len(t, projects, 2)

	w = doRequest(t, env.router, http.MethodDelete, path, nil, env.bearerFor(t, env.worker))
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, env.router, http.MethodGet, path, nil, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doRequest(t, env.router, http.MethodGet, "/api/v1/projects/", nil, env.bearerFor(t, env.worker))
	decodeData(t, w, &projects)
	assert.Len(t, projects, 1)
}

func TestAdmin_UsersAndStats(t *testing.T) {
	env := setupTestEnv(t)
	creator := env.bearerFor(t, env.creator)

	w := doRequest(t, env.router, http.MethodGet, "/api/v1/admin/users", nil, env.bearerFor(t, env.foreman))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/admin/users", map[string]any{"telegram_id": 7007}, creator)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/admin/users", map[string]any{"telegram_id": 7007, "role": "foreman", "first_name": "Olga"}, creator)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ev, ok := env.notifier.Last(notify.KindUserProvisioned)
	require.True(t, ok)
	assert.Equal(t, int64(7007), ev.ChatID)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/admin/users", map[string]any{"telegram_id": 7007, "role": "worker"}, creator)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, env.router, http.MethodPatch, fmt.Sprintf("/api/v1/admin/users/%d/status", env.creator.ID), map[string]any{"is_active": false}, creator)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, env.router, http.MethodPatch, fmt.Sprintf("/api/v1/admin/users/%d/status", env.worker.ID), map[string]any{"is_active": false}, creator)
	require.Equal(t, http.StatusOK, w.Code)
	ev, ok = env.notifier.Last(notify.KindUserStatusChanged)
	require.True(t, ok)
	assert.Equal(t, env.worker.TelegramID, ev.ChatID)

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/tasks/", nil, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	doRequest(t, env.router, http.MethodPost, "/api/v1/tasks/", createTaskBody(env, "a"), env.bearerFor(t, env.foreman))
	w = doRequest(t, env.router, http.MethodGet, "/api/v1/admin/stats", nil, creator)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.AdminStats
	decodeData(t, w, &stats)
	assert.Equal(t, 5, stats.TotalUsers)
	assert.Equal(t, 4, stats.ActiveUsers)
	assert.Equal(t, 1, stats.PendingApprovals)
	assert.Equal(t, 2, stats.ForemenCount)
	assert.Equal(t, 1, stats.WorkersCount)
}

func TestAdmin_ApprovalLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	creator := env.bearerFor(t, env.creator)

	w := doRequest(t, env.router, http.MethodPost, "/api/v1/tasks/", createTaskBody(env, "Dig"), env.bearerFor(t, env.foreman))
	require.Equal(t, http.StatusAccepted, w.Code)
	var pending struct {
		ApprovalID int64 `json:"approval_id"`
	}
	decodeData(t, w, &pending)
	path := fmt.Sprintf("/api/v1/admin/approvals/%d", pending.ApprovalID)

	w = doRequest(t, env.router, http.MethodGet, path, nil, creator)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, env.router, http.MethodPost, path+"/review", map[string]any{"status": "pending"}, creator)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, env.router, http.MethodPost, path+"/review", map[string]any{"status": "rejected", "comment": "duplicate"}, creator)
	require.Equal(t, http.StatusOK, w.Code)
	ev, ok := env.notifier.Last(notify.KindApprovalResolved)
	require.True(t, ok)
	assert.Equal(t, "duplicate", ev.Comment)
	assert.Equal(t, env.foreman.TelegramID, ev.ChatID)
	tasks, _ := env.db.ListTasks(context.Background())
	assert.Empty(t, tasks)

	w = doRequest(t, env.router, http.MethodDelete, path, nil, creator)
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, env.router, http.MethodGet, path, nil, creator)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTelegramWebhook(t *testing.T) {
	env := setupTestEnv(t)
	secret := map[string]string{customMiddleware.TelegramSecretHeader: webhookSecret}

	w := doRequest(t, env.router, http.MethodPost, "/api/v1/tasks/", createTaskBody(env, "Dig"), env.bearerFor(t, env.foreman))
	require.Equal(t, http.StatusAccepted, w.Code)
	var pending struct {
		ApprovalID int64 `json:"approval_id"`
	}
	decodeData(t, w, &pending)

	press := func(from int64, data string, headers map[string]string) *httptest.ResponseRecorder {
		update := map[string]any{
			"update_id":      1,
			"callback_query": map[string]any{"id": "cb", "from": map[string]any{"id": from}, "data": data},
		}
		return doRequest(t, env.router, http.MethodPost, "/telegram/webhook", update, headers)
	}

	w = press(creatorTG, fmt.Sprintf("approve:%d", pending.ApprovalID), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = press(env.foreman.TelegramID, fmt.Sprintf("approve:%d", pending.ApprovalID), secret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "You can not review this request", env.bot.last())

	w = press(creatorTG, fmt.Sprintf("approve:%d", pending.ApprovalID), secret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Request approved", env.bot.last())
	tasks, _ := env.db.ListTasks(context.Background())
	require.Len(t, tasks, 1)
	assert.Equal(t, env.foreman.ID, tasks[0].CreatedBy)

	press(creatorTG, fmt.Sprintf("reject:%d", pending.ApprovalID), secret)
	assert.Equal(t, "This request was already reviewed", env.bot.last())

	press(creatorTG, "approve:999", secret)
	assert.Equal(t, "Request not found", env.bot.last())

	press(creatorTG, "snooze:1", secret)
	assert.Equal(t, "Unknown action", env.bot.last())

	w = doRequest(t, env.router, http.MethodPost, "/telegram/webhook", map[string]any{"update_id": 2, "message": map[string]any{"text": "hi"}}, secret)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	decodeData(t, w, &body)
	assert.Equal(t, "ignored", body["status"])
}

func TestAI_CreateTaskFromText(t *testing.T) {
	env := setupTestEnv(t)
	projectID := env.project.ID

	env.extractor.suggestion = &ai.Suggestion{Title: "Fix leak", Priority: models.PriorityUrgent, ProjectID: &projectID}
	w := doRequest(t, env.router, http.MethodPost, "/api/v1/ai/create-task-from-text", map[string]any{"text": "fix the leak now"}, env.bearerFor(t, env.creator))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Status       string      `json:"status"`
		Task         models.Task `json:"task"`
		OriginalText string      `json:"original_text"`
	}
	decodeData(t, w, &created)
	assert.Equal(t, "task_created", created.Status)
	assert.Equal(t, models.PriorityUrgent, created.Task.Priority)
	assert.Equal(t, "fix the leak now", created.OriginalText)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/ai/create-task-from-text", map[string]any{"text": "fix the leak"}, env.bearerFor(t, env.foreman))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/ai/create-task-from-text", map[string]any{"text": "fix the leak"}, env.bearerFor(t, env.worker))
	assert.Equal(t, http.StatusForbidden, w.Code)

	env.extractor.suggestion = &ai.Suggestion{Title: "Paint", Priority: models.PriorityMedium, Questions: []string{"Which project does this task belong to?"}}
	w = doRequest(t, env.router, http.MethodPost, "/api/v1/ai/create-task-from-text", map[string]any{"text": "paint it"}, env.bearerFor(t, env.creator))
	require.Equal(t, http.StatusOK, w.Code)
	var questions struct {
		Status        string   `json:"status"`
		Questions     []string `json:"questions"`
		SuggestedTask struct {
			Title string `json:"title"`
		} `json:"suggested_task"`
	}
	decodeData(t, w, &questions)
	assert.Equal(t, "questions_needed", questions.Status)
	assert.Len(t, questions.Questions, 1)
	assert.Equal(t, "Paint", questions.SuggestedTask.Title)

	w = doRequest(t, env.router, http.MethodPost, "/api/v1/ai/create-task-from-text", map[string]any{"text": "paint it", "project_id": projectID}, env.bearerFor(t, env.creator))
	assert.Equal(t, http.StatusCreated, w.Code)

	env.extractor.err = errors.New("openai: 401 invalid api key sk-live-123")
	w = doRequest(t, env.router, http.MethodPost, "/api/v1/ai/create-task-from-text", map[string]any{"text": "x"}, env.bearerFor(t, env.creator))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "AI_UNAVAILABLE", errorCode(t, w))
	failed := decodeData(t, w, nil)
	assert.Empty(t, failed.Error.Details)
	assert.NotContains(t, w.Body.String(), "sk-live-123")
}

func TestAI_ProcessAudio(t *testing.T) {
	env := setupTestEnv(t)
	projectID := env.project.ID
	env.extractor.suggestion = &ai.Suggestion{Title: "Fix leak", Priority: models.PriorityHigh, ProjectID: &projectID}

	w := uploadFile(t, env.router, "/api/v1/ai/process-audio", "audio_file", "note.ogg", "audio/ogg", []byte("OggS"), env.bearerFor(t, env.creator)["Authorization"])
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Status       string `json:"status"`
		OriginalText string `json:"original_text"`
	}
	decodeData(t, w, &created)
	assert.Equal(t, "task_created", created.Status)
	assert.Equal(t, "fix the leak at riverside", created.OriginalText)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ai/process-audio", nil)
	req.Header.Set("Authorization", env.bearerFor(t, env.creator)["Authorization"])
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := setupTestEnv(t)
	w := doRequest(t, env.router, http.MethodGet, "/api/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
