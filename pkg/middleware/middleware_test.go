package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authFixture(t *testing.T) (*utils.JWTService, *database.MemoryDatabase, http.Handler) {
	t.Helper()
	jwtService := utils.NewJWTService("test-secret", "HS256", time.Hour)
	db := database.NewMemoryDatabase()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := RequireUser(r.Context())
		require.NoError(t, err)
		_, _ = io.WriteString(w, user.FirstName)
	})
	return jwtService, db, AuthMiddleware(jwtService, db, discardLogger())(ok)
}

func serveWithToken(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	jwtService, db, h := authFixture(t)
	ctx := context.Background()
	require.NoError(t, db.CreateUser(ctx, &models.User{TelegramID: 10, FirstName: "Ann", Role: models.RoleWorker, IsActive: true}))
	inactive := &models.User{TelegramID: 11, FirstName: "Ben", Role: models.RoleWorker, IsActive: false}
	require.NoError(t, db.CreateUser(ctx, inactive))

	token := func(id int64) string {
		tok, _, err := jwtService.GenerateAccessToken(id)
		require.NoError(t, err)
		return "Bearer " + tok
	}

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"unknown user", token(99), http.StatusNotFound},
		{"inactive user", token(11), http.StatusBadRequest},
		{"active user", token(10), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveWithToken(h, tt.header)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	assert.Equal(t, "Ann", serveWithToken(h, token(10)).Body.String())
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(models.RoleCreator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	run := func(user *models.User) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
		if user != nil {
			req = req.WithContext(WithUser(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, run(&models.User{Role: models.RoleCreator}))
	assert.Equal(t, http.StatusForbidden, run(&models.User{Role: models.RoleForeman}))
	assert.Equal(t, http.StatusUnauthorized, run(nil))
}

func TestRequireWebhookSecret(t *testing.T) {
	h := RequireWebhookSecret("hook")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set(TelegramSecretHeader, "hook")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNormalize(t *testing.T) {
	var seen string
	h := Normalize()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Path
	}))
	req := httptest.NewRequest(http.MethodGet, "/api//v1/tasks/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "/api/v1/tasks/", seen)
}

func TestRecoveryHidesPanicInProduction(t *testing.T) {
	h := Recovery(&config.Config{Environment: "production"}, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret detail")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret detail")
}

func TestContentTypeJSON(t *testing.T) {
	h := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/", nil)
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
