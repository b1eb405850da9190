package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/utils"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	UserContextKey ContextKey = "user"
)

// AuthMiddleware JWT认证中间件
//
// The token subject is a telegram id; the user row is loaded on every
// request so role and active flag changes take effect immediately.
func AuthMiddleware(jwtService *utils.JWTService, db database.DatabaseInterface, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				return
			}
			tokenString, ok := bearerToken(authHeader)
			if !ok {
				utils.WriteUnauthorizedResponse(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				logger.Debug("token rejected", "path", r.URL.Path, "error", err)
				utils.WriteUnauthorizedResponse(w, "Could not validate credentials")
				return
			}
			telegramID, _ := claims.TelegramID()

			user, err := db.GetUserByTelegramID(r.Context(), telegramID)
			if err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					utils.WriteNotFoundResponse(w, "User not found")
					return
				}
				logger.Error("load authenticated user", "telegram_id", telegramID, "error", err)
				utils.WriteError(w, err)
				return
			}
			if !user.IsActive {
				utils.WriteError(w, apperrors.ErrUserInactive)
				return
			}

			markUser(r.Context(), user.TelegramID)
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects users whose role is not in the allow-list.
// It must run after AuthMiddleware.
func RequireRole(roles ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := RequireUser(r.Context())
			if err != nil {
				utils.WriteError(w, err)
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.WriteForbiddenResponse(w, "Not enough permissions")
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithUser stores user in ctx the way AuthMiddleware does.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserFromContext 从context中获取用户信息
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}

// RequireUser 要求用户必须已认证的辅助函数
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not authenticated: %w", apperrors.ErrUnauthorized)
	}
	return user, nil
}
