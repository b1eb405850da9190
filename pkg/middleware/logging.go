package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Logger writes one structured line per request.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// the auth middleware runs further down the chain, so the user
			// is read from the holder it fills in
			holder := &userHolder{}
			next.ServeHTTP(ww, r.WithContext(withUserHolder(r.Context(), holder)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"ip", r.RemoteAddr,
			}
			if holder.telegramID != 0 {
				attrs = append(attrs, "telegram_id", holder.telegramID)
			}

			switch status := ww.Status(); {
			case status >= 500:
				logger.Error("request", attrs...)
			case status >= 400:
				logger.Warn("request", attrs...)
			default:
				logger.Info("request", attrs...)
			}
		})
	}
}

type userHolder struct {
	telegramID int64
}

type userHolderKey struct{}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey{}, h)
}

func markUser(ctx context.Context, telegramID int64) {
	if h, ok := ctx.Value(userHolderKey{}).(*userHolder); ok {
		h.telegramID = telegramID
	}
}
