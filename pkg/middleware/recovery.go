package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/utils"
)

// Recovery 恢复中间件，处理panic并返回友好的错误信息
func Recovery(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logger.Error("panic recovered", "panic", rec, "path", r.URL.Path, "stack", string(stack))

				if cfg.IsDevelopment() {
					utils.WriteErrorResponseWithCode(w, http.StatusInternalServerError,
						"INTERNAL_SERVER_ERROR",
						fmt.Sprintf("Internal server error: %v", rec),
						string(stack))
					return
				}
				utils.WriteInternalServerErrorResponse(w, "Internal server error occurred")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
