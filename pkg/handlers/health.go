package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/utils"
)

const serviceName = "foreman-pm-backend"

// Version is set at build time with -ldflags.
var Version = "dev"

type HealthHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	logger *slog.Logger
}

func NewHealthHandler(cfg *config.Config, db database.DatabaseInterface, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{config: cfg, db: db, logger: logger}
}

// HealthCheck GET / and GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	// 测试数据库连接
	dbStatus := "healthy"
	status := http.StatusOK
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("health check: database", "error", err)
		dbStatus = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	utils.WriteJSONResponse(w, status, map[string]interface{}{
		"service":     serviceName,
		"version":     Version,
		"environment": h.config.Environment,
		"database":    h.databaseType(),
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
	})
}

func (h *HealthHandler) databaseType() string {
	if h.config.UseMemoryDB {
		return "memory"
	}
	return "postgresql"
}
