// Package handler assembles the HTTP API into a single chi router.
package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"foreman-pm-backend/pkg/ai"
	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/handlers"
	customMiddleware "foreman-pm-backend/pkg/middleware"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/notify"
	"foreman-pm-backend/pkg/storage"
	"foreman-pm-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the services the router wires into handlers. Extractor,
// Transcriber and Bot may be nil.
type Deps struct {
	Config      *config.Config
	DB          database.DatabaseInterface
	Approvals   *approval.Service
	Notifier    notify.Notifier
	Photos      *storage.PhotoStore
	Extractor   ai.Extractor
	Transcriber ai.Transcriber
	Bot         handlers.CallbackAnswerer
	Logger      *slog.Logger
}

// NewRouter 创建Chi路由器，所有API端点集中在这里注册
func NewRouter(d Deps) http.Handler {
	router := chi.NewRouter()

	// 设置全局中间件
	setupMiddleware(router, d)

	// 设置路由
	setupRoutes(router, d)

	return router
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, d Deps) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(d.Logger))
	router.Use(customMiddleware.Recovery(d.Config, d.Logger))

	// CORS中间件
	router.Use(customMiddleware.CORS(d.Config))

	// AI and upload calls wait on outbound services
	router.Use(middleware.Timeout(d.Config.OutboundTimeout + 15*time.Second))

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 开发环境额外中间件
	if d.Config.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, d Deps) {
	cfg, db, logger := d.Config, d.DB, d.Logger
	jwtService := utils.NewJWTService(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.AccessTokenExpires)

	// 创建处理器
	healthHandler := handlers.NewHealthHandler(cfg, db, logger)
	usersHandler := handlers.NewUsersHandler(cfg, db, jwtService, logger)
	projectsHandler := handlers.NewProjectsHandler(cfg, db, d.Approvals, logger)
	tasksHandler := handlers.NewTasksHandler(cfg, db, d.Approvals, d.Photos, logger)
	aiHandler := handlers.NewAIHandler(cfg, db, d.Approvals, d.Extractor, d.Transcriber, logger)
	adminHandler := handlers.NewAdminHandler(cfg, db, d.Approvals, d.Notifier, logger)
	webhookHandler := handlers.NewWebhookHandler(cfg, db, d.Approvals, d.Bot, logger)

	jsonBody := customMiddleware.ContentTypeJSON
	authenticated := customMiddleware.AuthMiddleware(jwtService, db, logger)

	// 健康检查端点
	router.Get("/", healthHandler.HealthCheck)
	router.Get("/healthz", healthHandler.HealthCheck)

	// Telegram webhook（不需要认证，但需要验证密钥头）
	router.With(customMiddleware.RequireWebhookSecret(cfg.WebhookSecret), customMiddleware.MaxBodySize(1<<20)).
		Post("/telegram/webhook", webhookHandler.HandleTelegramWebhook)

	router.Route("/api/v1", func(r chi.Router) {
		// 公开路由（不需要认证）
		r.Route("/users", func(r chi.Router) {
			r.With(jsonBody).Post("/register", usersHandler.Register)
			r.With(jsonBody).Post("/auth", usersHandler.Auth)
			r.Get("/check-access/{telegram_id}", usersHandler.CheckAccess)

			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.Get("/me", usersHandler.Me)
				r.With(jsonBody).Put("/me", usersHandler.UpdateMe)
				r.With(customMiddleware.RequireRole(models.RoleCreator)).Get("/", usersHandler.List)
			})
		})

		// 需要认证的路由
		r.Group(func(r chi.Router) {
			r.Use(authenticated)

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", projectsHandler.List)
				r.With(jsonBody).Post("/", projectsHandler.Create)
				r.Get("/{id}", projectsHandler.Get)
				r.With(jsonBody).Put("/{id}", projectsHandler.Update)
				r.Delete("/{id}", projectsHandler.Delete)
				r.Get("/{id}/members", projectsHandler.ListMembers)
				r.With(jsonBody).Post("/{id}/members", projectsHandler.AddMember)
				r.Delete("/{id}/members/{user_id}", projectsHandler.RemoveMember)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", tasksHandler.List)
				r.With(jsonBody).Post("/", tasksHandler.Create)
				r.Get("/project/{project_id}", tasksHandler.ListByProject)
				r.Get("/{id}", tasksHandler.Get)
				r.With(jsonBody).Put("/{id}", tasksHandler.Update)
				r.Delete("/{id}", tasksHandler.Delete)
				r.With(jsonBody).Patch("/{id}/status", tasksHandler.UpdateStatus)
				r.Get("/{id}/comments", tasksHandler.ListComments)
				r.With(jsonBody).Post("/{id}/comments", tasksHandler.AddComment)
				r.Get("/{id}/attachments", tasksHandler.ListAttachments)
				r.Post("/{id}/attachments", tasksHandler.AddAttachment)
			})

			r.Route("/photos/tasks/{task_id}/photo", func(r chi.Router) {
				r.Post("/", tasksHandler.UploadPhoto)
				r.Get("/", tasksHandler.GetPhoto)
				r.Get("/raw", tasksHandler.DownloadPhoto)
			})

			r.Route("/ai", func(r chi.Router) {
				r.With(jsonBody).Post("/create-task-from-text", aiHandler.CreateTaskFromText)
				r.Post("/process-audio", aiHandler.ProcessAudio)
			})

			// 创建者专用
			r.Route("/admin", func(r chi.Router) {
				r.Use(customMiddleware.RequireRole(models.RoleCreator))
				r.Get("/users", adminHandler.ListUsers)
				r.With(jsonBody).Post("/users", adminHandler.CreateUser)
				r.With(jsonBody).Patch("/users/{id}/status", adminHandler.SetUserStatus)
				r.Get("/approvals/pending", adminHandler.PendingApprovals)
				r.Get("/approvals/{id}", adminHandler.GetApproval)
				r.With(jsonBody).Post("/approvals/{id}/review", adminHandler.ReviewApproval)
				r.Delete("/approvals/{id}", adminHandler.DeleteApproval)
				r.Get("/stats", adminHandler.Stats)
			})
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
