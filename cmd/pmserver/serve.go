package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handler "foreman-pm-backend/api"
	"foreman-pm-backend/pkg/ai"
	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/approval"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/handlers"
	"foreman-pm-backend/pkg/models"
	"foreman-pm-backend/pkg/notify"
	"foreman-pm-backend/pkg/storage"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving (PostgreSQL only)")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.GetDatabase(ctx, databaseConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.CloseDatabase()

	if migrate {
		if err := migrateSchema(ctx, db); err != nil {
			return err
		}
	}

	var (
		notifier notify.Notifier = notify.Noop{}
		bot      handlers.CallbackAnswerer
	)
	if cfg.BotToken != "" {
		client := notify.NewClient(cfg.TelegramAPIURL, cfg.BotToken, cfg.OutboundTimeout)
		notifier = notify.NewTelegramNotifier(client, cfg.WebAppURL, logger)
		bot = client
	} else {
		logger.Warn("BOT_TOKEN is empty, notifications are disabled")
	}

	approvals := approval.NewService(db, notifier, cfg.CreatorTelegramID, logger)
	if err := ensureCreator(ctx, cfg, db, approvals, logger); err != nil {
		return err
	}

	var (
		extractor   ai.Extractor
		transcriber ai.Transcriber
	)
	if cfg.OpenAIAPIKey != "" {
		model, err := ai.NewOpenAIModel(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.AIModel)
		if err != nil {
			return fmt.Errorf("init language model: %w", err)
		}
		extractor = ai.NewLLMExtractor(model, cfg.OutboundTimeout, logger)
		transcriber = ai.NewWhisperTranscriber(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.TranscribeModel, cfg.OutboundTimeout)
	} else {
		logger.Warn("OPENAI_API_KEY is empty, AI endpoints are disabled")
	}

	photos, err := storage.NewPhotoStore(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("init photo store: %w", err)
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handler.NewRouter(handler.Deps{
			Config:      cfg,
			DB:          db,
			Approvals:   approvals,
			Notifier:    notifier,
			Photos:      photos,
			Extractor:   extractor,
			Transcriber: transcriber,
			Bot:         bot,
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ensureCreator checks the approver account at startup. The in-memory store
// starts empty, so the creator is seeded there; against PostgreSQL a missing
// creator stops startup until bootstrap-creator runs.
func ensureCreator(ctx context.Context, cfg *config.Config, db database.DatabaseInterface, approvals *approval.Service, logger *slog.Logger) error {
	_, err := approvals.Approver(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrNoCreator) {
		return fmt.Errorf("load creator: %w", err)
	}
	if cfg.UseMemoryDB {
		creator := &models.User{TelegramID: cfg.CreatorTelegramID, FirstName: "Creator", Role: models.RoleCreator, IsActive: true}
		if err := db.CreateUser(ctx, creator); err != nil {
			return fmt.Errorf("seed creator: %w", err)
		}
		logger.Info("seeded creator account", "telegram_id", cfg.CreatorTelegramID)
		return nil
	}
	return fmt.Errorf("creator account %d missing, run bootstrap-creator: %w", cfg.CreatorTelegramID, err)
}
