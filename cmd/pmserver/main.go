// Command pmserver runs the project manager API and its maintenance tasks.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/handlers"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pmserver",
		Short:         "Project manager backend for the Telegram bot and web app",
		Version:       handlers.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(bootstrapCreatorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger 生产环境输出JSON，其余环境输出文本
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func databaseConfig(cfg *config.Config) database.DatabaseConfig {
	return database.DatabaseConfig{
		PostgresDSN: cfg.PostgresDSN,
		UseMemory:   cfg.UseMemoryDB,
		Debug:       cfg.Debug,
	}
}
