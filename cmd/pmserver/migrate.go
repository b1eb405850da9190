package main

import (
	"context"
	"fmt"
	"sort"

	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"

	"github.com/spf13/cobra"
)

type migrator interface {
	Migrate(ctx context.Context) error
	TableCounts(ctx context.Context) (map[string]int, error)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL tables and print their row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if cfg.PostgresDSN == "" {
				return fmt.Errorf("POSTGRES_DSN is required")
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			db, err := database.NewPostgresDatabase(cfg.PostgresDSN, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrateSchema(ctx, db); err != nil {
				return err
			}
			counts, err := db.TableCounts(ctx)
			if err != nil {
				return err
			}
			tables := make([]string, 0, len(counts))
			for t := range counts {
				tables = append(tables, t)
			}
			sort.Strings(tables)
			out := cmd.OutOrStdout()
			for _, t := range tables {
				fmt.Fprintf(out, "%-22s %d\n", t, counts[t])
			}
			return nil
		},
	}
}

func migrateSchema(ctx context.Context, db database.DatabaseInterface) error {
	m, ok := db.(migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
