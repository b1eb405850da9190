package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"foreman-pm-backend/pkg/apperrors"
	"foreman-pm-backend/pkg/config"
	"foreman-pm-backend/pkg/database"
	"foreman-pm-backend/pkg/models"

	"github.com/spf13/cobra"
)

func bootstrapCreatorCmd() *cobra.Command {
	var u models.User
	cmd := &cobra.Command{
		Use:   "bootstrap-creator",
		Short: "Create or promote the creator account",
		Long: `Create the creator account, or promote and reactivate an existing user.

The telegram id defaults to CREATOR_TELEGRAM_ID. Running it again is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if u.TelegramID == 0 {
				u.TelegramID = cfg.CreatorTelegramID
			}
			if u.TelegramID == 0 {
				return fmt.Errorf("--telegram-id or CREATOR_TELEGRAM_ID is required")
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			db, err := database.NewDatabase(databaseConfig(cfg), logger)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrateSchema(ctx, db); err != nil {
				return err
			}
			return bootstrapCreator(ctx, db, &u, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&u.TelegramID, "telegram-id", 0, "telegram id of the creator")
	cmd.Flags().StringVar(&u.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&u.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&u.Username, "username", "", "telegram username")
	return cmd
}

// bootstrapCreator refuses to add a second active creator.
func bootstrapCreator(ctx context.Context, db database.DatabaseInterface, want *models.User, out io.Writer) error {
	users, err := db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.Role == models.RoleCreator && u.IsActive && u.TelegramID != want.TelegramID {
			return fmt.Errorf("user %d is already the creator: %w", u.TelegramID, apperrors.ErrConflict)
		}
	}

	existing, err := db.GetUserByTelegramID(ctx, want.TelegramID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		want.Role = models.RoleCreator
		want.IsActive = true
		if err := db.CreateUser(ctx, want); err != nil {
			return fmt.Errorf("create creator: %w", err)
		}
		fmt.Fprintf(out, "created creator %d (id %d)\n", want.TelegramID, want.ID)
		return nil
	case err != nil:
		return err
	}

	if existing.Role == models.RoleCreator && existing.IsActive {
		fmt.Fprintf(out, "creator %d already exists (id %d)\n", existing.TelegramID, existing.ID)
		return nil
	}
	existing.Role = models.RoleCreator
	if err := db.UpdateUser(ctx, existing); err != nil {
		return fmt.Errorf("promote user: %w", err)
	}
	if !existing.IsActive {
		if err := db.SetUserActive(ctx, existing.ID, true); err != nil {
			return fmt.Errorf("reactivate user: %w", err)
		}
	}
	fmt.Fprintf(out, "promoted user %d to creator\n", existing.TelegramID)
	return nil
}
