package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/app"
	"github.com/spec-kit/access-gate/internal/config"
	"github.com/spec-kit/access-gate/internal/events"
	"github.com/spec-kit/access-gate/internal/observability"
	"github.com/spec-kit/access-gate/internal/service"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage the role claim of users",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <email> <role>",
		Short: "Set a user's role; an empty role removes it",
		Example: `  gatectl role set ada@example.com admin
  gatectl role set ada@example.com ""`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Postgres.DSN == "" {
				return errors.New("POSTGRES_DSN is not set: roles cannot be changed on in-memory stores")
			}
			logger, err := observability.NewLogger(config.LoggerConfig{Level: "warn"})
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			deps, cleanup, err := app.Connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := service.NewAuthService(*cfg, service.AuthDependencies{
				Users:      deps.Users,
				Identities: deps.Identities,
				Sessions:   deps.Sessions,
				States:     deps.States,
				Codes:      deps.Codes,
				Providers:  deps.Providers,
				Dispatcher: events.NewInMemoryDispatcher(),
				Logger:     logger,
			})
			user, err := svc.SetRole(ctx, args[0], args[1])
			if errors.Is(err, service.ErrUserNotFound) {
				return fmt.Errorf("no user with email %s", args[0])
			}
			if err != nil {
				return err
			}

			logger.Info("role updated", zap.String("user_id", user.ID), zap.String("role", args[1]))
			if role := user.Role(); role != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s now has role %q\n", user.Email, role)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s no longer has a role\n", user.Email)
			}
			return nil
		},
	})
	return cmd
}
