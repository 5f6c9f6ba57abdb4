package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/access-gate/internal/authclient"
	"github.com/spec-kit/access-gate/internal/authstate"
)

func newLoginCmd() *cobra.Command {
	var (
		baseURL  string
		email    string
		password string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in against a running service and print the resulting auth state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("GATECTL_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or $GATECTL_PASSWORD) are required")
			}

			client, err := authclient.New(baseURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runLogin(ctx, cmd.OutOrStdout(), client, email, password)
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Service base URL")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Overall timeout")
	return cmd
}

func runLogin(ctx context.Context, out io.Writer, provider authstate.Provider, email, password string) error {
	store := authstate.Mount(ctx, provider)
	defer store.Close()

	select {
	case <-store.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := store.SignIn(ctx, email, password); err != nil {
		var aerr *authclient.AuthError
		if errors.As(err, &aerr) {
			return fmt.Errorf("sign in failed: %s (%s)", aerr.Message, aerr.Code)
		}
		return err
	}

	state := store.Snapshot()
	if state.User == nil {
		return errors.New("signed in but no user was returned")
	}
	fmt.Fprintf(out, "signed in as %s (id %s)\n", state.User.Email, state.User.ID)
	fmt.Fprintf(out, "role: %q admin: %t\n", state.User.Role(), state.IsAdmin)
	if state.Session != nil && !state.Session.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "session expires: %s\n", state.Session.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
