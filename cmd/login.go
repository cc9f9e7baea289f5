package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/spf13/cobra"
)

func newLoginCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Inspect the bot's platform login",
	}

	cmd.AddCommand(newLoginCheckCmd(load))

	return cmd
}

func newLoginCheckCmd(load appLoader) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load the saved session state and log in once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}
			credentials, err := app.credentialStore(app.config.State.Protection)
			if err != nil {
				return err
			}
			login, err := app.loginController(ports.NopMetrics{})
			if err != nil {
				return err
			}

			var session ports.PlatformSession
			err = runLoginSpinner(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, onRetry func(int, int, time.Duration, error)) error {
				login.WithRetryHook(onRetry)
				state, err := credentials.Load(ctx)
				if err != nil {
					return err
				}
				session, err = login.Authenticate(ctx, state, domain.LoginOptions(app.config.Login.Options))
				return err
			})
			if err != nil {
				return err
			}

			if save {
				if err := credentials.Save(cmd.Context(), session.AppState()); err != nil {
					return err
				}
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", session.CurrentUserID())
			return err
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Write the session state returned by the platform back to the credential file")

	return cmd
}
