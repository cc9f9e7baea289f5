package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/spf13/cobra"
)

var stopSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

// notifyContext is swapped in tests.
var notifyContext = signal.NotifyContext

func newRunCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Log in and keep the bot listening until stopped",
		Long:  "run logs in with the saved session state and keeps the bot connected. SIGINT, SIGTERM and SIGHUP stop it cleanly, including while configuration is still loading. When refresh.restart_after elapses it exits with code 2 so the supervisor can start it again.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := notifyContext(cmd.Context(), stopSignals...)
			defer stop()
			cmd.SetContext(ctx)

			app, err := load(cmd)
			if err != nil {
				return err
			}

			lifecycle, _, err := app.newLifecycle()
			if err != nil {
				return err
			}

			err = lifecycle.Run(ctx)
			if err != nil && ctx.Err() != nil && !errors.Is(err, domain.ErrRestartRequested) {
				// stopped while still starting up
				app.logger.Info("startup_interrupted", "error", err)
				return nil
			}
			return err
		},
	}
}
