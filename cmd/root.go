package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/spf13/cobra"
)

const (
	exitOK      = 0
	exitFailure = 1
	// exitRestart asks the process supervisor to start the bot again.
	exitRestart = 2
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := newRootCmd().Execute()
	if err != nil && !errors.Is(err, domain.ErrRestartRequested) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}

func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrRestartRequested):
		return exitRestart
	default:
		return exitFailure
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "botkeeper",
		Short:         "botkeeper: keep a messaging bot logged in and listening",
		Long:          "botkeeper loads the bot's saved session state, logs in to the messaging platform, keeps a realtime listener open, and periodically checkpoints credentials and rotates the listener.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default $HOME/.botkeeper/config.toml)")

	load := func(cmd *cobra.Command) (*app, error) {
		return wireApp(configFile, cmd.ErrOrStderr())
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(load),
		newLoginCmd(load),
		newStateCmd(load),
		newSecretCmd(load),
		newStatusCmd(load),
	)

	return rootCmd
}
