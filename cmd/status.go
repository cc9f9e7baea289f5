package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	statusadapter "github.com/bnema/botkeeper/internal/adapters/render/status"
	"github.com/bnema/botkeeper/internal/domain"
	"github.com/spf13/cobra"
)

func newStatusCmd(load appLoader) *cobra.Command {
	var (
		asJSON   bool
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the runtime ledger of the last or current run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}

			renderOpts := statusadapter.RenderOptions{
				Now:                app.now(),
				LedgerPath:         app.runtime.Path(),
				CheckpointInterval: app.config.Refresh.CheckpointInterval,
				RotationInterval:   app.config.Refresh.RotationInterval,
			}

			if watch {
				if asJSON {
					return errors.New("--watch cannot be combined with --json")
				}
				return statusadapter.Watch(cmd.Context(), app.runtime.Load, statusadapter.WatchOptions{
					RenderOptions: renderOpts,
					Interval:      interval,
					Clock:         app.now,
					Input:         cmd.InOrStdin(),
					Output:        cmd.OutOrStdout(),
				})
			}

			record, err := app.runtime.Load(cmd.Context())
			if err != nil && !errors.Is(err, domain.ErrRuntimeNotFound) {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(record)
			}

			rendered, err := app.statusRenderer(record, renderOpts)
			if err != nil {
				return fmt.Errorf("render status: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the ledger as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep redrawing the ledger until q is pressed")
	cmd.Flags().DurationVar(&interval, "interval", statusadapter.DefaultWatchInterval, "Refresh interval for --watch")

	return cmd
}
