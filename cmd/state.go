package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Migrate the credential file between plain and encrypted forms",
	}

	cmd.AddCommand(
		newStateMigrateCmd(load, "encrypt", "Encrypt the plain credential file with the stored secret", false),
		newStateMigrateCmd(load, "decrypt", "Decrypt the credential file back to plain JSON", true),
	)

	return cmd
}

func newStateMigrateCmd(load appLoader, use, short string, fromEncrypted bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}

			from, err := app.credentialStore(fromEncrypted)
			if err != nil {
				return err
			}
			to, err := app.credentialStore(!fromEncrypted)
			if err != nil {
				return err
			}

			state, err := from.Load(cmd.Context())
			if err != nil {
				return err
			}
			if err := to.Save(cmd.Context(), state); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%sed %s (%d entries)\n", use, to.Path(), len(state))
			return err
		},
	}
}
