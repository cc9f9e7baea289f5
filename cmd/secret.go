package cmd

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/spf13/cobra"
)

const generatedSecretBytes = 32

func newSecretCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Provision the secret that protects the credential file",
	}

	cmd.AddCommand(newSecretGenerateCmd(load), newSecretSetCmd(load))

	return cmd
}

func newSecretGenerateCmd(load appLoader) *cobra.Command {
	var force bool
	var show bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random secret and store it in the secret service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}
			key := app.config.Secret.Key

			if !force {
				_, err := app.secretStore.Get(cmd.Context(), key)
				switch {
				case err == nil:
					return fmt.Errorf("secret %q already exists; replacing it makes the encrypted credential file unreadable (use --force)", key)
				case !errors.Is(err, domain.ErrSecretNotFound):
					return fmt.Errorf("%w: %w", domain.ErrSecretService, err)
				}
			}

			buf := make([]byte, generatedSecretBytes)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("generate secret: %w", err)
			}
			value := hex.EncodeToString(buf)

			if err := app.secretStore.Put(cmd.Context(), key, value); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrSecretService, err)
			}

			if show {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored new secret under %s\n", key)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing secret")
	cmd.Flags().BoolVar(&show, "show", false, "Print the generated secret")

	return cmd
}

func newSecretSetCmd(load appLoader) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a given secret, read from --value or the first line of stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("value") {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				value = line
			}
			value = strings.TrimRight(value, "\r\n")
			if strings.TrimSpace(value) == "" {
				return errors.New("secret value is empty")
			}

			if err := app.secretStore.Put(cmd.Context(), app.config.Secret.Key, value); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrSecretService, err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored secret under %s\n", app.config.Secret.Key)
			return err
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "Secret value (prefer stdin to keep it out of shell history)")

	return cmd
}
