package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/templui/kickstart/internal/config"
	"github.com/templui/kickstart/internal/model"
)

func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	cmd.AddCommand(tokenGenerateCmd())
	return cmd
}

func tokenGenerateCmd() *cobra.Command {
	var file, label string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a token and print it, optionally appending it to a token file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := config.GenerateToken()
			if err != nil {
				return err
			}

			if file != "" {
				if err := appendToken(file, model.APIToken{Token: token, Label: label}); err != nil {
					return err
				}
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "token file to append to (created if missing)")
	cmd.Flags().StringVarP(&label, "label", "l", "operator", "label stored with the token")

	return cmd
}

func appendToken(path string, token model.APIToken) error {
	var tokens []model.APIToken
	_, err := os.Stat(path)
	switch {
	case err == nil:
		tokens, _, err = config.LoadTokens(path)
		if err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	for _, t := range tokens {
		if t.Label == token.Label {
			return fmt.Errorf("label %q already exists in %s", token.Label, path)
		}
	}
	return config.WriteTokens(path, append(tokens, token))
}
