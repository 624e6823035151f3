package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/templui/kickstart/internal/kickstart"
)

func RenderCmd() *cobra.Command {
	var requestPath string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the kickstart script for a request body",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(cmd.InOrStdin(), requestPath)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), kickstart.Render(req.Params()))
			return err
		},
	}
	cmd.Flags().StringVarP(&requestPath, "request", "r", "-", "JSON request body, - for stdin")

	return cmd
}
