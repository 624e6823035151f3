package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/templui/kickstart/internal/fatimg"
	"github.com/templui/kickstart/internal/kickstart"
	"github.com/templui/kickstart/internal/service"
)

func FloppyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "floppy",
		Short: "Build and inspect kickstart floppy images",
	}

	cmd.AddCommand(floppyBuildCmd())
	cmd.AddCommand(floppyCatCmd())
	return cmd
}

func floppyBuildCmd() *cobra.Command {
	var requestPath, output string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a floppy image holding ks.cfg for a request body",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readRequest(cmd.InOrStdin(), requestPath)
			if err != nil {
				return err
			}

			img, err := fatimg.Build(service.KickstartFilename, []byte(kickstart.Render(req.Params())))
			if err != nil {
				return fmt.Errorf("failed to build image: %w", err)
			}
			if err := writeOutput(cmd.OutOrStdout(), output, img); err != nil {
				return err
			}

			slog.Info("floppy image built", "hostname", req.Hostname, "output", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&requestPath, "request", "r", "-", "JSON request body, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "image file, - for stdout")

	return cmd
}

func floppyCatCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "cat <image> [file]",
		Short: "Print a file from a floppy image (default ks.cfg)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			if list {
				names, err := fatimg.Files(img)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			name := service.KickstartFilename
			if len(args) == 2 {
				name = args[1]
			}
			data, err := fatimg.ReadFile(img, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list the files instead")

	return cmd
}
