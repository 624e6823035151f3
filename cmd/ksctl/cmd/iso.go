package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/templui/kickstart/internal/isoeditor"
	"github.com/templui/kickstart/internal/service"
)

func ISOCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iso",
		Short: "ESXi installer image tools",
	}

	cmd.AddCommand(isoPatchCmd())
	cmd.AddCommand(isoShowCmd())
	return cmd
}

func isoPatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <image.iso>",
		Short: "Patch the boot configuration in place to load ks.cfg from USB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := isoeditor.Patch(args[0], service.BootConfigEdits()); err != nil {
				return fmt.Errorf("failed to patch %s: %w", args[0], err)
			}
			slog.Info("image patched", "path", args[0])
			return nil
		},
	}
}

func isoShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <image.iso>",
		Short: "Print the boot configuration of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range []string{service.BIOSBootConfig, service.EFIBootConfig} {
				data, err := isoeditor.ReadFile(args[0], p)
				if err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "==> %s\n%s", p, data)
			}
			return nil
		},
	}
}
