package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/templui/kickstart/cmd/ksctl/cmd"
	"github.com/templui/kickstart/internal/logger"
)

func main() {
	// Logs go to stderr so image bytes can be piped from stdout.
	logger.Init(logger.Options{Development: true, Output: os.Stderr})

	rootCmd := &cobra.Command{
		Use:          "ksctl",
		Short:        "Operator tools for the kickstart service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.FloppyCmd())
	rootCmd.AddCommand(cmd.ISOCmd())
	rootCmd.AddCommand(cmd.RenderCmd())
	rootCmd.AddCommand(cmd.TokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
