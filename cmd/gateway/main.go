package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "LLM gateway for the workout and nutrition assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to YAML config file (defaults and environment only when empty)")

	root.AddCommand(
		newServeCmd(&configPath),
		newUsageCmd(&configPath),
		newTokenCmd(&configPath),
		newEntitlementCmd(&configPath),
	)
	return root
}
