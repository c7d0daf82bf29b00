// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root rotor command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rotor",
		Short:         "Rotor — provider rotation and resilience for AI harnesses",
		Long:          "Rotor tracks provider health, rate limits, and quotas, and rotates among configured provider/model combinations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newSwitchCmd(),
		newMarkRateLimitedCmd(),
		newResetCmd(),
		newVersionCmd(),
	)

	return root
}
