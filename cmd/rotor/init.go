// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rotor-dev/rotor/internal/config"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config to the standard location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			def, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(def); err == nil {
				fmt.Fprintf(out, "Config already exists at %s\n", def)
				return nil
			}

			path := config.BootstrapConfig()
			if path == "" {
				return fmt.Errorf("could not write default config to %s", def)
			}
			fmt.Fprintf(out, "Created default config at %s\n", path)
			return nil
		},
	}
}
