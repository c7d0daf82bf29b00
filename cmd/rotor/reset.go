// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear all tracked health, quota, and rate-limit state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := buildManager(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			if err := m.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "State cleared; current is %s\n", m.Current().Key())
			return nil
		},
	}
}
