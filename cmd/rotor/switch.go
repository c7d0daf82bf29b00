// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
)

func newSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch",
		Short: "Rotate to the next usable provider/model combination",
		RunE:  runSwitch,
	}

	cmd.Flags().String("reason", "manual", "reason recorded with the switch")

	return cmd
}

func runSwitch(cmd *cobra.Command, _ []string) error {
	m, err := buildManager(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	reason, _ := cmd.Flags().GetString("reason")
	next, err := m.SwitchProvider(reason)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s\n", next.Key())
	return nil
}

func newMarkRateLimitedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate-limited <provider>",
		Short: "Mark a provider rate-limited, rotating away if it is current",
		Args:  cobra.ExactArgs(1),
		RunE:  runMarkRateLimited,
	}

	cmd.Flags().Duration("reset-in", 30*time.Minute, "how long until the limit resets")

	return cmd
}

func runMarkRateLimited(cmd *cobra.Command, args []string) error {
	m, err := buildManager(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	resetIn, _ := cmd.Flags().GetDuration("reset-in")
	next, switched, err := m.MarkRateLimited(args[0], time.Now().Add(resetIn))
	if err != nil {
		if rotorerr.HasCode(err, rotorerr.CodeManagerProviderNotFound) {
			return fmt.Errorf("provider %q is not configured", args[0])
		}
		return err
	}

	out := cmd.OutOrStdout()
	if switched {
		fmt.Fprintf(out, "Marked %s rate-limited; switched to %s\n", args[0], next.Key())
	} else {
		fmt.Fprintf(out, "Marked %s rate-limited\n", args[0])
	}
	return nil
}
