// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rotor-dev/rotor/internal/manager"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current provider, health, and rate-limit state",
		RunE:  runStatus,
	}

	cmd.Flags().StringP("output", "o", "text", "output format: text, json, yaml, or csv")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	m, err := buildManager(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	format, _ := cmd.Flags().GetString("output")
	r, err := rendererFor(format)
	if err != nil {
		return err
	}
	return r.Render(cmd.OutOrStdout(), m.Metrics())
}

// renderer serializes one metrics snapshot. The format set is closed; each
// format tag has exactly one implementation.
type renderer interface {
	Render(w io.Writer, m manager.Metrics) error
}

func rendererFor(format string) (renderer, error) {
	switch format {
	case "", "text":
		return textRenderer{}, nil
	case "json":
		return jsonRenderer{}, nil
	case "yaml":
		return yamlRenderer{}, nil
	case "csv":
		return csvRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want text, json, yaml, or csv)", format)
	}
}

type textRenderer struct{}

func (textRenderer) Render(w io.Writer, m manager.Metrics) error {
	fmt.Fprintf(w, "Current:  %s\n", m.Current.Key())
	fmt.Fprintf(w, "Strategy: %s\n", m.Strategy)
	fmt.Fprintf(w, "Counters: switches=%d rate_limits=%d errors=%d retries=%d\n",
		m.Counters.ProviderSwitches, m.Counters.RateLimitEvents,
		m.Counters.ErrorEvents, m.Counters.RetryAttempts)

	if len(m.Health) > 0 {
		fmt.Fprintln(w, "\nHealth:")
		for _, k := range sortedKeys(m.Health) {
			rec := m.Health[k]
			line := fmt.Sprintf("  %-30s %s ok=%d err=%d", k, rec.Status, rec.SuccessCount, rec.ErrorCount)
			if rec.UnhealthyReason != "" && rec.UnhealthyReason != "none" {
				line += fmt.Sprintf(" reason=%s", rec.UnhealthyReason)
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(m.RateLimits) > 0 {
		fmt.Fprintln(w, "\nRate limits:")
		for _, provider := range sortedKeys(m.RateLimits) {
			rl := m.RateLimits[provider]
			reset := "unknown"
			if rl.ResetAt != nil {
				reset = time.Until(*rl.ResetAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "  %-30s resets in %s (quota %d/%d)\n",
				provider, reset, rl.QuotaUsed, rl.QuotaLimit)
		}
	}

	if n := len(m.Switches); n > 0 {
		fmt.Fprintln(w, "\nRecent switches:")
		start := n - 5
		if start < 0 {
			start = 0
		}
		for _, sw := range m.Switches[start:] {
			fmt.Fprintf(w, "  %s  %s/%s -> %s/%s (%s)\n",
				sw.Timestamp.Format(time.RFC3339),
				sw.FromProvider, sw.FromModel, sw.ToProvider, sw.ToModel, sw.Reason)
		}
	}

	return nil
}

type jsonRenderer struct{}

func (jsonRenderer) Render(w io.Writer, m manager.Metrics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

type yamlRenderer struct{}

func (yamlRenderer) Render(w io.Writer, m manager.Metrics) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()
	return enc.Encode(m)
}

// csvRenderer emits one row per tracked combination, for spreadsheets.
type csvRenderer struct{}

func (csvRenderer) Render(w io.Writer, m manager.Metrics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"key", "status", "reason", "success_count", "error_count", "circuit_open"}); err != nil {
		return err
	}
	for _, k := range sortedKeys(m.Health) {
		rec := m.Health[k]
		row := []string{
			k,
			string(rec.Status),
			string(rec.UnhealthyReason),
			strconv.FormatInt(rec.SuccessCount, 10),
			strconv.FormatInt(rec.ErrorCount, 10),
			strconv.FormatBool(rec.CircuitOpen),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
