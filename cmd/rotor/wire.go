// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rotor-dev/rotor/internal/config"
	"github.com/rotor-dev/rotor/internal/events"
	"github.com/rotor-dev/rotor/internal/manager"
	"github.com/rotor-dev/rotor/internal/state"
)

// loadConfig resolves the config path (flag, then the default location) and
// loads it. A missing default file is fine; defaults and env vars apply.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		def, err := config.DefaultConfigPath()
		if err == nil {
			if _, statErr := os.Stat(def); statErr == nil {
				path = def
			}
		}
	}
	return config.Load(path)
}

// buildManager wires the coordinator from configuration, including the
// persisted state store.
func buildManager(cmd *cobra.Command) (*manager.Manager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	store, err := state.New(state.Config{
		Backend:     cfg.State.Backend,
		Path:        cfg.State.Path,
		LockTimeout: cfg.State.LockTimeout,
	}, state.Key{Project: cfg.Project, Mode: cfg.Mode})
	if err != nil {
		return nil, err
	}

	m, err := manager.New(manager.Options{
		Config:  cfg,
		Store:   store,
		Emitter: events.NewSlogEmitter(nil),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return m, nil
}
