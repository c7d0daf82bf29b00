// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package state

import (
	"sync"
	"time"

	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
)

// Config selects and parameterizes a persistence backend.
type Config struct {
	// Backend names a registered backend; empty means "file".
	Backend string
	// Path is the data directory (file backend) or database file (sqlite).
	Path string
	// LockTimeout bounds lock acquisition; zero means DefaultLockTimeout.
	LockTimeout time.Duration
}

// Factory creates a Store for one (project, mode) key.
type Factory func(cfg Config, key Key) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterBackend registers a named backend factory. Backend files call
// this from init(). Goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New creates the Store for cfg and key.
func New(cfg Config, key Key) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "file"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	factoriesMu.RLock()
	f, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, rotorerr.Errorf(rotorerr.CodeStateBackendUnsupported,
			"unsupported state backend: %q", backend)
	}
	return f(cfg, key)
}
