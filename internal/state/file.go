// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
)

func init() {
	RegisterBackend("file", newFileStore)
}

// fileStore keeps one JSON document per key under a data directory, with a
// sibling .lock file providing advisory locking across processes.
type fileStore struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
}

func newFileStore(cfg Config, key Key) (Store, error) {
	if cfg.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, rotorerr.Wrap(err, rotorerr.CodeConfigValidateInvalidValue,
				"file state backend requires a data path when no home directory exists")
		}
		cfg.Path = filepath.Join(home, ".local", "state", "rotor")
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, rotorerr.Wrapf(err, rotorerr.CodeStateSaveWriteFailure,
			"creating state directory %s", cfg.Path)
	}

	base := sanitize(key.Project) + "-" + sanitize(key.Mode)
	return &fileStore{
		path:        filepath.Join(cfg.Path, base+".json"),
		lockPath:    filepath.Join(cfg.Path, base+".lock"),
		lockTimeout: cfg.LockTimeout,
	}, nil
}

// sanitize keeps keys filesystem-safe.
func sanitize(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

// withLock runs fn while holding the exclusive advisory lock, waiting at
// most lockTimeout. Hitting the bound fails with the distinct
// lock-not-acquired condition instead of blocking indefinitely.
func (f *fileStore) withLock(fn func() error) error {
	lock := flock.New(f.lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), f.lockTimeout)
	defer cancel()

	ok, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil && ctx.Err() == nil {
		return rotorerr.Wrapf(err, rotorerr.CodeStateLockNotAcquired,
			"acquiring state lock %s", f.lockPath)
	}
	if !ok {
		return rotorerr.Errorf(rotorerr.CodeStateLockNotAcquired,
			"state lock %s not acquired within %s", f.lockPath, f.lockTimeout)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// Load reads the state document. Absent or corrupt files read as empty
// state; permission errors are surfaced.
func (f *fileStore) Load() (*HarnessState, error) {
	var st *HarnessState
	err := f.withLock(func() error {
		raw, err := os.ReadFile(f.path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return rotorerr.Wrapf(err, rotorerr.CodeStateLoadReadFailure,
				"reading state file %s", f.path)
		}

		var doc HarnessState
		if err := json.Unmarshal(raw, &doc); err != nil {
			// Corrupt state must never crash the harness; start fresh.
			return nil
		}
		st = &doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Save writes the document atomically: temp file in the same directory,
// then rename.
func (f *fileStore) Save(s *HarnessState) error {
	if s == nil {
		return rotorerr.New(rotorerr.CodeStateSaveWriteFailure, "nil state")
	}

	return f.withLock(func() error {
		raw, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return rotorerr.Wrap(err, rotorerr.CodeStateSaveWriteFailure, "encoding state")
		}

		tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.tmp")
		if err != nil {
			return rotorerr.Wrap(err, rotorerr.CodeStateSaveWriteFailure, "creating temp state file")
		}
		tmpName := tmp.Name()

		if _, err := tmp.Write(raw); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return rotorerr.Wrap(err, rotorerr.CodeStateSaveWriteFailure, "writing temp state file")
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return rotorerr.Wrap(err, rotorerr.CodeStateSaveWriteFailure, "closing temp state file")
		}
		if err := os.Chmod(tmpName, 0o600); err != nil {
			_ = os.Remove(tmpName)
			return rotorerr.Wrap(err, rotorerr.CodeStateSaveWriteFailure, "restricting state file permissions")
		}
		if err := os.Rename(tmpName, f.path); err != nil {
			_ = os.Remove(tmpName)
			return rotorerr.Wrapf(err, rotorerr.CodeStateSaveWriteFailure, "replacing state file %s", f.path)
		}
		return nil
	})
}

// Has reports whether a state document exists.
func (f *fileStore) Has() (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, rotorerr.Wrapf(err, rotorerr.CodeStateLoadReadFailure, "checking state file %s", f.path)
}

// Clear removes the state document.
func (f *fileStore) Clear() error {
	return f.withLock(func() error {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return rotorerr.Wrapf(err, rotorerr.CodeStateClearFailure, "removing state file %s", f.path)
		}
		return nil
	})
}

// Close releases nothing; the lock is scoped per operation.
func (f *fileStore) Close() error { return nil }
