// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package state

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
)

func init() {
	RegisterBackend("sqlite", newSQLiteStore)
}

// sqliteStore keeps one row per (project, mode) in a single table. SQLite's
// own locking provides the single-writer invariant; the busy timeout gives
// the bounded wait.
type sqliteStore struct {
	db  *sql.DB
	key Key
}

func newSQLiteStore(cfg Config, key Key) (Store, error) {
	if cfg.Path == "" {
		return nil, rotorerr.New(rotorerr.CodeConfigValidateInvalidValue,
			"sqlite state backend requires a database path")
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, rotorerr.Wrapf(err, rotorerr.CodeStateDatabaseFailure, "opening state db %s", cfg.Path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, rotorerr.Wrapf(err, rotorerr.CodeStateDatabaseFailure, "pinging state db %s", cfg.Path)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS harness_state (
	project    TEXT NOT NULL,
	mode       TEXT NOT NULL,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (project, mode)
);`
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, rotorerr.Wrap(err, rotorerr.CodeStateDatabaseFailure, "migrating state db")
	}

	return &sqliteStore{db: db, key: key}, nil
}

func (s *sqliteStore) Load() (*HarnessState, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT doc FROM harness_state WHERE project = ? AND mode = ?`,
		s.key.Project, s.key.Mode,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, rotorerr.Wrap(err, rotorerr.CodeStateLoadReadFailure, "querying state row")
	}

	var doc HarnessState
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// Corrupt rows read as empty state.
		return nil, nil
	}
	return &doc, nil
}

func (s *sqliteStore) Save(st *HarnessState) error {
	if st == nil {
		return rotorerr.New(rotorerr.CodeStateSaveWriteFailure, "nil state")
	}

	raw, err := json.Marshal(st)
	if err != nil {
		return rotorerr.Wrap(err, rotorerr.CodeStateSaveWriteFailure, "encoding state")
	}

	_, err = s.db.Exec(`
INSERT INTO harness_state (project, mode, doc, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (project, mode) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		s.key.Project, s.key.Mode, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return rotorerr.Wrap(err, rotorerr.CodeStateSaveWriteFailure, "upserting state row")
	}
	return nil
}

func (s *sqliteStore) Has() (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM harness_state WHERE project = ? AND mode = ?`,
		s.key.Project, s.key.Mode,
	).Scan(&n)
	if err != nil {
		return false, rotorerr.Wrap(err, rotorerr.CodeStateLoadReadFailure, "counting state rows")
	}
	return n > 0, nil
}

func (s *sqliteStore) Clear() error {
	if _, err := s.db.Exec(
		`DELETE FROM harness_state WHERE project = ? AND mode = ?`,
		s.key.Project, s.key.Mode,
	); err != nil {
		return rotorerr.Wrap(err, rotorerr.CodeStateClearFailure, "deleting state row")
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
