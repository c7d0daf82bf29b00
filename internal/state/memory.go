// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package state

import (
	"encoding/json"
	"sync"

	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
)

func init() {
	RegisterBackend("memory", newMemoryStore)
}

// memoryStore holds state in process memory. Used by tests and ephemeral
// runs; documents round-trip through JSON so backends stay interchangeable.
type memoryStore struct {
	mu  sync.Mutex
	doc []byte
}

func newMemoryStore(Config, Key) (Store, error) {
	return &memoryStore{}, nil
}

func (m *memoryStore) Load() (*HarnessState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc == nil {
		return nil, nil
	}
	var st HarnessState
	if err := json.Unmarshal(m.doc, &st); err != nil {
		return nil, nil
	}
	return &st, nil
}

func (m *memoryStore) Save(st *HarnessState) error {
	if st == nil {
		return rotorerr.New(rotorerr.CodeStateSaveWriteFailure, "nil state")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.doc = raw
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Has() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc != nil, nil
}

func (m *memoryStore) Clear() error {
	m.mu.Lock()
	m.doc = nil
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error { return nil }
