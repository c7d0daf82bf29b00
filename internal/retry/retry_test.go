// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotor-dev/rotor/internal/classify"
	"github.com/rotor-dev/rotor/internal/rotation"
	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCoordinator scripts rotation behavior and records every call.
type fakeCoordinator struct {
	mu        sync.Mutex
	current   rotation.Combination
	chain     []rotation.Combination // combos handed out by Rotate, in order
	successes []string
	failures  []string
	failErrs  []error
	authMarks []string
	exhausted []string
	rotations []string
}

func newFakeCoordinator(current rotation.Combination, chain ...rotation.Combination) *fakeCoordinator {
	return &fakeCoordinator{current: current, chain: chain}
}

func (f *fakeCoordinator) Current() rotation.Combination {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeCoordinator) RecordSuccess(c rotation.Combination, _ time.Duration) {
	f.mu.Lock()
	f.successes = append(f.successes, c.Key())
	f.mu.Unlock()
}

func (f *fakeCoordinator) RecordFailure(c rotation.Combination, _ time.Duration, err error) {
	f.mu.Lock()
	f.failures = append(f.failures, c.Key())
	f.failErrs = append(f.failErrs, err)
	f.mu.Unlock()
}

func (f *fakeCoordinator) MarkAuthFailure(c rotation.Combination) {
	f.mu.Lock()
	f.authMarks = append(f.authMarks, c.Key())
	f.mu.Unlock()
}

func (f *fakeCoordinator) MarkFailureExhausted(c rotation.Combination) {
	f.mu.Lock()
	f.exhausted = append(f.exhausted, c.Key())
	f.mu.Unlock()
}

func (f *fakeCoordinator) Rotate(reason string) (rotation.Combination, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotations = append(f.rotations, reason)
	if len(f.chain) == 0 {
		return rotation.Combination{}, false, nil
	}
	next := f.chain[0]
	f.chain = f.chain[1:]
	f.current = next
	return next, true, nil
}

func noSleep() func(context.Context, time.Duration) error {
	return func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
}

func newTestHandler(coord Coordinator) *Handler {
	h := NewHandler(coord, nil)
	h.sleep = noSleep()
	return h
}

var claude = rotation.Combination{Provider: "claude", Model: "sonnet"}
var gemini = rotation.Combination{Provider: "gemini", Model: "pro"}

func TestExecuteSuccessFirstTry(t *testing.T) {
	coord := newFakeCoordinator(claude)
	h := newTestHandler(coord)

	out := h.Execute(context.Background(), func(context.Context, rotation.Combination) error {
		return nil
	})

	assert.True(t, out.Completed())
	assert.Equal(t, "claude", out.Provider)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, []string{"claude/sonnet"}, coord.successes)
	assert.Empty(t, coord.failures)

	entries := h.History().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, EntryRetry, entries[0].Type)
	assert.True(t, entries[0].Success)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	coord := newFakeCoordinator(claude)
	h := newTestHandler(coord)

	calls := 0
	out := h.Execute(context.Background(), func(context.Context, rotation.Combination) error {
		calls++
		if calls < 3 {
			return errors.New("request timed out")
		}
		return nil
	})

	assert.True(t, out.Completed())
	assert.Equal(t, 3, out.Attempts)
	assert.Zero(t, out.Rotations)
	assert.Len(t, coord.failures, 2)
	assert.Len(t, coord.successes, 1)
	assert.Empty(t, coord.exhausted)

	require.Len(t, coord.failErrs, 2)
	for _, err := range coord.failErrs {
		assert.EqualError(t, err, "request timed out", "the causing error travels with the failure")
	}
}

func TestExecuteAuthFailsImmediately(t *testing.T) {
	coord := newFakeCoordinator(claude, gemini)
	h := newTestHandler(coord)

	calls := 0
	out := h.Execute(context.Background(), func(context.Context, rotation.Combination) error {
		calls++
		return errors.New("401 unauthorized: invalid api key")
	})

	assert.False(t, out.Completed())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, classify.KindAuthentication, out.ErrorKind)
	assert.Equal(t, 1, calls, "no retry for terminal auth errors")
	assert.Equal(t, []string{"claude/sonnet"}, coord.authMarks)
	assert.Empty(t, coord.rotations, "no rotation for the failed slot")
	assert.True(t, rotorerr.IsTerminal(out.Err))
}

func TestExecuteTerminalNonAuthDoesNotMarkAuth(t *testing.T) {
	coord := newFakeCoordinator(claude)
	h := newTestHandler(coord)

	out := h.Execute(context.Background(), func(context.Context, rotation.Combination) error {
		return errors.New("400 bad request")
	})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, classify.KindBadRequest, out.ErrorKind)
	assert.Empty(t, coord.authMarks)
}

func TestExecuteExhaustsThenRotates(t *testing.T) {
	coord := newFakeCoordinator(claude, gemini)
	h := newTestHandler(coord)

	out := h.Execute(context.Background(), func(_ context.Context, c rotation.Combination) error {
		if c.Provider == "claude" {
			return errors.New("request timed out")
		}
		return nil
	})

	require.True(t, out.Completed())
	assert.Equal(t, "gemini", out.Provider)
	// timeout budget is 3 retries: 4 claude attempts, then 1 gemini.
	assert.Equal(t, 5, out.Attempts)
	assert.Equal(t, 1, out.Rotations)
	assert.Equal(t, []rotation.Combination{claude, gemini}, out.Attempted)
	assert.Equal(t, []string{"claude/sonnet"}, coord.exhausted)
	require.Len(t, coord.rotations, 1)
	assert.Equal(t, "retries_exhausted:timeout", coord.rotations[0])
}

func TestExecuteRotationResetsRetryBudget(t *testing.T) {
	coord := newFakeCoordinator(claude, gemini)
	h := newTestHandler(coord)

	geminiCalls := 0
	out := h.Execute(context.Background(), func(_ context.Context, c rotation.Combination) error {
		if c.Provider == "claude" {
			return errors.New("request timed out")
		}
		geminiCalls++
		if geminiCalls < 3 {
			return errors.New("request timed out")
		}
		return nil
	})

	assert.True(t, out.Completed(), "fresh budget on the rotated-to combination")
	assert.Equal(t, 3, geminiCalls)
}

func TestExecuteFailsWhenRotationExhausted(t *testing.T) {
	coord := newFakeCoordinator(claude) // nothing to rotate to
	h := newTestHandler(coord)

	out := h.Execute(context.Background(), func(context.Context, rotation.Combination) error {
		return errors.New("some generic failure of unknown shape")
	})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, classify.KindUnknown, out.ErrorKind)
	// unknown budget is 4 retries: 5 consecutive attempts.
	assert.Equal(t, 5, out.Attempts)
	assert.Equal(t, []string{"claude/sonnet"}, coord.exhausted)
	assert.True(t, rotorerr.IsExhausted(out.Err))
	assert.Equal(t, []rotation.Combination{claude}, out.Attempted)
}

func TestExecuteCancelledBeforeAttempt(t *testing.T) {
	coord := newFakeCoordinator(claude)
	h := newTestHandler(coord)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.Execute(ctx, func(context.Context, rotation.Combination) error {
		t.Fatal("work must not run after cancellation")
		return nil
	})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, classify.KindInterrupted, out.ErrorKind)
	assert.True(t, rotorerr.HasCode(out.Err, rotorerr.CodeRetryCancelled))
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	coord := newFakeCoordinator(claude)
	h := NewHandler(coord, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	out := h.Execute(ctx, func(context.Context, rotation.Combination) error {
		return errors.New("request timed out")
	})

	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, rotorerr.HasCode(out.Err, rotorerr.CodeRetryCancelled))
}

func TestExecuteNilWork(t *testing.T) {
	h := newTestHandler(newFakeCoordinator(claude))
	out := h.Execute(context.Background(), nil)
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, rotorerr.IsInvalidInput(out.Err))
}

func TestHistoryRecordsRotations(t *testing.T) {
	coord := newFakeCoordinator(claude, gemini)
	h := newTestHandler(coord)

	h.Execute(context.Background(), func(_ context.Context, c rotation.Combination) error {
		if c.Provider == "claude" {
			return errors.New("request timed out")
		}
		return nil
	})

	var rotations []HistoryEntry
	for _, e := range h.History().Entries() {
		if e.Type == EntryRotation {
			rotations = append(rotations, e)
		}
	}
	require.Len(t, rotations, 1)
	assert.Equal(t, claude, rotations[0].From)
	assert.Equal(t, gemini, rotations[0].To)
	assert.True(t, rotations[0].Success)
	assert.NotEmpty(t, rotations[0].ID)
	assert.False(t, rotations[0].Timestamp.IsZero())
}

func TestHistoryRingEvictsOldest(t *testing.T) {
	hist := NewHistory(3)
	for i := 0; i < 5; i++ {
		hist.Append(HistoryEntry{Reason: string(rune('a' + i))})
	}

	assert.Equal(t, 3, hist.Len())
	entries := hist.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Reason)
	assert.Equal(t, "e", entries[2].Reason)
}

func TestHistoryDefaultCap(t *testing.T) {
	hist := NewHistory(0)
	for i := 0; i < DefaultHistoryCap+10; i++ {
		hist.Append(HistoryEntry{})
	}
	assert.Equal(t, DefaultHistoryCap, hist.Len())
}
