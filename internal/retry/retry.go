// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package retry is the orchestration facade: it runs a unit of work against
// the current provider/model combination, classifies failures, drives the
// backoff/retry loop, and rotates combinations when a retry budget runs out.
package retry

import (
	"context"
	"time"

	"github.com/rotor-dev/rotor/internal/backoff"
	"github.com/rotor-dev/rotor/internal/classify"
	"github.com/rotor-dev/rotor/internal/rotation"
	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
)

// Work is one provider invocation attempt against a combination. The core
// is agnostic to what it does: subprocess, HTTP call, or SDK call.
type Work func(ctx context.Context, combo rotation.Combination) error

// Status is the terminal state of one Execute call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Outcome is the structured result the caller receives. Classification and
// backoff never escape as panics or stray errors; failures surface here.
type Outcome struct {
	Status    Status
	Err       error
	Message   string
	ErrorKind classify.Kind
	// Provider/Model identify the combination of the final attempt.
	Provider string
	Model    string
	// Attempted lists every combination tried, in order.
	Attempted []rotation.Combination
	Attempts  int
	Rotations int
}

// Completed reports whether the work eventually succeeded.
func (o Outcome) Completed() bool { return o.Status == StatusCompleted }

// Coordinator is the manager surface the retry loop drives. Implementations
// must serialize recordings per combination.
type Coordinator interface {
	// Current returns the authoritative current combination.
	Current() rotation.Combination
	// RecordSuccess and RecordFailure feed health and latency tracking.
	// RecordFailure receives the causing error so implementations can run
	// rate-limit detection on it.
	RecordSuccess(combo rotation.Combination, d time.Duration)
	RecordFailure(combo rotation.Combination, d time.Duration, err error)
	// MarkAuthFailure flags a terminal credential problem on the combination.
	MarkAuthFailure(combo rotation.Combination)
	// MarkFailureExhausted flags a spent retry budget on the combination.
	MarkFailureExhausted(combo rotation.Combination)
	// Rotate asks for the next combination. switched is false when no
	// candidate qualifies, which the loop treats as terminal.
	Rotate(reason string) (next rotation.Combination, switched bool, err error)
}

// Handler runs retry loops against one Coordinator. Handlers are cheap;
// concurrent callers each hold their own while sharing the Coordinator.
type Handler struct {
	coord   Coordinator
	history *History

	sleep   func(ctx context.Context, d time.Duration) error
	nowFunc func() time.Time
}

// NewHandler creates a Handler recording into history (a private ring is
// created when nil).
func NewHandler(coord Coordinator, history *History) *Handler {
	if history == nil {
		history = NewHistory(0)
	}
	return &Handler{
		coord:   coord,
		history: history,
		sleep:   sleepCtx,
		nowFunc: time.Now,
	}
}

// History exposes the attempt/rotation ring for display.
func (h *Handler) History() *History {
	return h.history
}

// SetSleepFunc overrides the backoff sleep for tests.
func (h *Handler) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	h.sleep = fn
}

// Execute runs work with retry, backoff, and rotation. The loop checks ctx
// before every sleep and every rotation; a single in-flight attempt is not
// cancelled mid-call beyond what work itself honors.
func (h *Handler) Execute(ctx context.Context, work Work) Outcome {
	if work == nil {
		err := rotorerr.New(rotorerr.CodeRetryWorkInvalidInput, "nil work")
		return Outcome{Status: StatusFailed, Err: err, Message: err.Error()}
	}

	combo := h.coord.Current()
	attempted := []rotation.Combination{combo}
	retryCount := 0
	attempts := 0
	rotations := 0

	for {
		if err := ctx.Err(); err != nil {
			return h.failed(combo, attempted, attempts, rotations, classify.KindInterrupted,
				rotorerr.Wrap(err, rotorerr.CodeRetryCancelled, "retry loop cancelled"))
		}

		start := h.nowFunc()
		err := work(ctx, combo)
		elapsed := h.nowFunc().Sub(start)
		attempts++

		if err == nil {
			h.coord.RecordSuccess(combo, elapsed)
			h.record(EntryRetry, combo, combo, true, elapsed, "completed")
			return Outcome{
				Status:    StatusCompleted,
				Provider:  combo.Provider,
				Model:     combo.Model,
				Attempted: attempted,
				Attempts:  attempts,
				Rotations: rotations,
			}
		}

		res := classify.Classify(err)
		h.coord.RecordFailure(combo, elapsed, err)
		h.record(EntryRetry, combo, combo, false, elapsed, string(res.Kind))

		if res.Terminal {
			if res.Kind == classify.KindAuthentication {
				h.coord.MarkAuthFailure(combo)
			}
			return h.failed(combo, attempted, attempts, rotations, res.Kind,
				rotorerr.Wrapf(err, rotorerr.CodeRetryTerminal, "terminal %s error", res.Kind))
		}

		retryCount++
		if retryCount > classify.MaxRetries(res.Kind) {
			h.coord.MarkFailureExhausted(combo)

			next, switched, rotErr := h.coord.Rotate("retries_exhausted:" + string(res.Kind))
			h.record(EntryRotation, combo, next, switched, 0, string(res.Kind))
			if rotErr != nil || !switched {
				return h.failed(combo, attempted, attempts, rotations, res.Kind,
					rotorerr.Wrapf(err, rotorerr.CodeRetryExhausted,
						"retries and rotation exhausted after %d attempts", attempts))
			}

			combo = next
			attempted = append(attempted, combo)
			rotations++
			retryCount = 0
			continue
		}

		delay := backoff.ForKind(res.Kind).Delay(retryCount - 1)
		if delay > 0 {
			if err := h.sleep(ctx, delay); err != nil {
				return h.failed(combo, attempted, attempts, rotations, classify.KindInterrupted,
					rotorerr.Wrap(err, rotorerr.CodeRetryCancelled, "cancelled during backoff"))
			}
		}
	}
}

func (h *Handler) failed(combo rotation.Combination, attempted []rotation.Combination,
	attempts, rotations int, kind classify.Kind, err error) Outcome {
	return Outcome{
		Status:    StatusFailed,
		Err:       err,
		Message:   err.Error(),
		ErrorKind: kind,
		Provider:  combo.Provider,
		Model:     combo.Model,
		Attempted: attempted,
		Attempts:  attempts,
		Rotations: rotations,
	}
}

func (h *Handler) record(t EntryType, from, to rotation.Combination, success bool, d time.Duration, reason string) {
	h.history.Append(HistoryEntry{
		Type:     t,
		From:     from,
		To:       to,
		Success:  success,
		Duration: d,
		Reason:   reason,
	})
}

// sleepCtx blocks for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
