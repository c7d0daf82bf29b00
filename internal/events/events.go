// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package events emits the core's structured observability events to an
// injected slog sink. The core formats nothing and persists nothing; an
// external logger/metrics consumer owns that.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the event kinds the core emits.
type Type string

const (
	TypeError          Type = "error"
	TypeRecovery       Type = "recovery"
	TypeSwitch         Type = "switch"
	TypeRetry          Type = "retry"
	TypeCircuitBreaker Type = "circuit_breaker"
	TypeRateLimit      Type = "rate_limit"
	TypePersistence    Type = "persistence"
)

// Event is one structured occurrence.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Provider  string
	Model     string
	Reason    string
	Attrs     []slog.Attr
}

// Emitter receives events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// SlogEmitter renders events to a *slog.Logger.
type SlogEmitter struct {
	log *slog.Logger
}

// NewSlogEmitter wraps log; nil falls back to slog.Default().
func NewSlogEmitter(log *slog.Logger) *SlogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &SlogEmitter{log: log}
}

// Emit writes the event at a level matched to its type.
func (s *SlogEmitter) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	attrs := make([]slog.Attr, 0, len(e.Attrs)+4)
	attrs = append(attrs,
		slog.String("event_id", e.ID),
		slog.String("event_type", string(e.Type)),
	)
	if e.Provider != "" {
		attrs = append(attrs, slog.String("provider", e.Provider))
	}
	if e.Model != "" {
		attrs = append(attrs, slog.String("model", e.Model))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	attrs = append(attrs, e.Attrs...)

	level := slog.LevelInfo
	switch e.Type {
	case TypeError, TypeCircuitBreaker:
		level = slog.LevelWarn
	case TypeRetry, TypePersistence:
		level = slog.LevelDebug
	}

	s.log.LogAttrs(ctx, level, string(e.Type), attrs...)
}

// Nop discards every event. Useful default for tests and library embedding.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
