// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigProviderNotFound     Code = "config.provider.not_found"

	CodeStateLockNotAcquired    Code = "state.lock.not_acquired"
	CodeStateLoadReadFailure    Code = "state.load.read.failure"
	CodeStateSaveWriteFailure   Code = "state.save.write.failure"
	CodeStateClearFailure       Code = "state.clear.failure"
	CodeStateBackendUnsupported Code = "state.backend.unsupported"
	CodeStateDatabaseFailure    Code = "state.database.failure"

	CodeBreakerKeyInvalid Code = "breaker.key.invalid_input"

	CodeRotationNoCandidate     Code = "rotation.candidates.unavailable"
	CodeRotationStrategyUnknown Code = "rotation.strategy.not_found"

	CodeRetryExhausted        Code = "retry.attempts.exhausted"
	CodeRetryTerminal         Code = "retry.error.terminal"
	CodeRetryCancelled        Code = "retry.loop.cancelled"
	CodeRetryWorkInvalidInput Code = "retry.work.invalid_input"

	CodeManagerProviderNotFound Code = "manager.provider.not_found"
	CodeManagerModelNotFound    Code = "manager.model.not_found"
	CodeManagerNoFallback       Code = "manager.fallback.unavailable"

	CodeInternalFailure Code = "rotor.internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldModel(value string) Attr {
	return Field("model", value)
}

func FieldKey(value string) Attr {
	return Field("key", value)
}

func FieldStrategy(value string) Attr {
	return Field("strategy", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

// IsLockNotAcquired reports whether err is the bounded-wait lock timeout
// condition from the state layer.
func IsLockNotAcquired(err error) bool {
	return HasCode(err, CodeStateLockNotAcquired)
}

func IsExhausted(err error) bool {
	return reason(CodeOf(err)) == "exhausted"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

func IsTerminal(err error) bool {
	return reason(CodeOf(err)) == "terminal"
}

func Join(errs ...error) error {
	return oops.Code(CodeInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
