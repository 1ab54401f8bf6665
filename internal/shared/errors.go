package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures so callers can map them to a remediation path.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindState         Kind = "STATE"
	KindNotAuthorized Kind = "NOT_AUTHORIZED"
	KindRuleViolation Kind = "RULE_VIOLATION"
	KindPrecision     Kind = "PRECISION"
	KindRace          Kind = "RACE"
	KindInternal      Kind = "INTERNAL"
)

// Error is the single error type surfaced by core operations.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Violations []string
	Warnings   []string
	Err        error
}

// Kind sentinels. errors.Is(err, ErrValidation) matches any validation error.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrState         = &Error{Kind: KindState}
	ErrNotAuthorized = &Error{Kind: KindNotAuthorized}
	ErrRuleViolation = &Error{Kind: KindRuleViolation}
	ErrPrecision     = &Error{Kind: KindPrecision}
	ErrRace          = &Error{Kind: KindRace}
	ErrInternal      = &Error{Kind: KindInternal}
)

// NewError declares a coded error, typically as a package-level sentinel.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation builds an ad-hoc validation error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotAuthorized builds an ad-hoc authorization error.
func NotAuthorized(format string, args ...any) *Error {
	return &Error{Kind: KindNotAuthorized, Code: "not_authorized", Message: fmt.Sprintf(format, args...)}
}

// RuleViolation carries the full rules-engine vectors.
func RuleViolation(code string, violations, warnings []string) *Error {
	return &Error{
		Kind:       KindRuleViolation,
		Code:       code,
		Message:    strings.Join(violations, "; "),
		Violations: append([]string(nil), violations...),
		Warnings:   append([]string(nil), warnings...),
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(string(e.Kind))
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels by kind and coded errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// WithMessage returns a copy carrying a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy that wraps cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// KindOf extracts the Kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError converts any error into *Error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Code: "internal", Message: "internal error", Err: err}
}
