package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrorKind is the fixed failure taxonomy surfaced to users.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindCancelled           ErrorKind = "cancelled"
	KindConnection          ErrorKind = "connection"
	KindRateLimited         ErrorKind = "rate_limited"
	KindInsufficientCredits ErrorKind = "insufficient_credits"
	KindNoData              ErrorKind = "no_data"
	KindResourceLimit       ErrorKind = "resource_limit"
	KindServer              ErrorKind = "server"
	KindValidation          ErrorKind = "validation"
	KindIntegrityConflict   ErrorKind = "integrity_conflict"
	KindGeneric             ErrorKind = "generic"
)

// Retryable reports whether an operation failing with k may be retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindConnection, KindServer, KindRateLimited, KindNoData, KindGeneric:
		return true
	}
	return false
}

// Error is a classified failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with kind and operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a local validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// ErrNoImage is returned when an action needs a captured image.
var ErrNoImage = errors.New("no captured image")

// StatusCoder is implemented by transport errors carrying an HTTP-like status.
type StatusCoder interface {
	StatusCode() int
}

// Classify maps err onto the taxonomy. Typed errors win, then context
// errors, then status codes, then the message rules.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Kind != KindNone {
		return typed.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnection
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		if k := kindForStatus(sc.StatusCode()); k != KindNone {
			return k
		}
	}
	if k, ok := errorRules.Match(err.Error()); ok {
		return ErrorKind(k)
	}
	return KindGeneric
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == 402:
		return KindInsufficientCredits
	case code == 404 || code == 204:
		return KindNoData
	case code == 409:
		return KindIntegrityConflict
	case code == 413:
		return KindResourceLimit
	case code == 429:
		return KindRateLimited
	case code == 408 || code == 504:
		return KindConnection
	case code >= 500:
		return KindServer
	case code == 400 || code == 422:
		return KindValidation
	}
	return KindNone
}

// IsCancellation reports whether err is a user-initiated cancellation.
func IsCancellation(err error) bool { return Classify(err) == KindCancelled }

const maxGenericMessage = 120

var kindMessages = map[ErrorKind]string{
	KindConnection:          "Connection problem. Check your network and try again.",
	KindRateLimited:         "Too many requests. Wait a moment and try again.",
	KindInsufficientCredits: "Not enough credits for this operation.",
	KindNoData:              "The analysis returned no usable data. Try another photo.",
	KindResourceLimit:       "The photo is too large to process. Use a smaller image.",
	KindServer:              "The service is temporarily unavailable. Try again shortly.",
	KindIntegrityConflict:   "This record conflicts with existing data.",
}

// UserMessage returns the short message shown for err. Validation errors
// show their own text; unclassified errors show the raw message capped to a
// safe length.
func UserMessage(err error) string {
	kind := Classify(err)
	switch kind {
	case KindNone, KindCancelled:
		return ""
	case KindValidation:
		var typed *Error
		if errors.As(err, &typed) && typed.Err != nil {
			return typed.Err.Error()
		}
		return truncate(err.Error(), maxGenericMessage)
	case KindGeneric:
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			return "Something went wrong. Please try again."
		}
		return truncate(msg, maxGenericMessage)
	}
	return kindMessages[kind]
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
