// Package apperr defines the user-visible error taxonomy and a reporter that
// keeps the current error plus a bounded history.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a reportable failure.
type Kind string

const (
	KindPermissionDenied      Kind = "permission_denied"
	KindPermissionRestricted  Kind = "permission_restricted"
	KindPermissionUnknown     Kind = "permission_unknown"
	KindEventFetchFailed      Kind = "event_fetch_failed"
	KindPreferencesLoadFailed Kind = "preferences_load_failed"
	KindPreferencesSaveFailed Kind = "preferences_save_failed"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrPermissionRestricted  = &Error{Kind: KindPermissionRestricted}
	ErrPermissionUnknown     = &Error{Kind: KindPermissionUnknown}
	ErrEventFetchFailed      = &Error{Kind: KindEventFetchFailed}
	ErrPreferencesLoadFailed = &Error{Kind: KindPreferencesLoadFailed}
	ErrPreferencesSaveFailed = &Error{Kind: KindPreferencesSaveFailed}
)

// FetchKinds are the kinds an event source can produce.
var FetchKinds = []Kind{
	KindPermissionDenied,
	KindPermissionRestricted,
	KindPermissionUnknown,
	KindEventFetchFailed,
}

// Error is a classified failure with an optional human-readable detail and
// an optional wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// New builds an *Error of kind k wrapping err.
func New(k Kind, detail string, err error) *Error {
	return &Error{Kind: k, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on Kind only, so errors.Is(err, ErrEventFetchFailed) holds for
// every fetch failure regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain. Unclassified
// errors report KindEventFetchFailed with ok=false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind, true
	}
	return KindEventFetchFailed, false
}

// Classify returns err as an *Error, wrapping unclassified errors in the
// fallback kind.
func Classify(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e
	}
	return &Error{Kind: fallback, Err: err}
}

// Errorf builds an *Error with a formatted detail.
func Errorf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...)}
}
