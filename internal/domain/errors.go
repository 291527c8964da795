package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTitle          = errors.New("title must not be empty")
	ErrEditInProgress      = errors.New("a session is being renamed")
	ErrNotEditing          = errors.New("session is not being renamed")
	ErrDeleteNotConfirmed  = errors.New("delete was not requested for this session")
	ErrDeleteInProgress    = errors.New("session is being deleted")
	ErrSessionNotFound     = errors.New("session not found")
	ErrNoToken             = errors.New("no authentication token available")
	ErrTokenExpired        = errors.New("authentication token expired")
	ErrUnauthorized        = errors.New("not authorized")
	ErrRateLimited         = errors.New("too many requests")
	ErrStaleResponse       = errors.New("response superseded by a newer session")
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrDeviceUnavailable   = errors.New("audio device unavailable")
	ErrNotRecording        = errors.New("not recording")
	ErrAttachmentRejected  = errors.New("attachment type not accepted")
	ErrUnsupportedMIMEType = errors.New("unsupported file type")
)

// ErrorKind classifies failures by how the UI should react to them.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindAuth        ErrorKind = "auth"
	KindNetwork     ErrorKind = "network"
	KindRateLimited ErrorKind = "rate_limited"
	KindStale       ErrorKind = "stale"
	KindMediaAccess ErrorKind = "media_access"
	KindUnknown     ErrorKind = "unknown"
)

// RateLimitedMessage is shown when the backend answers 429.
const RateLimitedMessage = "Too many requests. Please wait before sending more messages."

// Error is a classified failure raised at the boundary of a backend or media
// call.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Bare validation sentinels are recognised
// even when they were never wrapped in an *Error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrEmptyTitle),
		errors.Is(err, ErrEditInProgress), errors.Is(err, ErrNotEditing),
		errors.Is(err, ErrDeleteNotConfirmed), errors.Is(err, ErrDeleteInProgress),
		errors.Is(err, ErrAttachmentRejected), errors.Is(err, ErrUnsupportedMIMEType),
		errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNotRecording):
		return KindValidation
	case errors.Is(err, ErrNoToken), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrUnauthorized):
		return KindAuth
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrStaleResponse):
		return KindStale
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
		return KindMediaAccess
	}
	return KindUnknown
}

// UserMessage renders err as text suitable for a notification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindAuth:
		return "Please sign in again."
	case KindRateLimited:
		return RateLimitedMessage
	case KindMediaAccess:
		return "Could not access microphone. Please check permissions."
	case KindNetwork:
		var e *Error
		if errors.As(err, &e) && e.Detail != "" {
			return e.Detail
		}
		return "Network request failed"
	case KindValidation:
		var e *Error
		if errors.As(err, &e) && e.Err != nil {
			return e.Err.Error()
		}
		return err.Error()
	}
	return "Something went wrong"
}
