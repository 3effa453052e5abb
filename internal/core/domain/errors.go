package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive      = errors.New("session already active")
	ErrInvalidTransition  = errors.New("invalid session state transition")
	ErrDisposed           = errors.New("session controller disposed")
	ErrAcquireAbandoned   = errors.New("media acquisition abandoned")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionLimit       = errors.New("too many open sessions")
	ErrNotPracticeFlow    = errors.New("operation requires a practice session")
	ErrInvalidFlow        = errors.New("unknown session flow")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrIdentityNotFound   = errors.New("identity session not found")
	ErrUploadNotFound     = errors.New("upload not found")
	ErrUnsupportedFile    = errors.New("unsupported file type")
	ErrFileTooLarge       = errors.New("file too large")
)

type MediaErrorKind string

const (
	MediaPermissionDenied MediaErrorKind = "permission_denied"
	MediaDeviceNotFound   MediaErrorKind = "device_not_found"
	MediaDeviceInUse      MediaErrorKind = "device_in_use"
	MediaUnknown          MediaErrorKind = "unknown"
)

// MediaError reports why the platform media layer refused an acquisition.
// It is a normal, retryable outcome rather than a fault.
type MediaError struct {
	Kind   MediaErrorKind
	Reason string
	Err    error
}

func NewMediaError(kind MediaErrorKind, reason string) *MediaError {
	return &MediaError{Kind: kind, Reason: reason}
}

func (e *MediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("media %s: %s", e.Kind, e.Reason)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// AsMediaError returns err as a *MediaError, classifying foreign errors as
// MediaUnknown.
func AsMediaError(err error) *MediaError {
	if err == nil {
		return nil
	}
	var me *MediaError
	if errors.As(err, &me) {
		return me
	}
	return &MediaError{Kind: MediaUnknown, Reason: "media acquisition failed", Err: err}
}
