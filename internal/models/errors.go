package models

import "errors"

var (
	ErrPermissionDenied   = errors.New("location permission denied")
	ErrProviderTimeout    = errors.New("geocoding provider timed out")
	ErrProviderError      = errors.New("geocoding provider error")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrNotFound           = errors.New("not found")
	ErrMalformed          = errors.New("malformed event")

	ErrSessionStopped    = errors.New("tracking session stopped")
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrIllegalTransition = errors.New("illegal status transition")
)
