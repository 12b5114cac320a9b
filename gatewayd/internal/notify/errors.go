package notify

import "errors"

// Sentinel errors returned by senders. Callers use errors.Is for comparison.
var (
	// ErrSendFailed wraps a delivery failure on one channel; it is never
	// fatal to the caller — notify fires in its own goroutine off the
	// broker's event stream.
	ErrSendFailed = errors.New("notify: send failed")

	// ErrConfigNotFound is returned when a channel's settings keys are
	// entirely absent — that channel is simply not configured.
	ErrConfigNotFound = errors.New("notify: configuration not found")

	// ErrInvalidConfig is returned when a channel's settings exist but are
	// incomplete or malformed.
	ErrInvalidConfig = errors.New("notify: invalid configuration")
)
