// Package broker implements the run lifecycle contract: create, list,
// ingest events, enqueue and poll commands, checkpoint and resume state,
// and restart. It sits between the HTTP layer and the store, and is the
// only place that knows how an event's marker payload drives a run's
// status transitions.
package broker

import "errors"

var (
	// ErrValidation marks a malformed request body or parameter.
	ErrValidation = errors.New("broker: validation")
	// ErrNotRunning is returned when a command targets a run that is not
	// currently running and the command is not the debounce-eligible stop
	// sentinel.
	ErrNotRunning = errors.New("broker: run is not running")
	// ErrNotAllowlisted is returned when a non-sentinel command does not
	// match a configured allowlist prefix.
	ErrNotAllowlisted = errors.New("broker: command not allowlisted")
	// ErrCapabilityMismatch is returned when a wrapper's capability token
	// does not match the target run.
	ErrCapabilityMismatch = errors.New("broker: capability mismatch")
)
