package store

import "errors"

// ErrNotFound is returned by lookups that find no matching row, mirroring
// the teacher stack's repository.ErrNotFound sentinel now that gorm.
// ErrRecordNotFound is no longer in the picture.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyAcked is returned by AckCommand when the command has already
// transitioned to completed; callers treat this as success, not failure.
var ErrAlreadyAcked = errors.New("store: command already acked")
