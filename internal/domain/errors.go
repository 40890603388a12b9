package domain

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
	ErrUnavailable = errors.New("unavailable")
	ErrLockHeld    = errors.New("lock already held")
)
