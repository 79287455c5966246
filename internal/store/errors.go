package store

import "errors"

var (
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrConcurrentWrite = errors.New("concurrent write")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrUnavailable     = errors.New("store unavailable")
)
