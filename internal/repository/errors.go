package repository

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrOverlap     = errors.New("overlapping event")
	ErrUnavailable = errors.New("storage unavailable")
)
