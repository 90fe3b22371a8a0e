package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidWindow      = errors.New("invalid window")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidInput       = errors.New("invalid input")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrRateLimited        = errors.New("rate limited")
)

type WindowError struct {
	Field  string
	Reason string
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("invalid window: %s %s", e.Field, e.Reason)
}

func (e *WindowError) Is(target error) bool { return target == ErrInvalidWindow }

type StateError struct {
	ReservationID string
	Status        Status
	Op            string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s reservation %s in status %s", e.Op, e.ReservationID, e.Status)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError carries the events that block an approval.
type ConflictError struct {
	Events []Event
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("scheduling conflict with events: %s", strings.Join(e.EventIDs(), ","))
}

func (e *ConflictError) Is(target error) bool { return target == ErrSchedulingConflict }

func (e *ConflictError) EventIDs() []string {
	ids := make([]string, 0, len(e.Events))
	for _, ev := range e.Events {
		ids = append(ids, ev.ID)
	}
	return ids
}

type AmountError struct {
	AmountCents int64
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("fee amount must be positive, got %d", e.AmountCents)
}

func (e *AmountError) Is(target error) bool { return target == ErrInvalidAmount }

type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
