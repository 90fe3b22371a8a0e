package conflict

import (
	"context"
	"fmt"

	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
)

// Result lists the approved events a window collides with.
type Result struct {
	Conflicts []domain.Event `json:"conflicts"`
}

func (r Result) Clear() bool {
	return len(r.Conflicts) == 0
}

// Err returns a *domain.ConflictError when r is not clear.
func (r Result) Err() error {
	if r.Clear() {
		return nil
	}
	return &domain.ConflictError{Events: r.Conflicts}
}

type Detector struct {
	store repository.Reader
}

func New(store repository.Reader) *Detector {
	return &Detector{store: store}
}

// CheckConflict reports the events of facilityID overlapping w. Pending
// reservations own no event and therefore never conflict.
//
// Parameters:
//   - ctx: request-scoped context.
//   - facilityID: facility to check.
//   - w: proposed half-open window.
//
// Returns:
//   - Result: clear, or the overlapping events ordered by start.
//   - error: domain.ErrInvalidWindow if w.Start is not before w.End.
func (d *Detector) CheckConflict(ctx context.Context, facilityID string, w domain.Window) (Result, error) {
	const op = "service.conflict.CheckConflict"

	return check(ctx, op, d.store, facilityID, w, "")
}

// CheckTx runs the same check on a transaction that already holds the
// facility lock. The event excludeEventID is ignored so a reservation can be
// moved over its own slot.
func CheckTx(ctx context.Context, tx repository.Tx, facilityID string, w domain.Window, excludeEventID string) (Result, error) {
	const op = "service.conflict.CheckTx"

	return check(ctx, op, tx, facilityID, w, excludeEventID)
}

// Recheck reads the conflicts of w outside any transaction, for reporting
// an overlap the storage layer rejected after the lock was released.
func Recheck(ctx context.Context, r repository.Reader, facilityID string, w domain.Window, excludeEventID string) (Result, error) {
	const op = "service.conflict.Recheck"

	return check(ctx, op, r, facilityID, w, excludeEventID)
}

func check(ctx context.Context, op string, r repository.Reader, facilityID string, w domain.Window, exclude string) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	events, err := r.OverlappingEvents(ctx, facilityID, w)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if e.ID == exclude || !e.Window().Overlaps(w) {
			continue
		}
		out = append(out, e)
	}

	return Result{Conflicts: out}, nil
}
