package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kirinyoku/reservo/internal/cache"
	"github.com/kirinyoku/reservo/internal/clock"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
	"github.com/kirinyoku/reservo/internal/service/conflict"
	"github.com/kirinyoku/reservo/internal/uow"
)

// Invalidator marks cached views stale.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) error
}

// Notifier is told about every committed status transition.
type Notifier interface {
	StatusChanged(ctx context.Context, c domain.StatusChange) error
}

type SubmitRequest struct {
	FacilityID  string
	Title       string
	Description string
	Location    string
	Window      domain.Window
}

type Service struct {
	store    repository.Store
	uow      *uow.UoW
	cache    Invalidator
	notifier Notifier
	clock    clock.Clock
	log      *slog.Logger
}

func New(
	store repository.Store,
	cache Invalidator,
	notifier Notifier,
	clk clock.Clock,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:    store,
		uow:      uow.NewUoW(store),
		cache:    cache,
		notifier: notifier,
		clock:    clk,
		log:      log,
	}
}

// Submit records a pending reservation. Conflicts are not checked here;
// they are resolved when an admin approves.
//
// Parameters:
//   - ctx: request-scoped context.
//   - actor: requester, becomes the reservation owner.
//   - req: facility, descriptive text and requested window.
//
// Returns:
//   - *domain.Reservation: the stored pending reservation.
//   - error: domain.ErrInvalidWindow if the window is empty, reversed or not in the future.
func (s *Service) Submit(ctx context.Context, actor domain.Actor, req SubmitRequest) (*domain.Reservation, error) {
	const op = "service.approval.Submit"

	now := s.clock.Now()

	if err := req.Window.ValidateFuture(now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := domain.Reservation{
		ID:          uuid.NewString(),
		FacilityID:  req.FacilityID,
		RequesterID: actor.ID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Window:      req.Window,
		Status:      domain.StatusPending,
		CreatedAt:   now,
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		if err := tx.CreateReservation(ctx, res); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.invalidate(ctx, op, cache.TagReservations, cache.TagSession)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &res, nil
}

// Approve moves a pending reservation to approved and books its event. The
// conflict re-check and the insert run under the facility lock, so two
// overlapping approvals on one facility never both succeed.
//
// Returns:
//   - error: *domain.ConflictError listing the blocking events; status stays pending.
//   - error: *domain.StateError if the reservation is not pending.
//   - error: *domain.NotFoundError if the reservation does not exist.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	const op = "service.approval.Approve"

	return s.transition(ctx, op, actor, id, func(ctx context.Context, tx repository.Tx, r *domain.Reservation) (effect, error) {
		if r.Status != domain.StatusPending {
			return effect{}, &domain.StateError{ReservationID: r.ID, Status: r.Status, Op: "approve"}
		}

		if err := tx.LockFacility(ctx, r.FacilityID); err != nil {
			return effect{}, err
		}

		check, err := conflict.CheckTx(ctx, tx, r.FacilityID, r.Window, "")
		if err != nil {
			return effect{}, err
		}
		if err := check.Err(); err != nil {
			return effect{}, err
		}

		if err := tx.CreateEvent(ctx, eventFor(*r, r.Window)); err != nil {
			return effect{}, asOverlap(err, r.FacilityID, r.Window, "")
		}

		r.Status = domain.StatusApproved

		return effect{changed: true, calendar: true}, nil
	})
}

func (s *Service) Deny(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	const op = "service.approval.Deny"

	return s.transition(ctx, op, actor, id, func(_ context.Context, _ repository.Tx, r *domain.Reservation) (effect, error) {
		if r.Status != domain.StatusPending {
			return effect{}, &domain.StateError{ReservationID: r.ID, Status: r.Status, Op: "deny"}
		}

		r.Status = domain.StatusDenied

		return effect{changed: true}, nil
	})
}

// Cancel releases an approved reservation and deletes its event. Only an
// admin or the requester may cancel.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	const op = "service.approval.Cancel"

	return s.transition(ctx, op, actor, id, func(ctx context.Context, tx repository.Tx, r *domain.Reservation) (effect, error) {
		if !actor.Admin && actor.ID != r.RequesterID {
			return effect{}, domain.ErrForbidden
		}

		if r.Status != domain.StatusApproved {
			return effect{}, &domain.StateError{ReservationID: r.ID, Status: r.Status, Op: "cancel"}
		}

		ev, err := tx.EventByReservation(ctx, r.ID)
		switch {
		case err == nil:
			if err := tx.DeleteEvent(ctx, ev.ID); err != nil {
				return effect{}, err
			}
		case !errors.Is(err, repository.ErrNotFound):
			return effect{}, err
		}

		r.Status = domain.StatusCancelled

		return effect{changed: true, calendar: true}, nil
	})
}

// SetInPerson marks an approved reservation as confirmed on site. Setting
// it again is a no-op.
func (s *Service) SetInPerson(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	const op = "service.approval.SetInPerson"

	return s.transition(ctx, op, actor, id, func(_ context.Context, _ repository.Tx, r *domain.Reservation) (effect, error) {
		if r.Status != domain.StatusApproved {
			return effect{}, &domain.StateError{ReservationID: r.ID, Status: r.Status, Op: "mark in person"}
		}
		if r.InPerson {
			return effect{}, nil
		}

		r.InPerson = true

		return effect{changed: true}, nil
	})
}

// SetPaid marks an approved reservation as settled. Setting it again is a
// no-op.
func (s *Service) SetPaid(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	const op = "service.approval.SetPaid"

	return s.transition(ctx, op, actor, id, func(_ context.Context, _ repository.Tx, r *domain.Reservation) (effect, error) {
		if r.Status != domain.StatusApproved {
			return effect{}, &domain.StateError{ReservationID: r.ID, Status: r.Status, Op: "mark paid"}
		}
		if r.Paid {
			return effect{}, nil
		}

		r.Paid = true

		return effect{changed: true}, nil
	})
}

// Reschedule moves an approved reservation to w. The old event is deleted
// and a new one created, both under the facility lock.
//
// Returns:
//   - error: domain.ErrInvalidWindow if w is invalid or not in the future.
//   - error: *domain.ConflictError if w overlaps another approved event.
//   - error: *domain.StateError if the reservation is not approved.
func (s *Service) Reschedule(ctx context.Context, actor domain.Actor, id string, w domain.Window) (*domain.Reservation, error) {
	const op = "service.approval.Reschedule"

	if err := w.ValidateFuture(s.clock.Now()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.transition(ctx, op, actor, id, func(ctx context.Context, tx repository.Tx, r *domain.Reservation) (effect, error) {
		if r.Status != domain.StatusApproved {
			return effect{}, &domain.StateError{ReservationID: r.ID, Status: r.Status, Op: "reschedule"}
		}

		if err := tx.LockFacility(ctx, r.FacilityID); err != nil {
			return effect{}, err
		}

		old, err := tx.EventByReservation(ctx, r.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return effect{}, err
		}

		exclude := ""
		if old != nil {
			exclude = old.ID
		}

		check, err := conflict.CheckTx(ctx, tx, r.FacilityID, w, exclude)
		if err != nil {
			return effect{}, err
		}
		if err := check.Err(); err != nil {
			return effect{}, err
		}

		if old != nil {
			if err := tx.DeleteEvent(ctx, old.ID); err != nil {
				return effect{}, err
			}
		}

		if err := tx.CreateEvent(ctx, eventFor(*r, w)); err != nil {
			return effect{}, asOverlap(err, r.FacilityID, w, exclude)
		}

		r.Window = w

		return effect{changed: true, calendar: true}, nil
	})
}

type effect struct {
	changed  bool
	calendar bool
}

type mutation func(ctx context.Context, tx repository.Tx, r *domain.Reservation) (effect, error)

// transition loads the reservation with a row lock, applies fn and persists
// the result. Cache invalidation and notification run after commit and
// before transition returns.
func (s *Service) transition(
	ctx context.Context,
	op string,
	actor domain.Actor,
	id string,
	fn mutation,
) (*domain.Reservation, error) {
	var out domain.Reservation

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return &domain.NotFoundError{Kind: "reservation", ID: id}
			}
			return err
		}

		from := r.Status

		eff, err := fn(ctx, tx, r)
		if err != nil {
			return err
		}

		out = *r

		if !eff.changed {
			return nil
		}

		if err := tx.UpdateReservation(ctx, *r); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			tags := []string{cache.TagReservations, cache.TagSession, cache.ReservationTag(r.ID)}
			if eff.calendar {
				tags = append(tags, cache.FacilityTag(r.FacilityID))
			}
			s.invalidate(ctx, op, tags...)

			if from != r.Status {
				s.notify(ctx, op, domain.StatusChange{
					ReservationID: r.ID,
					FacilityID:    r.FacilityID,
					RequesterID:   r.RequesterID,
					From:          from,
					To:            r.Status,
					ActorID:       actor.ID,
					At:            s.clock.Now(),
				})
			}
		})

		return nil
	})
	if err != nil {
		var oe *overlapError
		if errors.As(err, &oe) {
			err = s.overlapConflict(ctx, op, oe)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &out, nil
}

// overlapError is an event insert the storage layer rejected as
// overlapping, kept with enough context to name the blocking events once
// the transaction has rolled back.
type overlapError struct {
	facilityID string
	window     domain.Window
	exclude    string
	err        error
}

func (e *overlapError) Error() string { return e.err.Error() }

func (e *overlapError) Unwrap() error { return e.err }

func asOverlap(err error, facilityID string, w domain.Window, exclude string) error {
	if !errors.Is(err, repository.ErrOverlap) {
		return err
	}
	return &overlapError{facilityID: facilityID, window: w, exclude: exclude, err: err}
}

// overlapConflict re-reads the events blocking oe. The conflict stands even
// when they cannot be read back.
func (s *Service) overlapConflict(ctx context.Context, op string, oe *overlapError) error {
	res, err := conflict.Recheck(ctx, s.store, oe.facilityID, oe.window, oe.exclude)
	if err != nil {
		s.log.Warn("reading conflicting events failed", "op", op, "facility_id", oe.facilityID, "err", err)
		return &domain.ConflictError{}
	}
	if res.Clear() {
		return &domain.ConflictError{}
	}
	return res.Err()
}

func (s *Service) invalidate(ctx context.Context, op string, tags ...string) {
	if s.cache == nil {
		return
	}
	// a failed tag is served uncached until its bump lands
	if err := s.cache.Invalidate(ctx, tags...); err != nil {
		s.log.Warn("cache invalidation failed", "op", op, "tags", tags, "err", err)
	}
}

func (s *Service) notify(ctx context.Context, op string, c domain.StatusChange) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.StatusChanged(ctx, c); err != nil {
		s.log.Warn("status notification failed", "op", op, "reservation_id", c.ReservationID, "err", err)
	}
}

func eventFor(r domain.Reservation, w domain.Window) domain.Event {
	return domain.Event{
		ID:            uuid.NewString(),
		FacilityID:    r.FacilityID,
		ReservationID: r.ID,
		Starts:        w.Start,
		Ends:          w.End,
		Title:         r.Title,
		Color:         domain.ColorDefault,
		Location:      r.Location,
		Description:   r.Description,
	}
}
