// Package facade is the boundary transports call. It checks the actor,
// validates input before any write and translates storage failures into
// domain errors.
package facade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirinyoku/reservo/internal/cache"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
	"github.com/kirinyoku/reservo/internal/service/approval"
	"github.com/kirinyoku/reservo/internal/service/conflict"
	"github.com/kirinyoku/reservo/internal/service/ledger"
	"github.com/kirinyoku/reservo/internal/service/query"
)

// Limiter throttles submissions per actor.
type Limiter interface {
	Allow(ctx context.Context, subject string) (bool, time.Duration, error)
}

type Deps struct {
	Approval *approval.Service
	Ledger   *ledger.Service
	Query    *query.Service
	Detector *conflict.Detector
	Cache    *cache.Layer
	Limiter  Limiter
}

type Facade struct {
	approval *approval.Service
	ledger   *ledger.Service
	query    *query.Service
	detector *conflict.Detector
	cache    *cache.Layer
	limiter  Limiter
}

func New(d Deps) *Facade {
	return &Facade{
		approval: d.Approval,
		ledger:   d.Ledger,
		query:    d.Query,
		detector: d.Detector,
		cache:    d.Cache,
		limiter:  d.Limiter,
	}
}

// SubmitReservation files a pending request on behalf of actor.
//
// Returns:
//   - error: domain.ErrUnauthenticated for an anonymous actor.
//   - error: domain.ErrInvalidInput or domain.ErrInvalidWindow for bad input.
//   - error: domain.ErrRateLimited when actor submits too often.
func (f *Facade) SubmitReservation(ctx context.Context, actor domain.Actor, in SubmitInput) (*domain.Reservation, error) {
	const op = "facade.SubmitReservation"

	if err := authenticated(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if f.limiter != nil {
		ok, retry, err := f.limiter.Allow(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, translate(err))
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, &domain.RateLimitError{RetryAfter: retry})
		}
	}

	r, err := f.approval.Submit(ctx, actor, approval.SubmitRequest{
		FacilityID:  strings.TrimSpace(in.FacilityID),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Location:    in.Location,
		Window:      in.Window(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return r, nil
}

func (f *Facade) Approve(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	return f.adminTransition(ctx, "facade.Approve", actor, id, f.approval.Approve)
}

func (f *Facade) Deny(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	return f.adminTransition(ctx, "facade.Deny", actor, id, f.approval.Deny)
}

func (f *Facade) SetInPerson(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	return f.adminTransition(ctx, "facade.SetInPerson", actor, id, f.approval.SetInPerson)
}

func (f *Facade) SetPaid(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	return f.adminTransition(ctx, "facade.SetPaid", actor, id, f.approval.SetPaid)
}

// Cancel is open to the requester as well as admins; ownership is checked
// against the stored reservation.
func (f *Facade) Cancel(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error) {
	const op = "facade.Cancel"

	if err := authenticated(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireID("id", id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r, err := f.approval.Cancel(ctx, actor, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return r, nil
}

func (f *Facade) Reschedule(ctx context.Context, actor domain.Actor, id string, start, end time.Time) (*domain.Reservation, error) {
	const op = "facade.Reschedule"

	if err := adminOnly(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireID("id", id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w := domain.Window{Start: start.UTC(), End: end.UTC()}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r, err := f.approval.Reschedule(ctx, actor, id, w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return r, nil
}

func (f *Facade) AddFee(ctx context.Context, actor domain.Actor, reservationID string, in FeeInput) (*domain.Fee, error) {
	const op = "facade.AddFee"

	if err := adminOnly(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireID("id", reservationID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	fee, err := f.ledger.AddFee(ctx, reservationID, in.AmountCents, strings.TrimSpace(in.Label))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return fee, nil
}

func (f *Facade) RemoveFee(ctx context.Context, actor domain.Actor, feeID string) (*domain.Fee, error) {
	const op = "facade.RemoveFee"

	if err := adminOnly(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireID("id", feeID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	fee, err := f.ledger.RemoveFee(ctx, feeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return fee, nil
}

// GetRequestCount returns the pending request count, global when
// facilityID is empty.
func (f *Facade) GetRequestCount(ctx context.Context, actor domain.Actor, facilityID string) (int64, error) {
	const op = "facade.GetRequestCount"

	if err := adminOnly(actor); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(facilityID) > maxIDLen {
		return 0, fmt.Errorf("%s: %w", op, &domain.InputError{Field: "facility_id", Reason: "too long"})
	}

	n, err := f.query.RequestCount(ctx, facilityID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, translate(err))
	}

	return n, nil
}

func (f *Facade) ListReservations(ctx context.Context, actor domain.Actor, in ListInput) ([]domain.Reservation, error) {
	const op = "facade.ListReservations"

	if err := adminOnly(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := f.query.ListReservations(ctx, in.Status, in.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return out, nil
}

func (f *Facade) ListMyReservations(ctx context.Context, actor domain.Actor) ([]domain.Reservation, error) {
	const op = "facade.ListMyReservations"

	if err := authenticated(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := f.query.MyReservations(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return out, nil
}

func (f *Facade) UpcomingReservations(ctx context.Context, actor domain.Actor) ([]domain.Reservation, error) {
	const op = "facade.UpcomingReservations"

	if err := adminOnly(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := f.query.Upcoming(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return out, nil
}

// GetReservation is visible to admins and to the requester.
func (f *Facade) GetReservation(ctx context.Context, actor domain.Actor, id string) (*domain.ReservationDetails, error) {
	const op = "facade.GetReservation"

	if err := authenticated(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireID("id", id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	d, err := f.query.Reservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	if !actor.Admin && d.Reservation.RequesterID != actor.ID {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrForbidden)
	}

	return d, nil
}

func (f *Facade) GetFacilityCalendar(ctx context.Context, actor domain.Actor, facilityID string, from, to time.Time) ([]domain.Event, error) {
	const op = "facade.GetFacilityCalendar"

	if err := authenticated(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireID("facility_id", facilityID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := f.query.FacilityCalendar(ctx, facilityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return out, nil
}

// CheckConflict lets a requester see whether a window is already taken
// before submitting. It reads committed events only.
func (f *Facade) CheckConflict(ctx context.Context, actor domain.Actor, facilityID string, start, end time.Time) (conflict.Result, error) {
	const op = "facade.CheckConflict"

	if err := authenticated(actor); err != nil {
		return conflict.Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireID("facility_id", facilityID); err != nil {
		return conflict.Result{}, fmt.Errorf("%s: %w", op, err)
	}

	res, err := f.detector.CheckConflict(ctx, facilityID, domain.Window{Start: start.UTC(), End: end.UTC()})
	if err != nil {
		return conflict.Result{}, fmt.Errorf("%s: %w", op, translate(err))
	}

	return res, nil
}

// InvalidateTags bumps cache tags by hand. With no tags every known tag is
// reset.
func (f *Facade) InvalidateTags(ctx context.Context, actor domain.Actor, tags []string) error {
	const op = "facade.InvalidateTags"

	if err := adminOnly(actor); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, t := range tags {
		if err := validTag(t); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	var err error
	if len(tags) == 0 {
		err = f.cache.Reset(ctx)
	} else {
		err = f.cache.Invalidate(ctx, tags...)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}

	return nil
}

func (f *Facade) adminTransition(
	ctx context.Context,
	op string,
	actor domain.Actor,
	id string,
	fn func(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error),
) (*domain.Reservation, error) {
	if err := adminOnly(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireID("id", id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r, err := fn(ctx, actor, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return r, nil
}

func authenticated(actor domain.Actor) error {
	if !actor.Authenticated() {
		return domain.ErrUnauthenticated
	}
	return nil
}

func adminOnly(actor domain.Actor) error {
	if err := authenticated(actor); err != nil {
		return err
	}
	if !actor.Admin {
		return domain.ErrForbidden
	}
	return nil
}

func validTag(tag string) error {
	switch {
	case tag == cache.TagReservations, tag == cache.TagSession:
		return nil
	case strings.HasPrefix(tag, "facility:") && len(tag) > len("facility:"):
		return nil
	case strings.HasPrefix(tag, "reservation:") && len(tag) > len("reservation:"):
		return nil
	}
	return &domain.InputError{Field: "tags", Reason: "unknown tag " + tag}
}

// translate surfaces storage failures as domain.ErrStorageUnavailable and
// leaves domain errors untouched.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	case errors.Is(err, repository.ErrOverlap):
		return fmt.Errorf("%w: %w", domain.ErrSchedulingConflict, err)
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}
