package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/reservo/internal/cache"
	"github.com/kirinyoku/reservo/internal/clock"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
)

type Config struct {
	UpcomingHorizon time.Duration
	MaxCalendarSpan time.Duration
}

// Service serves the read side. Every view goes through the cache layer
// under the tag whose writes can change it.
type Service struct {
	store repository.Reader
	cache *cache.Layer
	clock clock.Clock
	cfg   Config
}

func New(store repository.Reader, layer *cache.Layer, clk clock.Clock, cfg Config) *Service {
	if cfg.UpcomingHorizon <= 0 {
		cfg.UpcomingHorizon = 7 * 24 * time.Hour
	}

	if cfg.MaxCalendarSpan <= 0 {
		cfg.MaxCalendarSpan = 93 * 24 * time.Hour
	}

	return &Service{
		store: store,
		cache: layer,
		clock: clk,
		cfg:   cfg,
	}
}

// RequestCount returns the number of pending reservations, across all
// facilities when facilityID is empty.
func (s *Service) RequestCount(ctx context.Context, facilityID string) (int64, error) {
	const op = "service.query.RequestCount"

	n, err := cache.ReadThrough(ctx, s.cache, cache.TagReservations, "pending-count:"+facilityID,
		func(ctx context.Context) (int64, error) {
			return s.store.CountReservations(ctx, repository.ReservationFilter{
				Status:     domain.StatusPending,
				FacilityID: facilityID,
			})
		},
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// ListReservations returns reservations ordered by start, optionally
// narrowed by status and facility.
func (s *Service) ListReservations(ctx context.Context, status domain.Status, facilityID string) ([]domain.Reservation, error) {
	const op = "service.query.ListReservations"

	key := fmt.Sprintf("list:%s:%s", status, facilityID)

	out, err := cache.ReadThrough(ctx, s.cache, cache.TagReservations, key,
		func(ctx context.Context) ([]domain.Reservation, error) {
			return s.store.ListReservations(ctx, repository.ReservationFilter{
				Status:     status,
				FacilityID: facilityID,
			})
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// MyReservations lists everything requesterID has submitted.
func (s *Service) MyReservations(ctx context.Context, requesterID string) ([]domain.Reservation, error) {
	const op = "service.query.MyReservations"

	out, err := cache.ReadThrough(ctx, s.cache, cache.TagSession, "mine:"+requesterID,
		func(ctx context.Context) ([]domain.Reservation, error) {
			return s.store.ListReservations(ctx, repository.ReservationFilter{RequesterID: requesterID})
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// Upcoming lists approved reservations starting within the configured
// horizon. The key is bucketed by minute so the window moves with time.
func (s *Service) Upcoming(ctx context.Context) ([]domain.Reservation, error) {
	const op = "service.query.Upcoming"

	from := s.clock.Now().Truncate(time.Minute)
	to := from.Add(s.cfg.UpcomingHorizon)

	out, err := cache.ReadThrough(ctx, s.cache, cache.TagReservations, "upcoming:"+from.Format(time.RFC3339),
		func(ctx context.Context) ([]domain.Reservation, error) {
			return s.store.ListReservations(ctx, repository.ReservationFilter{
				Status:       domain.StatusApproved,
				StartsAfter:  from,
				StartsBefore: to,
			})
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// FacilityCalendar returns the approved events of a facility intersecting
// [from, to).
//
// Returns:
//   - error: domain.ErrInvalidWindow if from is not before to.
//   - error: domain.ErrInvalidInput if the range exceeds the configured span.
func (s *Service) FacilityCalendar(ctx context.Context, facilityID string, from, to time.Time) ([]domain.Event, error) {
	const op = "service.query.FacilityCalendar"

	w := domain.Window{Start: from.UTC(), End: to.UTC()}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if w.Duration() > s.cfg.MaxCalendarSpan {
		return nil, fmt.Errorf("%s: %w", op, &domain.InputError{Field: "to", Reason: "range too long"})
	}

	key := fmt.Sprintf("calendar:%d:%d", w.Start.Unix(), w.End.Unix())

	out, err := cache.ReadThrough(ctx, s.cache, cache.FacilityTag(facilityID), key,
		func(ctx context.Context) ([]domain.Event, error) {
			return s.store.OverlappingEvents(ctx, facilityID, w)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// Reservation returns a reservation with its event, fees and total owed.
func (s *Service) Reservation(ctx context.Context, id string) (*domain.ReservationDetails, error) {
	const op = "service.query.Reservation"

	d, err := cache.ReadThrough(ctx, s.cache, cache.ReservationTag(id), "details",
		func(ctx context.Context) (domain.ReservationDetails, error) {
			r, err := s.store.GetReservation(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.ReservationDetails{}, &domain.NotFoundError{Kind: "reservation", ID: id}
				}
				return domain.ReservationDetails{}, err
			}

			d := domain.ReservationDetails{Reservation: *r}

			ev, err := s.store.EventByReservation(ctx, id)
			switch {
			case err == nil:
				d.Event = ev
			case !errors.Is(err, repository.ErrNotFound):
				return domain.ReservationDetails{}, err
			}

			d.Fees, err = s.store.ListFees(ctx, id)
			if err != nil {
				return domain.ReservationDetails{}, err
			}
			d.TotalCents = domain.TotalCents(d.Fees)

			return d, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &d, nil
}
