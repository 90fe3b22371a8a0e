package ledger

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
	"github.com/kirinyoku/reservo/internal/uow"
)

type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) error
}

// Service keeps the fee line items of reservations. Amounts are integer
// cents in a single currency.
type Service struct {
	store repository.Store
	uow   *uow.UoW
	cache Invalidator
	clock clock.Clock
	log   *slog.Logger
}

func New(store repository.Store, cache Invalidator, clk clock.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store: store,
		uow:   uow.NewUoW(store),
		cache: cache,
		clock: clk,
		log:   log,
	}
}

// AddFee appends a fee to a reservation that is neither denied nor
// cancelled.
//
// Returns:
//   - error: domain.ErrInvalidAmount if amountCents is not positive.
//   - error: *domain.StateError if the reservation is terminal.
//   - error: *domain.NotFoundError if the reservation does not exist.
func (s *Service) AddFee(ctx context.Context, reservationID string, amountCents int64, label string) (*domain.Fee, error) {
	const op = "service.ledger.AddFee"

	if amountCents <= 0 {
		return nil, fmt.Errorf("%s: %w", op, &domain.AmountError{AmountCents: amountCents})
	}

	fee := domain.Fee{
		ID:            uuid.NewString(),
		ReservationID: reservationID,
		AmountCents:   amountCents,
		Label:         label,
		CreatedAt:     s.clock.Now(),
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return &domain.NotFoundError{Kind: "reservation", ID: reservationID}
			}
			return err
		}

		if r.Status.Terminal() {
			return &domain.StateError{ReservationID: r.ID, Status: r.Status, Op: "add fee to"}
		}

		if err := tx.CreateFee(ctx, fee); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.invalidate(ctx, op, reservationID)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &fee, nil
}

// RemoveFee deletes a fee whatever the reservation status, so refunds can
// still be booked after cancellation.
func (s *Service) RemoveFee(ctx context.Context, feeID string) (*domain.Fee, error) {
	const op = "service.ledger.RemoveFee"

	var removed domain.Fee

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		f, err := tx.GetFee(ctx, feeID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return &domain.NotFoundError{Kind: "fee", ID: feeID}
			}
			return err
		}

		if err := tx.DeleteFee(ctx, feeID); err != nil {
			return err
		}

		removed = *f

		after(func(ctx context.Context) {
			s.invalidate(ctx, op, f.ReservationID)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &removed, nil
}

// TotalOwed sums the fees of a reservation.
func (s *Service) TotalOwed(ctx context.Context, reservationID string) (int64, error) {
	const op = "service.ledger.TotalOwed"

	if _, err := s.store.GetReservation(ctx, reservationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%s: %w", op, &domain.NotFoundError{Kind: "reservation", ID: reservationID})
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	fees, err := s.store.ListFees(ctx, reservationID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return domain.TotalCents(fees), nil
}

func (s *Service) invalidate(ctx context.Context, op, reservationID string) {
	if s.cache == nil {
		return
	}

	tags := []string{cache.TagReservations, cache.ReservationTag(reservationID)}
	// a failed tag is served uncached until its bump lands
	if err := s.cache.Invalidate(ctx, tags...); err != nil {
		s.log.Warn("cache invalidation failed", "op", op, "tags", tags, "err", err)
	}
}
