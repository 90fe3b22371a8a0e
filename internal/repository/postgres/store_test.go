package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/postgres/pgtest"
	"github.com/kirinyoku/reservo/internal/repository"
	postgresrepo "github.com/kirinyoku/reservo/internal/repository/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2030, 3, 4, 9, 0, 0, 0, time.UTC)

func newReservation(facility string, from, to time.Duration) domain.Reservation {
	return domain.Reservation{
		ID:          uuid.NewString(),
		FacilityID:  facility,
		RequesterID: "user-1",
		Title:       "Choir practice",
		Window:      domain.Window{Start: base.Add(from), End: base.Add(to)},
		Status:      domain.StatusPending,
		CreatedAt:   base.Add(-24 * time.Hour),
	}
}

func eventFor(r domain.Reservation) domain.Event {
	return domain.Event{
		ID:            uuid.NewString(),
		FacilityID:    r.FacilityID,
		ReservationID: r.ID,
		Starts:        r.Window.Start,
		Ends:          r.Window.End,
		Title:         r.Title,
		Color:         domain.ColorDefault,
	}
}

func TestStore_ReservationRoundTrip(t *testing.T) {
	store := postgresrepo.NewStore(pgtest.NewPool(t))
	ctx := context.Background()

	r := newReservation("room-a", 0, time.Hour)

	require.NoError(t, store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateReservation(ctx, r)
	}))

	got, err := store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, *got)

	n, err := store.CountReservations(ctx, repository.ReservationFilter{Status: domain.StatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = store.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_ExclusionConstraintMapsToOverlap(t *testing.T) {
	store := postgresrepo.NewStore(pgtest.NewPool(t))
	ctx := context.Background()

	r1 := newReservation("room-a", 0, time.Hour)
	r2 := newReservation("room-a", 30*time.Minute, 90*time.Minute)
	r3 := newReservation("room-a", time.Hour, 2*time.Hour)

	require.NoError(t, store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, r := range []domain.Reservation{r1, r2, r3} {
			if err := tx.CreateReservation(ctx, r); err != nil {
				return err
			}
		}
		return tx.CreateEvent(ctx, eventFor(r1))
	}))

	err := store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateEvent(ctx, eventFor(r2))
	})
	assert.ErrorIs(t, err, repository.ErrOverlap)

	// back-to-back is fine
	require.NoError(t, store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateEvent(ctx, eventFor(r3))
	}))

	events, err := store.OverlappingEvents(ctx, "room-a", domain.Window{Start: base, End: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStore_RunTxRollsBackOnError(t *testing.T) {
	store := postgresrepo.NewStore(pgtest.NewPool(t))
	ctx := context.Background()

	r := newReservation("room-b", 0, time.Hour)
	boom := errors.New("boom")

	err := store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateReservation(ctx, r); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetReservation(ctx, r.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_Fees(t *testing.T) {
	store := postgresrepo.NewStore(pgtest.NewPool(t))
	ctx := context.Background()

	r := newReservation("room-c", 0, time.Hour)
	fee := domain.Fee{ID: uuid.NewString(), ReservationID: r.ID, AmountCents: 500, Label: "cleaning", CreatedAt: base}

	require.NoError(t, store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateReservation(ctx, r); err != nil {
			return err
		}
		return tx.CreateFee(ctx, fee)
	}))

	fees, err := store.ListFees(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, fees, 1)
	assert.Equal(t, fee, fees[0])

	require.NoError(t, store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteFee(ctx, fee.ID)
	}))

	err = store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteFee(ctx, fee.ID)
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
