package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
	"github.com/kirinyoku/reservo/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *memory.Store, rs ...domain.Reservation) {
	t.Helper()
	require.NoError(t, s.RunTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for _, r := range rs {
			if err := tx.CreateReservation(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_ = tx.CreateReservation(ctx, domain.Reservation{ID: "r1", FacilityID: "f"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetReservation(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_CreateEventRejectsOverlap(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	mk := func(id string, from, to time.Duration) domain.Event {
		return domain.Event{ID: id, FacilityID: "room-a", ReservationID: "r-" + id, Starts: t0.Add(from), Ends: t0.Add(to)}
	}

	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateEvent(ctx, mk("e1", 0, time.Hour))
	}))

	err := s.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateEvent(ctx, mk("e2", 30*time.Minute, 90*time.Minute))
	})
	assert.ErrorIs(t, err, repository.ErrOverlap)

	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateEvent(ctx, mk("e3", time.Hour, 2*time.Hour))
	}))

	// a different facility never collides
	require.NoError(t, s.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		e := mk("e4", 0, time.Hour)
		e.FacilityID = "room-b"
		return tx.CreateEvent(ctx, e)
	}))

	got, err := s.OverlappingEvents(ctx, "room-a", domain.Window{Start: t0, End: t0.Add(3 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e3", got[1].ID)
}

func TestStore_ListFilter(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	seed(t, s,
		domain.Reservation{ID: "b", FacilityID: "f1", RequesterID: "u1", Status: domain.StatusPending, Window: domain.Window{Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour)}},
		domain.Reservation{ID: "a", FacilityID: "f1", RequesterID: "u2", Status: domain.StatusApproved, Window: domain.Window{Start: t0, End: t0.Add(time.Hour)}},
		domain.Reservation{ID: "c", FacilityID: "f2", RequesterID: "u1", Status: domain.StatusPending, Window: domain.Window{Start: t0.Add(48 * time.Hour), End: t0.Add(49 * time.Hour)}},
	)

	tests := []struct {
		name string
		f    repository.ReservationFilter
		want []string
	}{
		{"all", repository.ReservationFilter{}, []string{"a", "b", "c"}},
		{"pending", repository.ReservationFilter{Status: domain.StatusPending}, []string{"b", "c"}},
		{"facility", repository.ReservationFilter{FacilityID: "f1"}, []string{"a", "b"}},
		{"requester", repository.ReservationFilter{RequesterID: "u1"}, []string{"b", "c"}},
		{"range", repository.ReservationFilter{StartsAfter: t0.Add(time.Minute), StartsBefore: t0.Add(24 * time.Hour)}, []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListReservations(ctx, tt.f)
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)

			n, err := s.CountReservations(ctx, tt.f)
			require.NoError(t, err)
			assert.EqualValues(t, len(tt.want), n)
		})
	}
}

func TestStore_FeeRequiresReservation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	err := s.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateFee(ctx, domain.Fee{ID: "f1", ReservationID: "nope", AmountCents: 100})
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
