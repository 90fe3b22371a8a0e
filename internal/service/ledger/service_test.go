package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/kirinyoku/reservo/internal/cache"
	"github.com/kirinyoku/reservo/internal/clock"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
	"github.com/kirinyoku/reservo/internal/repository/memory"
	"github.com/kirinyoku/reservo/internal/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

type tagLog struct {
	tags []string
}

func (l *tagLog) Invalidate(_ context.Context, tags ...string) error {
	l.tags = append(l.tags, tags...)
	return nil
}

func seed(t *testing.T, s *memory.Store, id string, status domain.Status) {
	t.Helper()
	require.NoError(t, s.RunTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateReservation(ctx, domain.Reservation{
			ID:         id,
			FacilityID: "room-a",
			Status:     status,
			Window:     domain.Window{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		})
	}))
}

func newService(t *testing.T) (*ledger.Service, *memory.Store, *tagLog) {
	t.Helper()
	store := memory.New()
	log := &tagLog{}
	return ledger.New(store, log, clock.NewFixed(now), nil), store, log
}

func TestAddRemove_TotalReturnsToZero(t *testing.T) {
	svc, store, log := newService(t)
	ctx := context.Background()
	seed(t, store, "r1", domain.StatusApproved)

	fee, err := svc.AddFee(ctx, "r1", 500, "cleaning")
	require.NoError(t, err)
	assert.EqualValues(t, 500, fee.AmountCents)
	assert.Equal(t, now, fee.CreatedAt)

	total, err := svc.TotalOwed(ctx, "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 500, total)

	removed, err := svc.RemoveFee(ctx, fee.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.ID, removed.ID)

	total, err = svc.TotalOwed(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.Equal(t, []string{
		cache.TagReservations, cache.ReservationTag("r1"),
		cache.TagReservations, cache.ReservationTag("r1"),
	}, log.tags)

	r, err := store.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, r.Status, "fees never change status")
}

func TestRemoveFee_Missing(t *testing.T) {
	svc, _, log := newService(t)

	_, err := svc.RemoveFee(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, log.tags)
}

func TestAddFee_Validation(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	seed(t, store, "pending", domain.StatusPending)
	seed(t, store, "denied", domain.StatusDenied)
	seed(t, store, "cancelled", domain.StatusCancelled)

	tests := []struct {
		name   string
		id     string
		amount int64
		want   error
	}{
		{"zero amount", "pending", 0, domain.ErrInvalidAmount},
		{"negative amount", "pending", -100, domain.ErrInvalidAmount},
		{"denied", "denied", 100, domain.ErrInvalidState},
		{"cancelled", "cancelled", 100, domain.ErrInvalidState},
		{"unknown", "ghost", 100, domain.ErrNotFound},
		{"pending ok", "pending", 100, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddFee(ctx, tt.id, tt.amount, "hall")
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRemoveFee_AllowedAfterCancellation(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	seed(t, store, "r1", domain.StatusApproved)

	fee, err := svc.AddFee(ctx, "r1", 1200, "deposit")
	require.NoError(t, err)

	require.NoError(t, store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.GetReservation(ctx, "r1")
		if err != nil {
			return err
		}
		r.Status = domain.StatusCancelled
		return tx.UpdateReservation(ctx, *r)
	}))

	_, err = svc.RemoveFee(ctx, fee.ID)
	require.NoError(t, err)
}

func TestTotalOwed_UnknownReservation(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.TotalOwed(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
