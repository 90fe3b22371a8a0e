package query_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirinyoku/reservo/internal/cache"
	"github.com/kirinyoku/reservo/internal/clock"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
	"github.com/kirinyoku/reservo/internal/repository/memory"
	"github.com/kirinyoku/reservo/internal/service/approval"
	"github.com/kirinyoku/reservo/internal/service/ledger"
	"github.com/kirinyoku/reservo/internal/service/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)

var (
	admin = domain.Actor{ID: "admin", Admin: true}
	alice = domain.Actor{ID: "alice"}
	bob   = domain.Actor{ID: "bob"}
)

// countingStore counts how often the read side reaches storage.
type countingStore struct {
	*memory.Store
	counts atomic.Int64
	lists  atomic.Int64
}

func (c *countingStore) CountReservations(ctx context.Context, f repository.ReservationFilter) (int64, error) {
	c.counts.Add(1)
	return c.Store.CountReservations(ctx, f)
}

func (c *countingStore) ListReservations(ctx context.Context, f repository.ReservationFilter) ([]domain.Reservation, error) {
	c.lists.Add(1)
	return c.Store.ListReservations(ctx, f)
}

type fixture struct {
	store    *countingStore
	approval *approval.Service
	ledger   *ledger.Service
	query    *query.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, cache.NewLocal())
}

func newFixtureOn(t *testing.T, layer *cache.Layer) *fixture {
	t.Helper()

	store := &countingStore{Store: memory.New()}
	clk := clock.NewFixed(now)

	return &fixture{
		store:    store,
		approval: approval.New(store.Store, layer, nil, clk, nil),
		ledger:   ledger.New(store.Store, layer, clk, nil),
		query:    query.New(store, layer, clk, query.Config{}),
	}
}

func (f *fixture) submit(t *testing.T, actor domain.Actor, facility string, start time.Time) *domain.Reservation {
	t.Helper()

	r, err := f.approval.Submit(context.Background(), actor, approval.SubmitRequest{
		FacilityID: facility,
		Title:      "Meeting",
		Window:     domain.Window{Start: start, End: start.Add(time.Hour)},
	})
	require.NoError(t, err)

	return r
}

func TestRequestCount_RefreshedAfterApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1 := f.submit(t, alice, "room-a", now.Add(24*time.Hour))
	f.submit(t, bob, "room-b", now.Add(24*time.Hour))

	n, err := f.query.RequestCount(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = f.query.RequestCount(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.EqualValues(t, 1, f.store.counts.Load(), "second read is served from cache")

	_, err = f.approval.Approve(ctx, admin, r1.ID)
	require.NoError(t, err)

	n, err = f.query.RequestCount(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.query.RequestCount(ctx, "room-b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.query.RequestCount(ctx, "room-a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// unreliableGens refuses bumps while down is set; reads keep working.
type unreliableGens struct {
	*cache.LocalGenerations
	down atomic.Bool
}

func (g *unreliableGens) Bump(ctx context.Context, tag string) (uint64, error) {
	if g.down.Load() {
		return 0, errors.New("generation store unavailable")
	}
	return g.LocalGenerations.Bump(ctx, tag)
}

func TestRequestCount_FreshWhenInvalidationFails(t *testing.T) {
	gens := &unreliableGens{LocalGenerations: cache.NewLocalGenerations()}
	f := newFixtureOn(t, cache.New(gens, cache.NewLocalPayloads(0, 0)))
	ctx := context.Background()

	r := f.submit(t, alice, "room-a", now.Add(24*time.Hour))

	n, err := f.query.RequestCount(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	gens.down.Store(true)

	_, err = f.approval.Approve(ctx, admin, r.ID)
	require.NoError(t, err, "a committed write succeeds even if invalidation does not")

	n, err = f.query.RequestCount(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	gens.down.Store(false)

	n, err = f.query.RequestCount(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	calls := f.store.counts.Load()
	n, err = f.query.RequestCount(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, calls, f.store.counts.Load(), "cached again once the bump lands")
}

func TestListReservations_FiltersAndRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1 := f.submit(t, alice, "room-a", now.Add(48*time.Hour))
	f.submit(t, alice, "room-a", now.Add(24*time.Hour))

	all, err := f.query.ListReservations(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Window.Start.Before(all[1].Window.Start))

	_, err = f.approval.Deny(ctx, admin, r1.ID)
	require.NoError(t, err)

	denied, err := f.query.ListReservations(ctx, domain.StatusDenied, "room-a")
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, r1.ID, denied[0].ID)
}

func TestMyReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.submit(t, alice, "room-a", now.Add(24*time.Hour))

	mine, err := f.query.MyReservations(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	f.submit(t, alice, "room-b", now.Add(24*time.Hour))
	f.submit(t, bob, "room-b", now.Add(48*time.Hour))

	mine, err = f.query.MyReservations(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestUpcoming_OnlyApprovedWithinHorizon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soon := f.submit(t, alice, "room-a", now.Add(24*time.Hour))
	later := f.submit(t, alice, "room-a", now.Add(10*24*time.Hour))
	f.submit(t, alice, "room-b", now.Add(48*time.Hour))

	for _, id := range []string{soon.ID, later.ID} {
		_, err := f.approval.Approve(ctx, admin, id)
		require.NoError(t, err)
	}

	got, err := f.query.Upcoming(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, soon.ID, got[0].ID)
}

func TestFacilityCalendar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.submit(t, alice, "room-a", now.Add(24*time.Hour))

	from, to := now, now.Add(7*24*time.Hour)

	evs, err := f.query.FacilityCalendar(ctx, "room-a", from, to)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = f.approval.Approve(ctx, admin, r.ID)
	require.NoError(t, err)

	evs, err = f.query.FacilityCalendar(ctx, "room-a", from, to)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, r.ID, evs[0].ReservationID)

	_, err = f.approval.Cancel(ctx, alice, r.ID)
	require.NoError(t, err)

	evs, err = f.query.FacilityCalendar(ctx, "room-a", from, to)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = f.query.FacilityCalendar(ctx, "room-a", to, from)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	_, err = f.query.FacilityCalendar(ctx, "room-a", from, from.Add(365*24*time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReservation_DetailsTrackFees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.submit(t, alice, "room-a", now.Add(24*time.Hour))

	d, err := f.query.Reservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, d.Event)
	assert.Empty(t, d.Fees)

	_, err = f.approval.Approve(ctx, admin, r.ID)
	require.NoError(t, err)
	fee, err := f.ledger.AddFee(ctx, r.ID, 500, "hall")
	require.NoError(t, err)

	d, err = f.query.Reservation(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Event)
	assert.Equal(t, domain.StatusApproved, d.Reservation.Status)
	assert.EqualValues(t, 500, d.TotalCents)

	_, err = f.ledger.RemoveFee(ctx, fee.ID)
	require.NoError(t, err)

	d, err = f.query.Reservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Zero(t, d.TotalCents)

	_, err = f.query.Reservation(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
