// Package memory is an in-process event store. Transactions are serialized
// and operate on a copy of the state that replaces the live state on commit.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
)

type state struct {
	reservations map[string]domain.Reservation
	events       map[string]domain.Event
	fees         map[string]domain.Fee
}

func newState() *state {
	return &state{
		reservations: make(map[string]domain.Reservation),
		events:       make(map[string]domain.Event),
		fees:         make(map[string]domain.Fee),
	}
}

func (s *state) clone() *state {
	cp := &state{
		reservations: make(map[string]domain.Reservation, len(s.reservations)),
		events:       make(map[string]domain.Event, len(s.events)),
		fees:         make(map[string]domain.Fee, len(s.fees)),
	}
	for k, v := range s.reservations {
		cp.reservations[k] = v
	}
	for k, v := range s.events {
		cp.events[k] = v
	}
	for k, v := range s.fees {
		cp.fees[k] = v
	}
	return cp
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{view{st: work}}); err != nil {
		return err
	}

	s.st = work
	return nil
}

func (s *Store) read() view {
	s.mu.Lock()
	defer s.mu.Unlock()
	return view{st: s.st}
}

func (s *Store) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return s.read().GetReservation(ctx, id)
}

func (s *Store) ListReservations(ctx context.Context, f repository.ReservationFilter) ([]domain.Reservation, error) {
	return s.read().ListReservations(ctx, f)
}

func (s *Store) CountReservations(ctx context.Context, f repository.ReservationFilter) (int64, error) {
	return s.read().CountReservations(ctx, f)
}

func (s *Store) OverlappingEvents(ctx context.Context, facilityID string, w domain.Window) ([]domain.Event, error) {
	return s.read().OverlappingEvents(ctx, facilityID, w)
}

func (s *Store) EventByReservation(ctx context.Context, reservationID string) (*domain.Event, error) {
	return s.read().EventByReservation(ctx, reservationID)
}

func (s *Store) ListFees(ctx context.Context, reservationID string) ([]domain.Fee, error) {
	return s.read().ListFees(ctx, reservationID)
}

// view reads a state snapshot. Committed states are never mutated in place,
// so a view stays consistent after the store lock is released.
type view struct {
	st *state
}

func (v view) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	r, ok := v.st.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (v view) ListReservations(_ context.Context, f repository.ReservationFilter) ([]domain.Reservation, error) {
	out := make([]domain.Reservation, 0)
	for _, r := range v.st.reservations {
		if matches(r, f) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Window.Start.Equal(out[j].Window.Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Window.Start.Before(out[j].Window.Start)
	})
	return out, nil
}

func (v view) CountReservations(_ context.Context, f repository.ReservationFilter) (int64, error) {
	var n int64
	for _, r := range v.st.reservations {
		if matches(r, f) {
			n++
		}
	}
	return n, nil
}

func (v view) OverlappingEvents(_ context.Context, facilityID string, w domain.Window) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	for _, e := range v.st.events {
		if e.FacilityID == facilityID && e.Window().Overlaps(w) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Starts.Before(out[j].Starts) })
	return out, nil
}

func (v view) EventByReservation(_ context.Context, reservationID string) (*domain.Event, error) {
	for _, e := range v.st.events {
		if e.ReservationID == reservationID {
			return &e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (v view) ListFees(_ context.Context, reservationID string) ([]domain.Fee, error) {
	out := make([]domain.Fee, 0)
	for _, f := range v.st.fees {
		if f.ReservationID == reservationID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func matches(r domain.Reservation, f repository.ReservationFilter) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.FacilityID != "" && r.FacilityID != f.FacilityID {
		return false
	}
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if !f.StartsAfter.IsZero() && r.Window.Start.Before(f.StartsAfter) {
		return false
	}
	if !f.StartsBefore.IsZero() && !r.Window.Start.Before(f.StartsBefore) {
		return false
	}
	return true
}

type tx struct {
	view
}

// LockFacility is a no-op: RunTx already serializes every transaction.
func (t *tx) LockFacility(context.Context, string) error { return nil }

func (t *tx) CreateReservation(_ context.Context, r domain.Reservation) error {
	if _, ok := t.st.reservations[r.ID]; ok {
		return repository.ErrConflict
	}
	t.st.reservations[r.ID] = r
	return nil
}

func (t *tx) UpdateReservation(_ context.Context, r domain.Reservation) error {
	if _, ok := t.st.reservations[r.ID]; !ok {
		return repository.ErrNotFound
	}
	t.st.reservations[r.ID] = r
	return nil
}

func (t *tx) CreateEvent(_ context.Context, e domain.Event) error {
	if _, ok := t.st.events[e.ID]; ok {
		return repository.ErrConflict
	}
	for _, other := range t.st.events {
		if other.FacilityID == e.FacilityID && other.Window().Overlaps(e.Window()) {
			return repository.ErrOverlap
		}
	}
	t.st.events[e.ID] = e
	return nil
}

func (t *tx) DeleteEvent(_ context.Context, id string) error {
	if _, ok := t.st.events[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t.st.events, id)
	return nil
}

func (t *tx) CreateFee(_ context.Context, f domain.Fee) error {
	if _, ok := t.st.reservations[f.ReservationID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := t.st.fees[f.ID]; ok {
		return repository.ErrConflict
	}
	t.st.fees[f.ID] = f
	return nil
}

func (t *tx) GetFee(_ context.Context, id string) (*domain.Fee, error) {
	f, ok := t.st.fees[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &f, nil
}

func (t *tx) DeleteFee(_ context.Context, id string) error {
	if _, ok := t.st.fees[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t.st.fees, id)
	return nil
}
