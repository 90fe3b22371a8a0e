package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

// RunTx runs fn inside a read-committed transaction. Each statement sees
// the latest committed rows, so a conflict check issued after LockFacility
// observes every event committed by the previous lock holder.
func (s *Store) RunTx(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Tx) error,
) error {
	const op = "postgres.Store.RunTx"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, &txView{db: tx, store: s}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, translateDBErr(err))
	}

	return nil
}

func (s *Store) Reservations() *ReservationRepo { return &ReservationRepo{pool: s.pool} }
func (s *Store) Events() *EventRepo             { return &EventRepo{pool: s.pool} }
func (s *Store) Fees() *FeeRepo                 { return &FeeRepo{pool: s.pool} }

func (s *Store) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return s.Reservations().Get(ctx, id, false)
}

func (s *Store) ListReservations(ctx context.Context, f repository.ReservationFilter) ([]domain.Reservation, error) {
	return s.Reservations().List(ctx, f)
}

func (s *Store) CountReservations(ctx context.Context, f repository.ReservationFilter) (int64, error) {
	return s.Reservations().Count(ctx, f)
}

func (s *Store) OverlappingEvents(ctx context.Context, facilityID string, w domain.Window) ([]domain.Event, error) {
	return s.Events().Overlapping(ctx, facilityID, w)
}

func (s *Store) EventByReservation(ctx context.Context, reservationID string) (*domain.Event, error) {
	return s.Events().ByReservation(ctx, reservationID)
}

func (s *Store) ListFees(ctx context.Context, reservationID string) ([]domain.Fee, error) {
	return s.Fees().List(ctx, reservationID)
}

// txView binds every repository to one transaction.
type txView struct {
	db    DB
	store *Store
}

func (t *txView) LockFacility(ctx context.Context, facilityID string) error {
	const op = "postgres.txView.LockFacility"

	if _, err := t.db.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		facilityID,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return nil
}

func (t *txView) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return t.store.Reservations().With(t.db).Get(ctx, id, true)
}

func (t *txView) ListReservations(ctx context.Context, f repository.ReservationFilter) ([]domain.Reservation, error) {
	return t.store.Reservations().With(t.db).List(ctx, f)
}

func (t *txView) CountReservations(ctx context.Context, f repository.ReservationFilter) (int64, error) {
	return t.store.Reservations().With(t.db).Count(ctx, f)
}

func (t *txView) CreateReservation(ctx context.Context, r domain.Reservation) error {
	return t.store.Reservations().With(t.db).Create(ctx, r)
}

func (t *txView) UpdateReservation(ctx context.Context, r domain.Reservation) error {
	return t.store.Reservations().With(t.db).Update(ctx, r)
}

func (t *txView) OverlappingEvents(ctx context.Context, facilityID string, w domain.Window) ([]domain.Event, error) {
	return t.store.Events().With(t.db).Overlapping(ctx, facilityID, w)
}

func (t *txView) EventByReservation(ctx context.Context, reservationID string) (*domain.Event, error) {
	return t.store.Events().With(t.db).ByReservation(ctx, reservationID)
}

func (t *txView) CreateEvent(ctx context.Context, e domain.Event) error {
	return t.store.Events().With(t.db).Create(ctx, e)
}

func (t *txView) DeleteEvent(ctx context.Context, id string) error {
	return t.store.Events().With(t.db).Delete(ctx, id)
}

func (t *txView) ListFees(ctx context.Context, reservationID string) ([]domain.Fee, error) {
	return t.store.Fees().With(t.db).List(ctx, reservationID)
}

func (t *txView) CreateFee(ctx context.Context, f domain.Fee) error {
	return t.store.Fees().With(t.db).Create(ctx, f)
}

func (t *txView) GetFee(ctx context.Context, id string) (*domain.Fee, error) {
	return t.store.Fees().With(t.db).Get(ctx, id)
}

func (t *txView) DeleteFee(ctx context.Context, id string) error {
	return t.store.Fees().With(t.db).Delete(ctx, id)
}
