package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
)

const reservationColumns = `id, facility_id, requester_id, title, description, location,
	starts_at, ends_at, status, in_person, paid, created_at`

type ReservationRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ReservationRepo) With(db DB) *ReservationRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ReservationRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Get retrieves a reservation by its ID.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: unique identifier of the reservation.
//   - forUpdate: lock the row until the surrounding transaction ends.
//
// Returns:
//   - *domain.Reservation: the reservation when found.
//   - error: repository.ErrNotFound if the reservation is not found.
func (r *ReservationRepo) Get(ctx context.Context, id string, forUpdate bool) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.Get"

	db := r.handle()

	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	res, err := scanReservation(db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return res, nil
}

// List returns reservations matching f ordered by start time.
func (r *ReservationRepo) List(ctx context.Context, f repository.ReservationFilter) ([]domain.Reservation, error) {
	const op = "postgres.ReservationRepo.List"

	db := r.handle()

	where, args := filterClause(f)

	rows, err := db.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations`+where+` ORDER BY starts_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := make([]domain.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *ReservationRepo) Count(ctx context.Context, f repository.ReservationFilter) (int64, error) {
	const op = "postgres.ReservationRepo.Count"

	db := r.handle()

	where, args := filterClause(f)

	var n int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM reservations`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return n, nil
}

// Create inserts a new reservation.
//
// Returns:
//   - error: repository.ErrConflict if a reservation with the same ID exists.
func (r *ReservationRepo) Create(ctx context.Context, res domain.Reservation) error {
	const op = "postgres.ReservationRepo.Create"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO reservations(`+reservationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		res.ID, res.FacilityID, res.RequesterID, res.Title, res.Description, res.Location,
		res.Window.Start, res.Window.End, string(res.Status), res.InPerson, res.Paid, res.CreatedAt,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return nil
}

// Update overwrites the mutable columns of a reservation.
//
// Returns:
//   - error: repository.ErrNotFound if no row was updated.
func (r *ReservationRepo) Update(ctx context.Context, res domain.Reservation) error {
	const op = "postgres.ReservationRepo.Update"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE reservations
		 SET starts_at = $2, ends_at = $3, status = $4, in_person = $5, paid = $6
		 WHERE id = $1`,
		res.ID, res.Window.Start, res.Window.End, string(res.Status), res.InPerson, res.Paid,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return nil
}

func filterClause(f repository.ReservationFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.FacilityID != "" {
		add("facility_id = $%d", f.FacilityID)
	}
	if f.RequesterID != "" {
		add("requester_id = $%d", f.RequesterID)
	}
	if !f.StartsAfter.IsZero() {
		add("starts_at >= $%d", f.StartsAfter)
	}
	if !f.StartsBefore.IsZero() {
		add("starts_at < $%d", f.StartsBefore)
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var res domain.Reservation
	var status string

	if err := row.Scan(
		&res.ID,
		&res.FacilityID,
		&res.RequesterID,
		&res.Title,
		&res.Description,
		&res.Location,
		&res.Window.Start,
		&res.Window.End,
		&status,
		&res.InPerson,
		&res.Paid,
		&res.CreatedAt,
	); err != nil {
		return nil, err
	}

	res.Status = domain.Status(status)
	res.Window.Start = res.Window.Start.UTC()
	res.Window.End = res.Window.End.UTC()
	res.CreatedAt = res.CreatedAt.UTC()

	return &res, nil
}
