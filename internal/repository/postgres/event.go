package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
)

const eventColumns = `id, facility_id, reservation_id, starts_at, ends_at, title, color, location, description`

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Overlapping lists events of a facility whose [starts_at, ends_at) range
// intersects w.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - facilityID: facility to scan.
//   - w: half-open window to test against.
//
// Returns:
//   - []domain.Event: overlapping events ordered by start; empty when clear.
func (r *EventRepo) Overlapping(ctx context.Context, facilityID string, w domain.Window) ([]domain.Event, error) {
	const op = "postgres.EventRepo.Overlapping"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE facility_id = $1 AND starts_at < $3 AND $2 < ends_at
		 ORDER BY starts_at, id`,
		facilityID, w.Start, w.End,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := make([]domain.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return out, nil
}

// ByReservation returns the event owned by a reservation.
//
// Returns:
//   - error: repository.ErrNotFound if the reservation owns no event.
func (r *EventRepo) ByReservation(ctx context.Context, reservationID string) (*domain.Event, error) {
	const op = "postgres.EventRepo.ByReservation"

	db := r.handle()

	e, err := scanEvent(db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE reservation_id = $1`,
		reservationID,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return e, nil
}

// Create inserts an event.
//
// Returns:
//   - error: repository.ErrOverlap if the events_no_overlap constraint rejects it.
//   - error: repository.ErrConflict if the reservation already owns an event.
func (r *EventRepo) Create(ctx context.Context, e domain.Event) error {
	const op = "postgres.EventRepo.Create"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO events(`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.FacilityID, e.ReservationID, e.Starts, e.Ends, e.Title, string(e.Color), e.Location, e.Description,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return nil
}

func (r *EventRepo) Delete(ctx context.Context, id string) error {
	const op = "postgres.EventRepo.Delete"

	db := r.handle()

	tag, err := db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	var color string

	if err := row.Scan(
		&e.ID,
		&e.FacilityID,
		&e.ReservationID,
		&e.Starts,
		&e.Ends,
		&e.Title,
		&color,
		&e.Location,
		&e.Description,
	); err != nil {
		return nil, err
	}

	e.Color = domain.ColorTag(color)
	e.Starts = e.Starts.UTC()
	e.Ends = e.Ends.UTC()

	return &e, nil
}
