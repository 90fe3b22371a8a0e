package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/repository"
)

type FeeRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *FeeRepo) With(db DB) *FeeRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *FeeRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *FeeRepo) Get(ctx context.Context, id string) (*domain.Fee, error) {
	const op = "postgres.FeeRepo.Get"

	db := r.handle()

	f, err := scanFee(db.QueryRow(ctx,
		`SELECT id, reservation_id, amount_cents, label, created_at
		 FROM fees WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return f, nil
}

func (r *FeeRepo) List(ctx context.Context, reservationID string) ([]domain.Fee, error) {
	const op = "postgres.FeeRepo.List"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, reservation_id, amount_cents, label, created_at
		 FROM fees
		 WHERE reservation_id = $1
		 ORDER BY created_at, id`,
		reservationID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := make([]domain.Fee, 0)
	for rows.Next() {
		f, err := scanFee(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *FeeRepo) Create(ctx context.Context, f domain.Fee) error {
	const op = "postgres.FeeRepo.Create"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO fees(id, reservation_id, amount_cents, label, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.ReservationID, f.AmountCents, f.Label, f.CreatedAt,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return nil
}

func (r *FeeRepo) Delete(ctx context.Context, id string) error {
	const op = "postgres.FeeRepo.Delete"

	db := r.handle()

	tag, err := db.Exec(ctx, `DELETE FROM fees WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return nil
}

func scanFee(row pgx.Row) (*domain.Fee, error) {
	var f domain.Fee

	if err := row.Scan(&f.ID, &f.ReservationID, &f.AmountCents, &f.Label, &f.CreatedAt); err != nil {
		return nil, err
	}

	f.CreatedAt = f.CreatedAt.UTC()

	return &f, nil
}
