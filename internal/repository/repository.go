package repository

import (
	"context"
	"time"

	"github.com/kirinyoku/reservo/internal/domain"
)

// ReservationFilter narrows reservation listings. Zero fields are ignored.
type ReservationFilter struct {
	Status       domain.Status
	FacilityID   string
	RequesterID  string
	StartsAfter  time.Time
	StartsBefore time.Time
}

// Reader is the read side of the event store.
type Reader interface {
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]domain.Reservation, error)
	CountReservations(ctx context.Context, f ReservationFilter) (int64, error)
	OverlappingEvents(ctx context.Context, facilityID string, w domain.Window) ([]domain.Event, error)
	EventByReservation(ctx context.Context, reservationID string) (*domain.Event, error)
	ListFees(ctx context.Context, reservationID string) ([]domain.Fee, error)
}

// Tx is the transactional view handed to a unit of work. GetReservation
// inside a Tx locks the row until commit.
type Tx interface {
	Reader

	LockFacility(ctx context.Context, facilityID string) error

	CreateReservation(ctx context.Context, r domain.Reservation) error
	UpdateReservation(ctx context.Context, r domain.Reservation) error

	CreateEvent(ctx context.Context, e domain.Event) error
	DeleteEvent(ctx context.Context, id string) error

	CreateFee(ctx context.Context, f domain.Fee) error
	GetFee(ctx context.Context, id string) (*domain.Fee, error)
	DeleteFee(ctx context.Context, id string) error
}

type Store interface {
	Reader
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
