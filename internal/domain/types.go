package domain

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusCancelled:
		return true
	}
	return false
}

type ColorTag string

const (
	ColorDefault ColorTag = "default"
	ColorBlue    ColorTag = "blue"
	ColorGreen   ColorTag = "green"
	ColorOrange  ColorTag = "orange"
	ColorRed     ColorTag = "red"
)

// Event is a committed occupation of a facility. It exists only while the
// owning reservation is approved.
type Event struct {
	ID            string    `json:"id"`
	FacilityID    string    `json:"facility_id"`
	ReservationID string    `json:"reservation_id"`
	Starts        time.Time `json:"starts_at"`
	Ends          time.Time `json:"ends_at"`
	Title         string    `json:"title"`
	Color         ColorTag  `json:"color"`
	Location      string    `json:"location,omitempty"`
	Description   string    `json:"description,omitempty"`
}

func (e Event) Window() Window {
	return Window{Start: e.Starts, End: e.Ends}
}

type Reservation struct {
	ID          string    `json:"id"`
	FacilityID  string    `json:"facility_id"`
	RequesterID string    `json:"requester_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Window      Window    `json:"window"`
	Status      Status    `json:"status"`
	InPerson    bool      `json:"in_person"`
	Paid        bool      `json:"paid"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fee amounts are in the smallest currency unit.
type Fee struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id"`
	AmountCents   int64     `json:"amount_cents"`
	Label         string    `json:"label"`
	CreatedAt     time.Time `json:"created_at"`
}

type ReservationDetails struct {
	Reservation Reservation `json:"reservation"`
	Event       *Event      `json:"event,omitempty"`
	Fees        []Fee       `json:"fees"`
	TotalCents  int64       `json:"total_cents"`
}

// Actor is the authenticated caller. The zero value is anonymous.
type Actor struct {
	ID    string
	Admin bool
}

func (a Actor) Authenticated() bool {
	return a.ID != ""
}

// TotalCents sums fee amounts.
func TotalCents(fees []Fee) int64 {
	var total int64
	for _, f := range fees {
		total += f.AmountCents
	}
	return total
}

// StatusChange describes one committed reservation transition.
type StatusChange struct {
	ReservationID string    `json:"reservation_id"`
	FacilityID    string    `json:"facility_id"`
	RequesterID   string    `json:"requester_id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	ActorID       string    `json:"actor_id"`
	At            time.Time `json:"at"`
}
