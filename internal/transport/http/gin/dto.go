package httpgin

import (
	"fmt"
	"time"

	"github.com/kirinyoku/reservo/internal/domain"
)

type SubmitReservationRequest struct {
	FacilityID  string `json:"facility_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Location    string `json:"location"`
	StartsAt    string `json:"starts_at" binding:"required"`
	EndsAt      string `json:"ends_at" binding:"required"`
}

type RescheduleRequest struct {
	StartsAt string `json:"starts_at" binding:"required"`
	EndsAt   string `json:"ends_at" binding:"required"`
}

type AddFeeRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Label       string `json:"label"`
}

type InvalidateCacheRequest struct {
	Tags []string `json:"tags"`
}

type ErrorResponse struct {
	Error               string   `json:"error"`
	ConflictingEventIDs []string `json:"conflicting_event_ids,omitempty"`
}

type CountResponse struct {
	FacilityID string `json:"facility_id,omitempty"`
	Pending    int64  `json:"pending"`
}

type ConflictCheckResponse struct {
	Clear     bool           `json:"clear"`
	Conflicts []domain.Event `json:"conflicts"`
}

func parseRFC3339(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s (RFC3339)", field)
	}
	return t, nil
}

func parseRange(startField, start, endField, end string) (time.Time, time.Time, error) {
	from, err := parseRFC3339(startField, start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseRFC3339(endField, end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}
