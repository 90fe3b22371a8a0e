package facade

import (
	"strings"
	"time"

	"github.com/kirinyoku/reservo/internal/domain"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 4000
	maxLabelLen       = 200
	maxIDLen          = 128
)

type SubmitInput struct {
	FacilityID  string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

func (in SubmitInput) Validate() error {
	if err := requireID("facility_id", in.FacilityID); err != nil {
		return err
	}
	if strings.TrimSpace(in.Title) == "" {
		return &domain.InputError{Field: "title", Reason: "required"}
	}
	if len(in.Title) > maxTitleLen {
		return &domain.InputError{Field: "title", Reason: "too long"}
	}
	if len(in.Description) > maxDescriptionLen {
		return &domain.InputError{Field: "description", Reason: "too long"}
	}
	return in.Window().Validate()
}

func (in SubmitInput) Window() domain.Window {
	return domain.Window{Start: in.Start.UTC(), End: in.End.UTC()}
}

type FeeInput struct {
	AmountCents int64
	Label       string
}

func (in FeeInput) Validate() error {
	if in.AmountCents <= 0 {
		return &domain.AmountError{AmountCents: in.AmountCents}
	}
	if len(in.Label) > maxLabelLen {
		return &domain.InputError{Field: "label", Reason: "too long"}
	}
	return nil
}

type ListInput struct {
	Status     domain.Status
	FacilityID string
}

func (in ListInput) Validate() error {
	if in.Status != "" && !in.Status.Valid() {
		return &domain.InputError{Field: "status", Reason: "unknown status"}
	}
	if len(in.FacilityID) > maxIDLen {
		return &domain.InputError{Field: "facility_id", Reason: "too long"}
	}
	return nil
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &domain.InputError{Field: field, Reason: "required"}
	}
	if len(id) > maxIDLen {
		return &domain.InputError{Field: field, Reason: "too long"}
	}
	return nil
}
