package domain

import "time"

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Validate() error {
	if w.Start.IsZero() {
		return &WindowError{Field: "start", Reason: "required"}
	}
	if w.End.IsZero() {
		return &WindowError{Field: "end", Reason: "required"}
	}
	if !w.Start.Before(w.End) {
		return &WindowError{Field: "end", Reason: "must be after start"}
	}
	return nil
}

// Overlaps reports whether two half-open windows intersect. Touching
// endpoints do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// ValidateFuture validates w and additionally requires it to start after now.
func (w Window) ValidateFuture(now time.Time) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if !w.Start.After(now) {
		return &WindowError{Field: "start", Reason: "must be in the future"}
	}
	return nil
}
