package cache

const (
	TagReservations = "reservations"
	TagSession      = "session"
)

func FacilityTag(facilityID string) string {
	return "facility:" + facilityID
}

func ReservationTag(reservationID string) string {
	return "reservation:" + reservationID
}
