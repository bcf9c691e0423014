package reservations

// CreateReservationRequest is the body of POST /events/:id/reservations.
type CreateReservationRequest struct {
	SeatCount           *int   `json:"seat_count" binding:"omitempty,min=1,max=10000" example:"2"`
	SpecialRequirements string `json:"special_requirements" binding:"max=1000" example:"wheelchair access"`
}

// IdempotencyKeyHeader lets clients safely resend a reserve request.
const IdempotencyKeyHeader = "Idempotency-Key"
