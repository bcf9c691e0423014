package reservations

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reservation is one admitted RSVP. Seat count never changes after
// creation; only Status and its timestamps do.
type Reservation struct {
	ID                  uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EventID             uuid.UUID  `gorm:"type:uuid;not null;index" json:"event_id"`
	RequesterID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"requester_id"`
	SeatCount           int        `gorm:"not null;check:seat_count >= 1" json:"seat_count"`
	Status              Status     `gorm:"type:varchar(20);not null;check:status IN ('pending', 'confirmed', 'cancelled');default:'pending'" json:"status"`
	IdempotencyKey      *string    `gorm:"type:varchar(128)" json:"-"`
	TicketNumber        *string    `gorm:"type:varchar(32);uniqueIndex" json:"ticket_number,omitempty"` // set on first confirmation, kept after cancel
	SpecialRequirements string     `gorm:"type:text" json:"special_requirements,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	ConfirmedAt         *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
}

// TableName specifies the table name for GORM
func (Reservation) TableName() string {
	return "reservations"
}

const ticketPrefix = "TKT-"

func newTicketNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ticketPrefix + strings.ToUpper(id[:12])
}

// ReserveInput is a validated admission request.
type ReserveInput struct {
	RequesterID uuid.UUID `validate:"required"`
	EventID     uuid.UUID `validate:"required"`
	// SeatCount of zero means one seat.
	SeatCount           int    `validate:"gte=0,lte=10000"`
	IdempotencyKey      string `validate:"omitempty,max=128,printascii"`
	SpecialRequirements string `validate:"max=1000"`
}

// ReserveResult carries the reservation and whether this call created it
// (false when an idempotent replay returned an earlier reservation).
type ReserveResult struct {
	Reservation *Reservation
	Created     bool
}

// Availability is a point-in-time view of an event's seat pool.
type Availability struct {
	EventID        uuid.UUID `json:"event_id"`
	Capacity       int       `json:"capacity"`
	ReservedSeats  int       `json:"reserved_seats"`
	AvailableSeats int       `json:"available_seats"`
	AsOf           time.Time `json:"as_of"`
}

// ListQuery pages through reservations, optionally filtered by status.
type ListQuery struct {
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Status string `form:"status" binding:"omitempty,oneof=pending confirmed cancelled"`
}

func (q ListQuery) normalized() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return q
}

func (q ListQuery) offset() int {
	return (q.Page - 1) * q.Limit
}

// ReservationPage is one page of a reservation listing.
type ReservationPage struct {
	Reservations []Reservation `json:"reservations"`
	TotalCount   int64         `json:"total_count"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
	TotalPages   int           `json:"total_pages"`
}

func newReservationPage(items []Reservation, total int64, q ListQuery) *ReservationPage {
	pages := int((total + int64(q.Limit) - 1) / int64(q.Limit))
	if items == nil {
		items = []Reservation{}
	}
	return &ReservationPage{
		Reservations: items,
		TotalCount:   total,
		Page:         q.Page,
		Limit:        q.Limit,
		TotalPages:   pages,
	}
}
