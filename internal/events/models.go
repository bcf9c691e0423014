package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the seat pool reservations are admitted against. Capacity is
// fixed once the event exists; the reserved total is always derived from
// the reservations table, never stored here.
type Event struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	Name        string    `json:"name" gorm:"not null;size:255"`
	Description string    `json:"description" gorm:"type:text"`
	Venue       string    `json:"venue" gorm:"not null;size:255"`
	StartsAt    time.Time `json:"starts_at" gorm:"not null"`
	Capacity    int       `json:"capacity" gorm:"not null;check:capacity > 0"`

	CreatedBy uuid.UUID `json:"created_by" gorm:"type:uuid;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Event) TableName() string {
	return "events"
}
