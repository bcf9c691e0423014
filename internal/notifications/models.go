package notifications

import (
	"encoding/json"
	"errors"
	"time"

	"eventrsvp/internal/reservations"

	"github.com/google/uuid"
)

// MessageVersion is bumped whenever ReservationMessage changes shape.
const MessageVersion = "1.0"

// ReservationMessage is the Kafka payload for one committed reservation change.
type ReservationMessage struct {
	ID             uuid.UUID               `json:"id"`
	Type           reservations.ChangeType `json:"type"`
	ReservationID  uuid.UUID               `json:"reservation_id"`
	EventID        uuid.UUID               `json:"event_id"`
	RequesterID    uuid.UUID               `json:"requester_id"`
	SeatCount      int                     `json:"seat_count"`
	Status         reservations.Status     `json:"status"`
	PreviousStatus reservations.Status     `json:"previous_status,omitempty"`
	TicketNumber   string                  `json:"ticket_number,omitempty"`
	OccurredAt     time.Time               `json:"occurred_at"`
	Version        string                  `json:"version"`
}

var errMalformedMessage = errors.New("malformed reservation message")

func NewReservationMessage(change reservations.Change) *ReservationMessage {
	r := change.Reservation
	occurred := change.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	var ticket string
	if r.TicketNumber != nil {
		ticket = *r.TicketNumber
	}
	return &ReservationMessage{
		ID:             uuid.New(),
		Type:           change.Type,
		ReservationID:  r.ID,
		EventID:        r.EventID,
		RequesterID:    r.RequesterID,
		SeatCount:      r.SeatCount,
		Status:         r.Status,
		PreviousStatus: change.PreviousStatus,
		TicketNumber:   ticket,
		OccurredAt:     occurred,
		Version:        MessageVersion,
	}
}

// GetPartitionKey keeps every change of one event on one partition.
func (m *ReservationMessage) GetPartitionKey() string {
	return m.EventID.String()
}

func (m *ReservationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func (m *ReservationMessage) validate() error {
	switch {
	case m.ID == uuid.Nil:
		return errors.Join(errMalformedMessage, errors.New("missing message id"))
	case m.ReservationID == uuid.Nil || m.EventID == uuid.Nil:
		return errors.Join(errMalformedMessage, errors.New("missing reservation or event id"))
	case m.Type == "":
		return errors.Join(errMalformedMessage, errors.New("missing change type"))
	}
	return nil
}

func decodeReservationMessage(raw []byte) (*ReservationMessage, error) {
	var msg ReservationMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.Join(errMalformedMessage, err)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReservationActivity is the consumer's durable record of a reservation
// change. MessageID is unique so redelivered messages are recorded once.
type ReservationActivity struct {
	ID             uuid.UUID               `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MessageID      uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex" json:"message_id"`
	Type           reservations.ChangeType `gorm:"type:varchar(40);not null" json:"type"`
	ReservationID  uuid.UUID               `gorm:"type:uuid;not null;index" json:"reservation_id"`
	EventID        uuid.UUID               `gorm:"type:uuid;not null;index" json:"event_id"`
	RequesterID    uuid.UUID               `gorm:"type:uuid;not null" json:"requester_id"`
	SeatCount      int                     `gorm:"not null" json:"seat_count"`
	Status         reservations.Status     `gorm:"type:varchar(20);not null" json:"status"`
	PreviousStatus reservations.Status     `gorm:"type:varchar(20)" json:"previous_status,omitempty"`
	TicketNumber   string                  `gorm:"type:varchar(32)" json:"ticket_number,omitempty"`
	OccurredAt     time.Time               `gorm:"not null" json:"occurred_at"`
	RecordedAt     time.Time               `gorm:"autoCreateTime" json:"recorded_at"`
}

// TableName specifies the table name for GORM
func (ReservationActivity) TableName() string {
	return "reservation_activities"
}

func (m *ReservationMessage) toActivity() *ReservationActivity {
	return &ReservationActivity{
		ID:             uuid.New(),
		MessageID:      m.ID,
		Type:           m.Type,
		ReservationID:  m.ReservationID,
		EventID:        m.EventID,
		RequesterID:    m.RequesterID,
		SeatCount:      m.SeatCount,
		Status:         m.Status,
		PreviousStatus: m.PreviousStatus,
		TicketNumber:   m.TicketNumber,
		OccurredAt:     m.OccurredAt,
	}
}
