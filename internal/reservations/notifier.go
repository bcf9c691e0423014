package reservations

import (
	"context"
	"time"
)

type ChangeType string

const (
	ChangeCreated   ChangeType = "RESERVATION_CREATED"
	ChangeConfirmed ChangeType = "RESERVATION_CONFIRMED"
	ChangeCancelled ChangeType = "RESERVATION_CANCELLED"
	ChangeExpired   ChangeType = "RESERVATION_EXPIRED"
)

// Change describes a committed reservation state change.
type Change struct {
	Type        ChangeType
	Reservation Reservation
	// PreviousStatus is empty for ChangeCreated.
	PreviousStatus Status
	OccurredAt     time.Time
}

// Notifier is told about changes after they commit. A failing notifier
// never undoes a committed change.
type Notifier interface {
	ReservationChanged(ctx context.Context, change Change) error
}

type noopNotifier struct{}

func (noopNotifier) ReservationChanged(context.Context, Change) error { return nil }
