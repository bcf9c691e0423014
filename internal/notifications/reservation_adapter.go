package notifications

import (
	"context"

	"eventrsvp/internal/reservations"
)

// ReservationNotifier implements reservations.Notifier by publishing each
// committed change to Kafka.
type ReservationNotifier struct {
	producer ReservationProducer
}

var _ reservations.Notifier = (*ReservationNotifier)(nil)

func NewReservationNotifier(producer ReservationProducer) *ReservationNotifier {
	return &ReservationNotifier{producer: producer}
}

func (n *ReservationNotifier) ReservationChanged(ctx context.Context, change reservations.Change) error {
	return n.producer.PublishReservationChange(ctx, NewReservationMessage(change))
}
