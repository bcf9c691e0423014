package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"eventrsvp/internal/reservations"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
)

func sampleChange(changeType reservations.ChangeType) reservations.Change {
	return reservations.Change{
		Type: changeType,
		Reservation: reservations.Reservation{
			ID:          uuid.New(),
			EventID:     uuid.New(),
			RequesterID: uuid.New(),
			SeatCount:   2,
			Status:      reservations.StatusCancelled,
		},
		PreviousStatus: reservations.StatusPending,
		OccurredAt:     time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifierPublishesReservationChange(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()

	change := sampleChange(reservations.ChangeCancelled)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg ReservationMessage
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.Type != reservations.ChangeCancelled || msg.ReservationID != change.Reservation.ID {
			return fmt.Errorf("unexpected message %+v", msg)
		}
		if msg.PreviousStatus != reservations.StatusPending || msg.SeatCount != 2 {
			return fmt.Errorf("unexpected status fields %+v", msg)
		}
		if msg.ID == uuid.Nil || msg.Version != MessageVersion {
			return errors.New("message id or version missing")
		}
		return nil
	})

	config := DefaultKafkaProducerConfig()
	notifier := NewReservationNotifier(newKafkaReservationProducer(mock, config))

	if err := notifier.ReservationChanged(context.Background(), change); err != nil {
		t.Fatalf("ReservationChanged: %v", err)
	}
}

func TestProducerSurfacesSendFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()
	mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	producer := newKafkaReservationProducer(mock, DefaultKafkaProducerConfig())
	err := producer.PublishReservationChange(context.Background(), NewReservationMessage(sampleChange(reservations.ChangeCreated)))
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestProducerPublishBatch(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	defer mock.Close()
	mock.ExpectSendMessageAndSucceed()
	mock.ExpectSendMessageAndSucceed()

	producer := newKafkaReservationProducer(mock, DefaultKafkaProducerConfig())
	msgs := []*ReservationMessage{
		NewReservationMessage(sampleChange(reservations.ChangeCreated)),
		NewReservationMessage(sampleChange(reservations.ChangeConfirmed)),
	}
	if err := producer.PublishBatch(context.Background(), msgs); err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if err := producer.PublishBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

func TestBuildMessageKeysByEvent(t *testing.T) {
	producer := newKafkaReservationProducer(nil, &KafkaProducerConfig{Topic: "reservation-events"})
	msg := NewReservationMessage(sampleChange(reservations.ChangeExpired))

	pm, err := producer.buildMessage(msg)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	key, _ := pm.Key.Encode()
	if string(key) != msg.EventID.String() {
		t.Errorf("key = %s, want event id %s", key, msg.EventID)
	}
	if pm.Topic != "reservation-events" {
		t.Errorf("topic = %q", pm.Topic)
	}

	headers := map[string]string{}
	for _, h := range pm.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	if headers["change_type"] != string(reservations.ChangeExpired) || headers["message_id"] != msg.ID.String() {
		t.Errorf("headers = %v", headers)
	}
}

func TestSaramaProducerConfigValidates(t *testing.T) {
	cfg := newSaramaProducerConfig(DefaultKafkaProducerConfig())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("producer config invalid: %v", err)
	}
	if cfg.Net.MaxOpenRequests != 1 {
		t.Errorf("idempotent producer needs MaxOpenRequests=1, got %d", cfg.Net.MaxOpenRequests)
	}
}
