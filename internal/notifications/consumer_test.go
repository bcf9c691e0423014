package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventrsvp/internal/reservations"
	"eventrsvp/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

type memoryActivityStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]ReservationActivity
	failures int
	calls    int
}

func newMemoryActivityStore() *memoryActivityStore {
	return &memoryActivityStore{byID: map[uuid.UUID]ReservationActivity{}}
}

func (s *memoryActivityStore) Record(_ context.Context, a *ReservationActivity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return false, errors.New("connection reset")
	}
	if _, ok := s.byID[a.MessageID]; ok {
		return false, nil
	}
	s.byID[a.MessageID] = *a
	return true, nil
}

func (s *memoryActivityStore) ListByReservation(_ context.Context, reservationID uuid.UUID) ([]ReservationActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReservationActivity
	for _, a := range s.byID {
		if a.ReservationID == reservationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestHandler(store ActivityStore) (*ConsumerGroupHandler, *[]time.Duration) {
	config := DefaultConsumerConfig()
	config.RetryBackoffDuration = 10 * time.Millisecond
	consumer := &KafkaReservationConsumer{config: config, store: store, log: logger.GetDefault()}

	var sleeps []time.Duration
	return &ConsumerGroupHandler{
		consumer: consumer,
		store:    store,
		sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}, &sleeps
}

func encoded(t *testing.T, msg *ReservationMessage) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "reservation-events", Value: raw}
}

func TestProcessMessageRecordsOnce(t *testing.T) {
	store := newMemoryActivityStore()
	handler, _ := newTestHandler(store)
	change := sampleChange(reservations.ChangeConfirmed)
	ticket := "TKT-0A1B2C3D4E5F"
	change.Reservation.TicketNumber = &ticket
	msg := NewReservationMessage(change)

	for i := 0; i < 2; i++ {
		if err := handler.processMessage(context.Background(), encoded(t, msg)); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	items, _ := store.ListByReservation(context.Background(), msg.ReservationID)
	if len(items) != 1 {
		t.Fatalf("recorded %d activities, want 1", len(items))
	}
	if items[0].Type != reservations.ChangeConfirmed || items[0].EventID != msg.EventID || items[0].TicketNumber != ticket {
		t.Errorf("activity = %+v", items[0])
	}
}

func TestProcessMessageRejectsMalformed(t *testing.T) {
	handler, _ := newTestHandler(newMemoryActivityStore())

	tests := map[string][]byte{
		"not json":     []byte("{oops"),
		"missing ids":  []byte(`{"type":"RESERVATION_CREATED"}`),
		"missing type": []byte(`{"id":"` + uuid.NewString() + `","reservation_id":"` + uuid.NewString() + `","event_id":"` + uuid.NewString() + `"}`),
	}
	for name, raw := range tests {
		err := handler.processMessage(context.Background(), &sarama.ConsumerMessage{Value: raw})
		if !errors.Is(err, errMalformedMessage) {
			t.Errorf("%s: got %v, want errMalformedMessage", name, err)
		}
	}
}

func TestProcessMessageRetriesStoreErrors(t *testing.T) {
	store := newMemoryActivityStore()
	store.failures = 2
	handler, sleeps := newTestHandler(store)

	msg := NewReservationMessage(sampleChange(reservations.ChangeCreated))
	if err := handler.processMessage(context.Background(), encoded(t, msg)); err != nil {
		t.Fatalf("processMessage: %v", err)
	}
	if store.calls != 3 {
		t.Errorf("store calls = %d, want 3", store.calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("backoff = %v, want %v", *sleeps, want)
	}

	store.failures = 10
	other := NewReservationMessage(sampleChange(reservations.ChangeCreated))
	if err := handler.processMessage(context.Background(), encoded(t, other)); err == nil {
		t.Error("expected error once retries are exhausted")
	}
}

func TestSaramaConsumerConfigValidates(t *testing.T) {
	if err := newSaramaConsumerConfig(DefaultConsumerConfig()).Validate(); err != nil {
		t.Fatalf("consumer config invalid: %v", err)
	}
}
