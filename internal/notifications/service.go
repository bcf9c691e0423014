package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"eventrsvp/internal/shared/config"
	"eventrsvp/pkg/logger"

	"gorm.io/gorm"
)

type ServiceConfig struct {
	KafkaBrokers       []string
	Topic              string
	ConsumerGroupID    string
	NumConsumerWorkers int
}

func NewServiceConfig(cfg *config.Config) *ServiceConfig {
	return &ServiceConfig{
		KafkaBrokers:       cfg.Kafka.Brokers,
		Topic:              cfg.Kafka.ReservationTopic,
		ConsumerGroupID:    cfg.Kafka.ConsumerGroupID,
		NumConsumerWorkers: cfg.Kafka.NumConsumerWorkers,
	}
}

// ReservationEventService owns the reservation change producer and the
// activity consumers.
type ReservationEventService struct {
	config   *ServiceConfig
	producer ReservationProducer
	consumer ReservationConsumer
	log      *logger.Logger

	isRunning bool
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewReservationEventService(config *ServiceConfig, db *gorm.DB) (*ReservationEventService, error) {
	producerConfig := DefaultKafkaProducerConfig()
	producerConfig.Brokers = config.KafkaBrokers
	producerConfig.Topic = config.Topic

	producer, err := NewKafkaReservationProducer(producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation producer: %w", err)
	}

	consumerConfig := DefaultConsumerConfig()
	consumerConfig.Brokers = config.KafkaBrokers
	consumerConfig.Topics = []string{config.Topic}
	consumerConfig.GroupID = config.ConsumerGroupID

	consumer, err := NewKafkaReservationConsumer(consumerConfig, NewActivityStore(db))
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to create reservation consumer: %w", err)
	}

	return newReservationEventService(config, producer, consumer), nil
}

func newReservationEventService(config *ServiceConfig, producer ReservationProducer, consumer ReservationConsumer) *ReservationEventService {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReservationEventService{
		config:   config,
		producer: producer,
		consumer: consumer,
		log:      logger.GetDefault(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *ReservationEventService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("reservation event service is already running")
	}

	if err := s.consumer.StartConsumers(s.ctx, s.config.NumConsumerWorkers); err != nil {
		return fmt.Errorf("failed to start consumers: %w", err)
	}

	s.isRunning = true
	s.log.Info("Reservation event service started", slog.String("topic", s.config.Topic))
	return nil
}

func (s *ReservationEventService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return fmt.Errorf("reservation event service is not running")
	}

	s.cancel()

	if err := s.consumer.Stop(); err != nil {
		s.log.Error("Error stopping consumer", slog.Any("error", err))
	}
	if err := s.producer.Close(); err != nil {
		s.log.Error("Error closing producer", slog.Any("error", err))
	}

	s.isRunning = false
	s.log.Info("Reservation event service stopped")
	return nil
}

func (s *ReservationEventService) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	isRunning := s.isRunning
	s.mu.RUnlock()

	if !isRunning {
		return fmt.Errorf("reservation event service is not running")
	}
	if err := s.producer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("producer health check failed: %w", err)
	}
	if err := s.consumer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("consumer health check failed: %w", err)
	}
	return nil
}

// Notifier returns the reservations.Notifier backed by this service's producer.
func (s *ReservationEventService) Notifier() *ReservationNotifier {
	return NewReservationNotifier(s.producer)
}
