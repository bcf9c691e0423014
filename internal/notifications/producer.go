package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"eventrsvp/pkg/logger"

	"github.com/IBM/sarama"
)

// ReservationProducer publishes reservation changes to Kafka.
type ReservationProducer interface {
	PublishReservationChange(ctx context.Context, msg *ReservationMessage) error
	PublishBatch(ctx context.Context, msgs []*ReservationMessage) error
	Close() error
	HealthCheck(ctx context.Context) error
}

// KafkaProducerConfig contains configuration for the reservation producer
type KafkaProducerConfig struct {
	Brokers          []string
	Topic            string
	RetryMax         int
	TimeoutMs        int
	RequiredAcks     sarama.RequiredAcks
	CompressionType  sarama.CompressionCodec
	IdempotentWrites bool
	MaxMessageBytes  int
}

// DefaultKafkaProducerConfig returns a default producer configuration
func DefaultKafkaProducerConfig() *KafkaProducerConfig {
	return &KafkaProducerConfig{
		Brokers:          []string{"localhost:9092"},
		Topic:            "reservation-events",
		RetryMax:         3,
		TimeoutMs:        10000,
		RequiredAcks:     sarama.WaitForAll,
		CompressionType:  sarama.CompressionSnappy,
		IdempotentWrites: true,
		MaxMessageBytes:  1000000,
	}
}

type KafkaReservationProducer struct {
	producer sarama.SyncProducer
	config   *KafkaProducerConfig
	log      *logger.Logger
}

// NewKafkaReservationProducer dials the brokers and returns a sync producer.
func NewKafkaReservationProducer(config *KafkaProducerConfig) (*KafkaReservationProducer, error) {
	producer, err := sarama.NewSyncProducer(config.Brokers, newSaramaProducerConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p := newKafkaReservationProducer(producer, config)
	p.log.Info("Kafka reservation producer created", slog.Any("brokers", config.Brokers), slog.String("topic", config.Topic))
	return p, nil
}

func newKafkaReservationProducer(producer sarama.SyncProducer, config *KafkaProducerConfig) *KafkaReservationProducer {
	return &KafkaReservationProducer{
		producer: producer,
		config:   config,
		log:      logger.GetDefault(),
	}
}

func newSaramaProducerConfig(config *KafkaProducerConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = "rsvp-ledger"

	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = config.RequiredAcks
	saramaConfig.Producer.Compression = config.CompressionType
	saramaConfig.Producer.Retry.Max = config.RetryMax
	saramaConfig.Producer.Timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	saramaConfig.Producer.Idempotent = config.IdempotentWrites
	saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes

	if config.IdempotentWrites {
		saramaConfig.Net.MaxOpenRequests = 1
	}

	// Same key, same partition: one event's changes are consumed in order.
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	return saramaConfig
}

func (p *KafkaReservationProducer) PublishReservationChange(ctx context.Context, msg *ReservationMessage) error {
	message, err := p.buildMessage(msg)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to send reservation change to Kafka: %w", err)
	}

	p.log.DebugContext(ctx, "Reservation change published",
		slog.String("topic", p.config.Topic),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset),
		slog.String("type", string(msg.Type)),
		slog.String("reservation_id", msg.ReservationID.String()),
	)
	return nil
}

// PublishBatch sends msgs in one request. Messages that fail to encode are
// skipped and logged.
func (p *KafkaReservationProducer) PublishBatch(ctx context.Context, msgs []*ReservationMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := make([]*sarama.ProducerMessage, 0, len(msgs))
	for _, msg := range msgs {
		message, err := p.buildMessage(msg)
		if err != nil {
			p.log.WarnContext(ctx, "Skipping unencodable reservation change", slog.String("reservation_id", msg.ReservationID.String()), slog.Any("error", err))
			continue
		}
		batch = append(batch, message)
	}

	if err := p.producer.SendMessages(batch); err != nil {
		return fmt.Errorf("failed to send batch of %d reservation changes: %w", len(batch), err)
	}

	p.log.DebugContext(ctx, "Reservation change batch published", slog.Int("count", len(batch)), slog.String("topic", p.config.Topic))
	return nil
}

func (p *KafkaReservationProducer) buildMessage(msg *ReservationMessage) (*sarama.ProducerMessage, error) {
	payload, err := msg.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reservation message: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic:     p.config.Topic,
		Key:       sarama.StringEncoder(msg.GetPartitionKey()),
		Value:     sarama.ByteEncoder(payload),
		Headers:   createHeaders(msg),
		Timestamp: msg.OccurredAt,
	}, nil
}

func createHeaders(msg *ReservationMessage) []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte("message_id"), Value: []byte(msg.ID.String())},
		{Key: []byte("change_type"), Value: []byte(msg.Type)},
		{Key: []byte("reservation_id"), Value: []byte(msg.ReservationID.String())},
		{Key: []byte("event_id"), Value: []byte(msg.EventID.String())},
		{Key: []byte("version"), Value: []byte(msg.Version)},
		{Key: []byte("producer"), Value: []byte("rsvp-ledger")},
	}
}

// Close closes the Kafka producer
func (p *KafkaReservationProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	p.log.Info("Kafka reservation producer closed")
	return nil
}

// HealthCheck validates configuration; broker reachability surfaces on the
// next send.
func (p *KafkaReservationProducer) HealthCheck(ctx context.Context) error {
	if p.producer == nil {
		return fmt.Errorf("health check failed - producer is nil")
	}
	if p.config.Topic == "" {
		return fmt.Errorf("health check failed - reservation topic not configured")
	}
	return nil
}
