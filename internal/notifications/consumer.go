package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventrsvp/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActivityStore persists consumed reservation changes.
type ActivityStore interface {
	// Record stores the activity unless its message id was already seen and
	// reports whether a row was inserted.
	Record(ctx context.Context, activity *ReservationActivity) (bool, error)
	ListByReservation(ctx context.Context, reservationID uuid.UUID) ([]ReservationActivity, error)
}

type activityStore struct {
	db *gorm.DB
}

func NewActivityStore(db *gorm.DB) ActivityStore {
	return &activityStore{db: db}
}

func (s *activityStore) Record(ctx context.Context, activity *ReservationActivity) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(activity)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *activityStore) ListByReservation(ctx context.Context, reservationID uuid.UUID) ([]ReservationActivity, error) {
	var items []ReservationActivity
	err := s.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("occurred_at ASC").
		Find(&items).Error
	return items, err
}

type ReservationConsumer interface {
	StartConsumers(ctx context.Context, numWorkers int) error
	Stop() error
	HealthCheck(ctx context.Context) error
}

type ConsumerConfig struct {
	Brokers              []string
	GroupID              string
	Topics               []string
	SessionTimeoutMs     int
	HeartbeatMs          int
	RetryBackoffMs       int
	MaxProcessingTime    time.Duration
	AutoCommit           bool
	OffsetOldest         bool
	MaxRetries           int
	RetryBackoffDuration time.Duration
}

func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:              []string{"localhost:9092"},
		GroupID:              "rsvp-activity-workers",
		Topics:               []string{"reservation-events"},
		SessionTimeoutMs:     30000,
		HeartbeatMs:          3000,
		RetryBackoffMs:       100,
		MaxProcessingTime:    time.Minute,
		AutoCommit:           true,
		OffsetOldest:         true,
		MaxRetries:           3,
		RetryBackoffDuration: time.Second,
	}
}

// KafkaReservationConsumer runs numWorkers members of one consumer group.
// Each worker owns its own sarama.ConsumerGroup so partitions are spread
// across them by the group rebalance.
type KafkaReservationConsumer struct {
	config *ConsumerConfig
	store  ActivityStore
	log    *logger.Logger

	newGroup func() (sarama.ConsumerGroup, error)

	mu     sync.Mutex
	groups []sarama.ConsumerGroup
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewKafkaReservationConsumer(config *ConsumerConfig, store ActivityStore) (*KafkaReservationConsumer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("failed to create consumer: no brokers configured")
	}
	saramaConfig := newSaramaConsumerConfig(config)

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaReservationConsumer{
		config: config,
		store:  store,
		log:    logger.GetDefault(),
		newGroup: func() (sarama.ConsumerGroup, error) {
			return sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func newSaramaConsumerConfig(config *ConsumerConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = "rsvp-ledger"

	saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMs) * time.Millisecond
	saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatMs) * time.Millisecond
	saramaConfig.Consumer.Retry.Backoff = time.Duration(config.RetryBackoffMs) * time.Millisecond
	saramaConfig.Consumer.MaxProcessingTime = config.MaxProcessingTime
	saramaConfig.Consumer.Return.Errors = true

	if config.OffsetOldest {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if config.AutoCommit {
		saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
		saramaConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
	}
	return saramaConfig
}

func (c *KafkaReservationConsumer) StartConsumers(ctx context.Context, numWorkers int) error {
	if numWorkers < 1 {
		numWorkers = 1
	}

	for i := 0; i < numWorkers; i++ {
		group, err := c.newGroup()
		if err != nil {
			c.Stop()
			return fmt.Errorf("failed to create consumer group member %d: %w", i, err)
		}
		c.mu.Lock()
		c.groups = append(c.groups, group)
		c.mu.Unlock()

		c.wg.Add(2)
		go c.handleErrors(group)
		go c.runWorker(ctx, group, i)
	}

	c.log.Info("Reservation activity consumers started", slog.Int("workers", numWorkers), slog.Any("topics", c.config.Topics))
	return nil
}

func (c *KafkaReservationConsumer) runWorker(ctx context.Context, group sarama.ConsumerGroup, workerID int) {
	defer c.wg.Done()
	handler := &ConsumerGroupHandler{
		consumer: c,
		workerID: workerID,
		store:    c.store,
		sleep:    sleepContext,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		default:
		}

		if err := group.Consume(ctx, c.config.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.log.Warn("Consumer worker error", slog.Int("worker", workerID), slog.Any("error", err))
			if sleepContext(c.ctx, time.Second) != nil {
				return
			}
		}
	}
}

func (c *KafkaReservationConsumer) handleErrors(group sarama.ConsumerGroup) {
	defer c.wg.Done()
	for err := range group.Errors() {
		c.log.Warn("Consumer group error", slog.Any("error", err))
	}
}

func (c *KafkaReservationConsumer) Stop() error {
	c.cancel()

	c.mu.Lock()
	groups := c.groups
	c.groups = nil
	c.mu.Unlock()

	var errs []error
	for _, group := range groups {
		if err := group.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	c.log.Info("Reservation activity consumers stopped")
	return nil
}

func (c *KafkaReservationConsumer) HealthCheck(ctx context.Context) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("consumer context is cancelled")
	default:
	}
	if c.store == nil {
		return fmt.Errorf("activity store not configured")
	}
	return nil
}

type ConsumerGroupHandler struct {
	consumer *KafkaReservationConsumer
	workerID int
	store    ActivityStore
	sleep    func(ctx context.Context, d time.Duration) error
}

func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.log.Debug("Consumer group session started", slog.Int("worker", h.workerID))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.log.Debug("Consumer group session ended", slog.Int("worker", h.workerID))
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			err := h.processMessage(session.Context(), message)
			switch {
			case err == nil:
				session.MarkMessage(message, "")
			case errors.Is(err, errMalformedMessage):
				// Never decodable; skip rather than block the partition.
				h.consumer.log.Error("Dropping malformed reservation message",
					slog.Int("worker", h.workerID), slog.Int64("offset", message.Offset), slog.Any("error", err))
				session.MarkMessage(message, "")
			default:
				h.consumer.log.Error("Failed to record reservation activity",
					slog.Int("worker", h.workerID), slog.Int64("offset", message.Offset), slog.Any("error", err))
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *ConsumerGroupHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	msg, err := decodeReservationMessage(message.Value)
	if err != nil {
		return err
	}

	activity := msg.toActivity()
	inserted, err := h.executeWithRetry(ctx, activity)
	if err != nil {
		return err
	}
	if !inserted {
		h.consumer.log.Debug("Duplicate reservation message ignored", slog.String("message_id", msg.ID.String()))
	}
	return nil
}

func (h *ConsumerGroupHandler) executeWithRetry(ctx context.Context, activity *ReservationActivity) (bool, error) {
	maxRetries := h.consumer.config.MaxRetries
	backoff := h.consumer.config.RetryBackoffDuration

	for attempt := 0; ; attempt++ {
		inserted, err := h.store.Record(ctx, activity)
		if err == nil {
			return inserted, nil
		}
		if attempt >= maxRetries {
			return false, fmt.Errorf("record activity after %d attempts: %w", attempt+1, err)
		}

		delay := backoff * time.Duration(1<<attempt)
		h.consumer.log.Warn("Retrying activity write", slog.Int("worker", h.workerID), slog.Int("attempt", attempt+1), slog.Duration("delay", delay))
		if err := h.sleep(ctx, delay); err != nil {
			return false, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
