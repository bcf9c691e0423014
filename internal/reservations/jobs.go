package reservations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"eventrsvp/pkg/logger"
)

// JobProcessor runs the ledger's background maintenance.
type JobProcessor struct {
	service Service
	config  *JobConfig
	log     *logger.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// JobConfig contains configuration for background jobs
type JobConfig struct {
	ExpiryCheckInterval time.Duration
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		ExpiryCheckInterval: 1 * time.Minute,
	}
}

func NewJobProcessor(service Service, config *JobConfig) *JobProcessor {
	defaults := DefaultJobConfig()
	if config == nil {
		config = defaults
	}
	if config.ExpiryCheckInterval <= 0 {
		cfg := *config
		cfg.ExpiryCheckInterval = defaults.ExpiryCheckInterval
		config = &cfg
	}
	return &JobProcessor{
		service: service,
		config:  config,
		log:     logger.GetDefault(),
		done:    make(chan struct{}),
	}
}

// Start launches the jobs and returns immediately.
func (jp *JobProcessor) Start(ctx context.Context) {
	jp.wg.Add(1)
	go jp.startExpiryProcessor(ctx)

	jp.log.Info("Reservation background jobs started", slog.Duration("expiry_interval", jp.config.ExpiryCheckInterval))
}

// Stop signals every job to exit and waits for them.
func (jp *JobProcessor) Stop() {
	jp.stopOnce.Do(func() { close(jp.done) })
	jp.wg.Wait()
	jp.log.Info("Reservation background jobs stopped")
}

func (jp *JobProcessor) startExpiryProcessor(ctx context.Context) {
	defer jp.wg.Done()

	ticker := time.NewTicker(jp.config.ExpiryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			jp.processExpiredReservations(ctx)
		case <-jp.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (jp *JobProcessor) processExpiredReservations(ctx context.Context) {
	expired, err := jp.service.ExpireStalePending(ctx)
	if err != nil {
		jp.log.Error("Error expiring pending reservations", slog.Int("expired", expired), slog.Any("error", err))
		return
	}
	if expired > 0 {
		jp.log.Info("Expired stale pending reservations", slog.Int("count", expired))
	}
}

// GetJobStatus returns the status of background jobs
func (jp *JobProcessor) GetJobStatus() map[string]interface{} {
	status := "running"
	select {
	case <-jp.done:
		status = "stopped"
	default:
	}
	return map[string]interface{}{
		"expiry_check_interval": jp.config.ExpiryCheckInterval.String(),
		"status":                status,
	}
}
