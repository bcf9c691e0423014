package reservations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventrsvp/internal/shared/config"
	"eventrsvp/internal/shared/constants"
	"eventrsvp/pkg/cache"
	"eventrsvp/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Service interface {
	// Reserve admits or rejects a reservation request. The capacity check
	// and insert run in one transaction holding the event's row lock.
	Reserve(ctx context.Context, input ReserveInput) (*ReserveResult, error)
	Confirm(ctx context.Context, reservationID uuid.UUID) (*Reservation, error)
	// Cancel frees the reservation's seats. Cancelling twice succeeds.
	Cancel(ctx context.Context, reservationID uuid.UUID) (*Reservation, error)

	GetReservation(ctx context.Context, reservationID uuid.UUID) (*Reservation, error)
	ListEventReservations(ctx context.Context, eventID uuid.UUID, query ListQuery) (*ReservationPage, error)
	ListRequesterReservations(ctx context.Context, requesterID uuid.UUID, query ListQuery) (*ReservationPage, error)
	GetAvailability(ctx context.Context, eventID uuid.UUID) (*Availability, error)

	// ExpireStalePending cancels pending reservations older than the
	// configured TTL and returns how many were expired.
	ExpireStalePending(ctx context.Context) (int, error)
}

type ServiceConfig struct {
	Policy Policy

	// MaxAttempts bounds how often a transaction that hit ErrConflict is run.
	MaxAttempts  int
	RetryBackoff time.Duration

	PendingTTL     time.Duration
	SweepBatchSize int

	AvailabilityTTL time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Policy:          PolicyMultiSeat,
		MaxAttempts:     3,
		RetryBackoff:    25 * time.Millisecond,
		SweepBatchSize:  100,
		AvailabilityTTL: constants.TTL_EVENT_AVAILABILITY,
	}
}

// NewServiceConfig builds a ServiceConfig from the process configuration.
func NewServiceConfig(cfg *config.Config) (ServiceConfig, error) {
	policy, err := ParsePolicy(cfg.Reservation.Policy)
	if err != nil {
		return ServiceConfig{}, err
	}
	if cfg.Reservation.PendingTTL > 0 && cfg.Reservation.SweepInterval <= 0 {
		return ServiceConfig{}, fmt.Errorf("sweep interval must be positive when pending expiry is enabled, got %s", cfg.Reservation.SweepInterval)
	}
	return ServiceConfig{
		Policy:          policy,
		MaxAttempts:     cfg.Reservation.MaxAttempts,
		RetryBackoff:    cfg.Reservation.RetryBackoff,
		PendingTTL:      cfg.Reservation.PendingTTL,
		SweepBatchSize:  cfg.Reservation.SweepBatchSize,
		AvailabilityTTL: cfg.Redis.AvailabilityTTL,
	}, nil
}

type service struct {
	repo     Repository
	cfg      ServiceConfig
	notifier Notifier
	cache    cache.Service
	validate *validator.Validate
	log      *logger.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	ticket   func() string
}

// NewService wires the ledger. notifier and availabilityCache may be nil.
func NewService(repo Repository, cfg ServiceConfig, notifier Notifier, availabilityCache cache.Service) Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.SweepBatchSize < 1 {
		cfg.SweepBatchSize = 100
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyMultiSeat
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &service{
		repo:     repo,
		cfg:      cfg,
		notifier: notifier,
		cache:    availabilityCache,
		validate: validator.New(),
		log:      logger.GetDefault(),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepContext,
		ticket:   newTicketNumber,
	}
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*ReserveResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}
	seats, err := s.cfg.Policy.seatCount(input.SeatCount)
	if err != nil {
		return nil, err
	}

	var result *ReserveResult
	err = s.withRetry(ctx, input.EventID, func(ctx context.Context) error {
		result = nil
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			res, err := s.admit(ctx, input, seats)
			result = res
			return err
		})
	})
	if err != nil {
		s.log.LogReservationRejected(ctx, input.EventID.String(), input.RequesterID.String(), seats, err)
		return nil, err
	}

	if result.Created {
		r := result.Reservation
		s.log.LogReservationCreated(ctx, r.ID.String(), r.EventID.String(), r.RequesterID.String(), r.SeatCount)
		s.afterCommit(ctx, Change{Type: ChangeCreated, Reservation: *r, OccurredAt: r.CreatedAt})
	}
	return result, nil
}

// admit runs inside the transaction, after which the event row is locked
// until commit or rollback.
func (s *service) admit(ctx context.Context, input ReserveInput, seats int) (*ReserveResult, error) {
	event, err := s.repo.LockEvent(ctx, input.EventID)
	if err != nil {
		return nil, err
	}

	if input.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, input.EventID, input.RequesterID, input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.SeatCount != seats {
				return nil, ErrIdempotencyMismatch
			}
			return &ReserveResult{Reservation: existing}, nil
		}
	}

	if s.cfg.Policy.EnforcesSingleActive() {
		active, err := s.repo.FindActiveByRequester(ctx, input.EventID, input.RequesterID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, ErrDuplicateReservation
		}
	}

	reserved, err := s.repo.SumActiveSeats(ctx, input.EventID)
	if err != nil {
		return nil, err
	}
	if event.Capacity < reserved+seats {
		return nil, fmt.Errorf("%w: %d of %d seats reserved, %d requested",
			ErrCapacityExceeded, reserved, event.Capacity, seats)
	}

	now := s.now()
	reservation := &Reservation{
		ID:                  uuid.New(),
		EventID:             input.EventID,
		RequesterID:         input.RequesterID,
		SeatCount:           seats,
		Status:              s.cfg.Policy.InitialStatus(),
		SpecialRequirements: input.SpecialRequirements,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if input.IdempotencyKey != "" {
		key := input.IdempotencyKey
		reservation.IdempotencyKey = &key
	}
	if reservation.Status == StatusConfirmed {
		number := s.ticket()
		reservation.ConfirmedAt = &now
		reservation.TicketNumber = &number
	}

	if err := s.repo.Create(ctx, reservation); err != nil {
		return nil, err
	}
	return &ReserveResult{Reservation: reservation, Created: true}, nil
}

func (s *service) Confirm(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	r, _, err := s.transition(ctx, reservationID, StatusConfirmed, ChangeConfirmed, false)
	return r, err
}

func (s *service) Cancel(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	r, _, err := s.transition(ctx, reservationID, StatusCancelled, ChangeCancelled, false)
	return r, err
}

// transition moves a reservation to target under the event lock. Reaching a
// status the reservation already has is a no-op. With onlyFromPending set,
// reservations that left pending in the meantime are skipped.
func (s *service) transition(ctx context.Context, id uuid.UUID, target Status, change ChangeType, onlyFromPending bool) (*Reservation, bool, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	var (
		out     *Reservation
		from    Status
		changed bool
	)
	err = s.withRetry(ctx, current.EventID, func(ctx context.Context) error {
		out, changed = nil, false
		return s.repo.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.repo.LockEvent(ctx, current.EventID); err != nil {
				return err
			}
			r, err := s.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			out = r

			if r.Status == target {
				return nil
			}
			if onlyFromPending && r.Status != StatusPending {
				return nil
			}
			if !r.Status.CanTransitionTo(target) {
				return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, r.Status, target)
			}

			now := s.now()
			if err := s.repo.UpdateStatus(ctx, r.ID, r.Status, target, now); err != nil {
				return err
			}
			if target == StatusConfirmed && r.TicketNumber == nil {
				number := s.ticket()
				if err := s.repo.IssueTicket(ctx, r.ID, number); err != nil {
					return err
				}
				r.TicketNumber = &number
			}
			from = r.Status
			r.Status = target
			r.UpdatedAt = now
			switch target {
			case StatusConfirmed:
				r.ConfirmedAt = &now
			case StatusCancelled:
				r.CancelledAt = &now
			}
			changed = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.log.LogReservationTransition(ctx, out.ID.String(), out.EventID.String(), string(from), string(target))
		s.afterCommit(ctx, Change{Type: change, Reservation: *out, PreviousStatus: from, OccurredAt: out.UpdatedAt})
	}
	return out, changed, nil
}

func (s *service) GetReservation(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	return s.repo.GetByID(ctx, reservationID)
}

func (s *service) ListEventReservations(ctx context.Context, eventID uuid.UUID, query ListQuery) (*ReservationPage, error) {
	if _, err := s.repo.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	query = query.normalized()
	items, total, err := s.repo.ListByEvent(ctx, eventID, query)
	if err != nil {
		return nil, err
	}
	return newReservationPage(items, total, query), nil
}

func (s *service) ListRequesterReservations(ctx context.Context, requesterID uuid.UUID, query ListQuery) (*ReservationPage, error) {
	query = query.normalized()
	items, total, err := s.repo.ListByRequester(ctx, requesterID, query)
	if err != nil {
		return nil, err
	}
	return newReservationPage(items, total, query), nil
}

// GetAvailability is a display value. Admission never reads it, so a stale
// cached copy cannot cause overcommit.
func (s *service) GetAvailability(ctx context.Context, eventID uuid.UUID) (*Availability, error) {
	key := constants.BuildAvailabilityKey(eventID.String())
	if s.cache != nil {
		var cached Availability
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "availability cache read failed", slog.String("event_id", eventID.String()), slog.Any("error", err))
		}
	}

	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	reserved, err := s.repo.SumActiveSeats(ctx, eventID)
	if err != nil {
		return nil, err
	}

	available := event.Capacity - reserved
	if available < 0 {
		available = 0
	}
	availability := &Availability{
		EventID:        eventID,
		Capacity:       event.Capacity,
		ReservedSeats:  reserved,
		AvailableSeats: available,
		AsOf:           s.now(),
	}

	if s.cache != nil && s.cfg.AvailabilityTTL > 0 {
		if err := s.cache.Set(ctx, key, availability, s.cfg.AvailabilityTTL); err != nil {
			s.log.WarnContext(ctx, "availability cache write failed", slog.String("event_id", eventID.String()), slog.Any("error", err))
		}
	}
	return availability, nil
}

func (s *service) ExpireStalePending(ctx context.Context) (int, error) {
	if s.cfg.PendingTTL <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.cfg.PendingTTL)
	stale, err := s.repo.ListStalePending(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, r := range stale {
		_, changed, err := s.transition(ctx, r.ID, StatusCancelled, ChangeExpired, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire reservation %s: %w", r.ID, err))
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// withRetry reruns fn while it fails with a retriable conflict, backing off
// exponentially between attempts. Other errors are returned immediately.
func (s *service) withRetry(ctx context.Context, eventID uuid.UUID, fn func(ctx context.Context) error) error {
	backoff := s.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsRetriable(err) || attempt >= s.cfg.MaxAttempts {
			return err
		}

		delay := backoff * time.Duration(1<<(attempt-1))
		s.log.LogReservationRetry(ctx, eventID.String(), attempt, delay, err)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

// afterCommit runs once the change is durable. The caller's cancellation
// does not apply to it.
func (s *service) afterCommit(ctx context.Context, change Change) {
	ctx = context.WithoutCancel(ctx)
	if s.cache != nil {
		key := constants.BuildAvailabilityKey(change.Reservation.EventID.String())
		if err := s.cache.Delete(ctx, key); err != nil {
			s.log.WarnContext(ctx, "availability cache invalidation failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	if err := s.notifier.ReservationChanged(ctx, change); err != nil {
		s.log.ErrorWithContext(ctx, "reservation change notification failed", err, map[string]interface{}{
			"reservation_id": change.Reservation.ID.String(),
			"change":         string(change.Type),
		})
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "SeatCount" {
				return fmt.Errorf("%w: failed %s", ErrInvalidSeatCount, fe.Tag())
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
