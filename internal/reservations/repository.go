package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventrsvp/internal/events"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the ledger's view of the store. Methods called with a
// context returned inside WithTx run on that transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// LockEvent takes the event row lock that serializes every capacity
	// decision for one event.
	LockEvent(ctx context.Context, eventID uuid.UUID) (*events.Event, error)
	GetEvent(ctx context.Context, eventID uuid.UUID) (*events.Event, error)
	SumActiveSeats(ctx context.Context, eventID uuid.UUID) (int, error)

	FindActiveByRequester(ctx context.Context, eventID, requesterID uuid.UUID) (*Reservation, error)
	FindByIdempotencyKey(ctx context.Context, eventID, requesterID uuid.UUID, key string) (*Reservation, error)

	Create(ctx context.Context, reservation *Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error
	// IssueTicket sets the ticket number of a reservation that has none.
	IssueTicket(ctx context.Context, id uuid.UUID, number string) error

	ListByEvent(ctx context.Context, eventID uuid.UUID, query ListQuery) ([]Reservation, int64, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID, query ListQuery) ([]Reservation, int64, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Reservation, error)
}

type txKey struct{}

type repository struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewRepository returns a gorm backed Repository. lockTimeout bounds how
// long a transaction waits for another request's event lock.
func NewRepository(db *gorm.DB, lockTimeout time.Duration) Repository {
	return &repository{db: db, lockTimeout: lockTimeout}
}

func (r *repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.lockTimeout > 0 {
			if err := tx.Exec(lockTimeoutStatement(r.lockTimeout)).Error; err != nil {
				return err
			}
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	return classify("transaction", err)
}

// lockTimeoutStatement rounds d up to whole milliseconds. Postgres reads
// '0ms' as no timeout at all.
func lockTimeoutStatement(d time.Duration) string {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", int64(ms))
}

func txFromContext(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(txKey{}).(*gorm.DB)
	return tx
}

func (r *repository) conn(ctx context.Context) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func (r *repository) LockEvent(ctx context.Context, eventID uuid.UUID) (*events.Event, error) {
	var event events.Event
	err := r.conn(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", eventID).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, classify("lock event", err)
	}
	return &event, nil
}

func (r *repository) GetEvent(ctx context.Context, eventID uuid.UUID) (*events.Event, error) {
	var event events.Event
	err := r.conn(ctx).Where("id = ?", eventID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, classify("get event", err)
	}
	return &event, nil
}

func (r *repository) SumActiveSeats(ctx context.Context, eventID uuid.UUID) (int, error) {
	var total int64
	err := r.conn(ctx).
		Model(&Reservation{}).
		Select("COALESCE(SUM(seat_count), 0)").
		Where("event_id = ? AND status <> ?", eventID, StatusCancelled).
		Scan(&total).Error
	if err != nil {
		return 0, classify("sum active seats", err)
	}
	return int(total), nil
}

func (r *repository) FindActiveByRequester(ctx context.Context, eventID, requesterID uuid.UUID) (*Reservation, error) {
	var reservation Reservation
	err := r.conn(ctx).
		Where("event_id = ? AND requester_id = ? AND status <> ?", eventID, requesterID, StatusCancelled).
		Order("created_at ASC").
		Limit(1).
		Find(&reservation).Error
	if err != nil {
		return nil, classify("find active reservation", err)
	}
	if reservation.ID == uuid.Nil {
		return nil, nil
	}
	return &reservation, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, eventID, requesterID uuid.UUID, key string) (*Reservation, error) {
	var reservation Reservation
	err := r.conn(ctx).
		Where("event_id = ? AND requester_id = ? AND idempotency_key = ?", eventID, requesterID, key).
		Limit(1).
		Find(&reservation).Error
	if err != nil {
		return nil, classify("find by idempotency key", err)
	}
	if reservation.ID == uuid.Nil {
		return nil, nil
	}
	return &reservation, nil
}

func (r *repository) Create(ctx context.Context, reservation *Reservation) error {
	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	if err := r.conn(ctx).Create(reservation).Error; err != nil {
		return classify("create reservation", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return r.get(r.conn(ctx), id)
}

// GetForUpdate locks the reservation row. Callers must already hold the
// owning event's lock so every path acquires event then reservation.
func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return r.get(r.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repository) get(db *gorm.DB, id uuid.UUID) (*Reservation, error) {
	var reservation Reservation
	err := db.Where("id = ?", id).First(&reservation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, classify("get reservation", err)
	}
	return &reservation, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case StatusConfirmed:
		updates["confirmed_at"] = at
	case StatusCancelled:
		updates["cancelled_at"] = at
	}

	result := r.conn(ctx).
		Model(&Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return classify("update reservation status", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update reservation status: %w: status is no longer %s", ErrConflict, from)
	}
	return nil
}

func (r *repository) IssueTicket(ctx context.Context, id uuid.UUID, number string) error {
	result := r.conn(ctx).
		Model(&Reservation{}).
		Where("id = ? AND ticket_number IS NULL", id).
		Update("ticket_number", number)
	if result.Error != nil {
		return classify("issue ticket", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("issue ticket: %w: reservation %s already has a ticket", ErrConflict, id)
	}
	return nil
}

func (r *repository) ListByEvent(ctx context.Context, eventID uuid.UUID, query ListQuery) ([]Reservation, int64, error) {
	return r.list(ctx, "event_id = ?", eventID, query)
}

func (r *repository) ListByRequester(ctx context.Context, requesterID uuid.UUID, query ListQuery) ([]Reservation, int64, error) {
	return r.list(ctx, "requester_id = ?", requesterID, query)
}

func (r *repository) list(ctx context.Context, where string, id uuid.UUID, query ListQuery) ([]Reservation, int64, error) {
	q := r.conn(ctx).Model(&Reservation{}).Where(where, id)
	if query.Status != "" {
		q = q.Where("status = ?", query.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify("count reservations", err)
	}

	var items []Reservation
	err := q.Order("created_at DESC").
		Offset(query.offset()).
		Limit(query.Limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, classify("list reservations", err)
	}
	return items, total, nil
}

func (r *repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Reservation, error) {
	var items []Reservation
	err := r.conn(ctx).
		Where("status = ? AND created_at < ?", StatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, classify("list stale pending", err)
	}
	return items, nil
}

// classify maps driver errors onto the ledger's error taxonomy. Errors that
// already carry a ledger sentinel pass through unchanged. Anything that is
// not a known transient contention error means the store could not do the
// work and nothing was committed.
func classify(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isTransientCode(pgErr.Code) {
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func isTransientCode(code string) bool {
	switch code {
	case "55P03", // lock_not_available
		"40001", // serialization_failure
		"40P01", // deadlock_detected
		"23505": // unique_violation, a concurrent idempotent replay
		return true
	}
	return false
}
