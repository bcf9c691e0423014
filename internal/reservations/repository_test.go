package reservations_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"eventrsvp/internal/events"
	"eventrsvp/internal/reservations"
	"eventrsvp/internal/shared/database"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// openTestDB connects to TEST_DATABASE_URL and migrates the schema. Tests
// that need it are skipped when the variable is unset.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping PostgreSQL integration test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createEvent(t *testing.T, db *gorm.DB, capacity int) *events.Event {
	t.Helper()
	ev := &events.Event{
		Name:      "Integration " + uuid.NewString()[:8],
		Venue:     "Test hall",
		StartsAt:  time.Now().Add(48 * time.Hour),
		Capacity:  capacity,
		CreatedBy: uuid.New(),
	}
	if err := events.NewRepository(db).Create(context.Background(), ev); err != nil {
		t.Fatalf("create event: %v", err)
	}
	t.Cleanup(func() {
		db.Where("event_id = ?", ev.ID).Delete(&reservations.Reservation{})
		db.Delete(ev)
	})
	return ev
}

func TestPostgresConcurrentReservationsRespectCapacity(t *testing.T) {
	db := openTestDB(t)
	ev := createEvent(t, db, 5)
	repo := reservations.NewRepository(db, 2*time.Second)
	svc := reservations.NewService(repo, reservations.DefaultServiceConfig(), nil, nil)

	const requests = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		start    = make(chan struct{})
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Reserve(context.Background(), reservations.ReserveInput{
				RequesterID: uuid.New(),
				EventID:     ev.ID,
				SeatCount:   1,
			})
			switch {
			case err == nil:
				mu.Lock()
				admitted++
				mu.Unlock()
			case errors.Is(err, reservations.ErrCapacityExceeded), errors.Is(err, reservations.ErrConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	reserved, err := repo.SumActiveSeats(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("SumActiveSeats: %v", err)
	}
	if reserved > ev.Capacity {
		t.Fatalf("overcommitted: %d seats for capacity %d", reserved, ev.Capacity)
	}
	if reserved != admitted {
		t.Errorf("reserved %d != admitted %d", reserved, admitted)
	}

	stored, err := events.NewRepository(db).GetByID(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Capacity != ev.Capacity {
		t.Errorf("capacity changed to %d", stored.Capacity)
	}
}

func TestPostgresIdempotentReplayAndCancel(t *testing.T) {
	db := openTestDB(t)
	ev := createEvent(t, db, 3)
	repo := reservations.NewRepository(db, time.Second)
	svc := reservations.NewService(repo, reservations.DefaultServiceConfig(), nil, nil)
	ctx := context.Background()

	input := reservations.ReserveInput{RequesterID: uuid.New(), EventID: ev.ID, SeatCount: 2, IdempotencyKey: uuid.NewString()}
	first, err := svc.Reserve(ctx, input)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	replay, err := svc.Reserve(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Created || replay.Reservation.ID != first.Reservation.ID {
		t.Errorf("replay created=%v id=%s, want existing %s", replay.Created, replay.Reservation.ID, first.Reservation.ID)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Cancel(ctx, first.Reservation.ID); err != nil {
			t.Fatalf("Cancel #%d: %v", i+1, err)
		}
	}
	availability, err := svc.GetAvailability(ctx, ev.ID)
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}
	if availability.AvailableSeats != 3 {
		t.Errorf("available = %d, want 3", availability.AvailableSeats)
	}
}

func TestPostgresStatusGuard(t *testing.T) {
	db := openTestDB(t)
	ev := createEvent(t, db, 3)
	repo := reservations.NewRepository(db, time.Second)
	svc := reservations.NewService(repo, reservations.DefaultServiceConfig(), nil, nil)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, reservations.ReserveInput{RequesterID: uuid.New(), EventID: ev.ID, SeatCount: 1})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	err = repo.UpdateStatus(ctx, res.Reservation.ID, reservations.StatusConfirmed, reservations.StatusCancelled, time.Now())
	if !errors.Is(err, reservations.ErrConflict) {
		t.Errorf("stale from-status: got %v, want ErrConflict", err)
	}

	confirmed, err := svc.Confirm(ctx, res.Reservation.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.TicketNumber == nil {
		t.Fatal("confirmed reservation has no ticket")
	}
	stored, err := repo.GetByID(ctx, res.Reservation.ID)
	if err != nil || stored.TicketNumber == nil || *stored.TicketNumber != *confirmed.TicketNumber {
		t.Errorf("stored ticket = %v (%v), want %s", stored, err, *confirmed.TicketNumber)
	}
	if err := repo.IssueTicket(ctx, res.Reservation.ID, "TKT-SECOND"); !errors.Is(err, reservations.ErrConflict) {
		t.Errorf("second ticket: got %v, want ErrConflict", err)
	}

	if _, err := repo.LockEvent(ctx, uuid.New()); !errors.Is(err, reservations.ErrEventNotFound) {
		t.Errorf("LockEvent unknown: got %v", err)
	}
}
