package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"eventrsvp/internal/events"
	"eventrsvp/internal/reservations"
	"eventrsvp/internal/shared/config"
	"eventrsvp/internal/shared/constants"
	"eventrsvp/internal/shared/database"
	"eventrsvp/internal/shared/middleware"
	"eventrsvp/internal/users"
	"eventrsvp/pkg/cache"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Seeder struct {
	db  *database.DB
	cfg *config.Config
}

type seededUser struct {
	id    uuid.UUID
	email string
	role  users.Role
}

func main() {
	fmt.Println("🌱 Starting RSVP ledger seeder...")

	cfg := config.Load()

	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	seeder := &Seeder{db: db, cfg: cfg}

	fmt.Println("\n🧹 Cleaning database...")
	if err := seeder.CleanDatabase(); err != nil {
		log.Fatalf("Failed to clean database: %v", err)
	}

	fmt.Println("\n🌱 Seeding database...")
	if err := seeder.SeedAll(context.Background()); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}

	fmt.Println("\n🎉 Seeding completed! Database is ready for testing.")
}

// CleanDatabase truncates every ledger table.
func (s *Seeder) CleanDatabase() error {
	tables := []string{
		"reservation_activities",
		"reservations",
		"events",
		"users",
	}

	return s.db.PostgreSQL.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			fmt.Printf("  Truncating table: %s\n", table)
			if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)).Error; err != nil {
				return fmt.Errorf("failed to truncate table %s: %w", table, err)
			}
		}
		return nil
	})
}

// SeedAll seeds users, events and a few reservations, then prints access
// tokens for manual testing.
func (s *Seeder) SeedAll(ctx context.Context) error {
	seeded, err := s.SeedUsers()
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	eventIDs, err := s.SeedEvents(ctx, seeded[0].id)
	if err != nil {
		return fmt.Errorf("failed to seed events: %w", err)
	}

	if err := s.SeedReservations(ctx, eventIDs, seeded[1:]); err != nil {
		return fmt.Errorf("failed to seed reservations: %w", err)
	}

	if s.db.Redis != nil {
		if err := cache.NewService(s.db.Redis).DeletePattern(ctx, constants.PATTERN_INVALIDATE_AVAILABILITY_ALL); err != nil {
			log.Printf("Warning: failed to clear availability cache: %v", err)
		}
	}

	return s.PrintTokens(seeded)
}

// SeedUsers creates one admin and two regular users, all with password "qwerty".
func (s *Seeder) SeedUsers() ([]seededUser, error) {
	fmt.Println("  👤 Seeding users...")

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("qwerty"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	usersData := []struct {
		firstName string
		lastName  string
		email     string
		role      users.Role
	}{
		{"Admin", "User", "admin@rsvp.local", users.RoleAdmin},
		{"Ada", "Lovelace", "ada@rsvp.local", users.RoleUser},
		{"Alan", "Turing", "alan@rsvp.local", users.RoleUser},
	}

	var out []seededUser
	for _, userData := range usersData {
		user := users.User{
			ID:        uuid.New(),
			FirstName: userData.firstName,
			LastName:  userData.lastName,
			Email:     userData.email,
			Password:  string(hashedPassword),
			Role:      userData.role,
		}
		if err := s.db.PostgreSQL.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to create user %s: %w", userData.email, err)
		}
		out = append(out, seededUser{id: user.ID, email: user.Email, role: user.Role})
		fmt.Printf("    ✅ Created user: %s (%s)\n", user.Email, user.Role)
	}
	return out, nil
}

// SeedEvents creates events of varying capacity, including a one-seat event
// for exercising the last-seat race.
func (s *Seeder) SeedEvents(ctx context.Context, adminID uuid.UUID) ([]uuid.UUID, error) {
	fmt.Println("  🎫 Seeding events...")

	repo := events.NewRepository(s.db.PostgreSQL)
	now := time.Now()
	eventsData := []events.Event{
		{Name: "Go Meetup: Concurrency Patterns", Venue: "Community Hall", Capacity: 50, StartsAt: now.AddDate(0, 0, 7)},
		{Name: "Intimate Jazz Night", Venue: "Blue Room", Capacity: 3, StartsAt: now.AddDate(0, 0, 14)},
		{Name: "Last Seat Standing", Venue: "Phone Booth", Capacity: 1, StartsAt: now.AddDate(0, 1, 0)},
		{Name: "Open Air Cinema", Venue: "City Park", Capacity: 500, StartsAt: now.AddDate(0, 2, 0)},
	}

	var ids []uuid.UUID
	for i := range eventsData {
		ev := &eventsData[i]
		ev.CreatedBy = adminID
		ev.Description = fmt.Sprintf("%s at %s", ev.Name, ev.Venue)
		if err := repo.Create(ctx, ev); err != nil {
			return nil, fmt.Errorf("failed to create event %q: %w", ev.Name, err)
		}
		ids = append(ids, ev.ID)
		fmt.Printf("    ✅ Created event: %s (capacity %d) %s\n", ev.Name, ev.Capacity, ev.ID)
	}
	return ids, nil
}

// SeedReservations admits sample reservations through the ledger so every
// seeded row passed the same capacity checks as live traffic.
func (s *Seeder) SeedReservations(ctx context.Context, eventIDs []uuid.UUID, requesters []seededUser) error {
	fmt.Println("  🪑 Seeding reservations...")

	svcConfig, err := reservations.NewServiceConfig(s.cfg)
	if err != nil {
		return err
	}
	svc := reservations.NewService(
		reservations.NewRepository(s.db.PostgreSQL, s.cfg.Reservation.LockTimeout),
		svcConfig, nil, nil,
	)

	seats := 2
	if svcConfig.Policy == reservations.PolicySingleSeat {
		seats = 1
	}

	for _, eventID := range eventIDs[:2] {
		for _, requester := range requesters {
			res, err := svc.Reserve(ctx, reservations.ReserveInput{
				RequesterID: requester.id,
				EventID:     eventID,
				SeatCount:   seats,
			})
			if err != nil {
				fmt.Printf("    ⚠️  %s on %s: %v\n", requester.email, eventID, err)
				continue
			}
			fmt.Printf("    ✅ %s holds %d seat(s) on %s (%s)\n", requester.email, res.Reservation.SeatCount, eventID, res.Reservation.Status)
		}
	}
	return nil
}

func (s *Seeder) PrintTokens(seeded []seededUser) error {
	fmt.Println("\n🔑 Access tokens (valid for 24h):")
	for _, u := range seeded {
		token, err := middleware.NewAccessToken(s.cfg.JWT.Secret, u.id, u.email, u.role, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to sign token for %s: %w", u.email, err)
		}
		fmt.Printf("  %s (%s):\n    %s\n", u.email, u.role, token)
	}
	return nil
}
