package database

import (
	"fmt"

	"eventrsvp/internal/events"
	"eventrsvp/internal/notifications"
	"eventrsvp/internal/reservations"
	"eventrsvp/internal/users"

	"gorm.io/gorm"
)

// Migrate creates or updates the schema. Safe to run on every start.
func Migrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("create uuid-ossp extension: %w", err)
	}

	if err := db.AutoMigrate(
		&users.User{},
		&events.Event{},
		&reservations.Reservation{},
		&notifications.ReservationActivity{},
	); err != nil {
		return err
	}

	return MigrateConstraints(db)
}
