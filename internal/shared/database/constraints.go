package database

import (
	"fmt"

	"gorm.io/gorm"
)

var constraintStatements = []string{
	// Idempotent replays of a reserve request resolve to one row.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_idempotency
		ON reservations (event_id, requester_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL`,

	// Capacity aggregate reads scan only the event's active rows.
	`CREATE INDEX IF NOT EXISTS idx_reservations_event_active
		ON reservations (event_id, status)
		WHERE status <> 'cancelled'`,

	`CREATE INDEX IF NOT EXISTS idx_reservations_pending_created
		ON reservations (created_at)
		WHERE status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS idx_reservations_requester_event
		ON reservations (requester_id, event_id)`,
}

// MigrateConstraints adds the partial indexes AutoMigrate cannot express.
func MigrateConstraints(db *gorm.DB) error {
	for _, stmt := range constraintStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply constraint: %w", err)
		}
	}
	return nil
}
