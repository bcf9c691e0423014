package reservations

import "errors"

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrReservationNotFound = errors.New("reservation not found")

	ErrDuplicateReservation = errors.New("requester already holds an active reservation for this event")
	ErrCapacityExceeded     = errors.New("not enough seats remaining")

	// ErrConflict is transient: a lock wait timed out, the transaction was
	// chosen as a deadlock victim or lost a serialization race. Safe to retry.
	ErrConflict = errors.New("concurrent reservation conflict")

	// ErrStoreUnavailable means the store could not be reached or did not
	// answer in time. Nothing was written.
	ErrStoreUnavailable = errors.New("reservation store unavailable")

	ErrInvalidSeatCount    = errors.New("invalid seat count")
	ErrInvalidInput        = errors.New("invalid reservation request")
	ErrInvalidTransition   = errors.New("invalid reservation status transition")
	ErrIdempotencyMismatch = errors.New("idempotency key was already used for a different request")
)

// IsRetriable reports whether the operation may succeed if repeated as is.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrConflict)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrEventNotFound, ErrReservationNotFound, ErrDuplicateReservation,
		ErrCapacityExceeded, ErrConflict, ErrStoreUnavailable,
		ErrInvalidSeatCount, ErrInvalidInput, ErrInvalidTransition,
		ErrIdempotencyMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
