package constants

import (
	"fmt"
	"time"
)

// Redis cache keys and TTLs.
// Pattern: rsvp:{module}:{operation}:{identifier}

// Highly dynamic data: availability changes with every reservation.
const (
	TTL_REALTIME_MEDIUM = 1 * time.Minute
	TTL_REALTIME_SHORT  = 15 * time.Second
)

const (
	CACHE_PREFIX = "rsvp"
)

// ================== RESERVATIONS MODULE ==================

const (
	CACHE_KEY_EVENT_AVAILABILITY = CACHE_PREFIX + ":reservations:availability:event:" // + event-id
	CACHE_KEY_RATELIMIT          = CACHE_PREFIX + ":ratelimit:"                       // + ip:type
)

const (
	// Availability is only a display value; admission never reads it.
	TTL_EVENT_AVAILABILITY = TTL_REALTIME_SHORT
)

const (
	PATTERN_INVALIDATE_AVAILABILITY_ALL = CACHE_PREFIX + ":reservations:availability:*"
)

func BuildAvailabilityKey(eventID string) string {
	return CACHE_KEY_EVENT_AVAILABILITY + eventID
}

func BuildRateLimitKey(clientIP, limitType string) string {
	return fmt.Sprintf("%s%s:%s", CACHE_KEY_RATELIMIT, clientIP, limitType)
}
