package reservations

import "fmt"

// Policy selects which admission rules the ledger enforces. A process runs
// under exactly one policy.
type Policy string

const (
	// PolicyMultiSeat admits any positive seat count, starts reservations
	// pending and allows several active reservations per requester.
	PolicyMultiSeat Policy = "multi_seat"

	// PolicySingleSeat admits one seat per request, confirms immediately and
	// allows at most one active reservation per requester and event.
	PolicySingleSeat Policy = "single_seat"
)

func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(raw); p {
	case PolicyMultiSeat, PolicySingleSeat:
		return p, nil
	case "":
		return PolicyMultiSeat, nil
	default:
		return "", fmt.Errorf("unknown reservation policy %q", raw)
	}
}

// InitialStatus is the status a newly admitted reservation is stored with.
func (p Policy) InitialStatus() Status {
	if p == PolicySingleSeat {
		return StatusConfirmed
	}
	return StatusPending
}

// EnforcesSingleActive reports whether a requester may hold only one
// active reservation per event.
func (p Policy) EnforcesSingleActive() bool {
	return p == PolicySingleSeat
}

// seatCount resolves the requested count; zero means "not specified".
func (p Policy) seatCount(requested int) (int, error) {
	if requested == 0 {
		return 1, nil
	}
	if requested < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSeatCount, requested)
	}
	if p == PolicySingleSeat && requested != 1 {
		return 0, fmt.Errorf("%w: single seat policy admits exactly one seat, got %d", ErrInvalidSeatCount, requested)
	}
	return requested, nil
}
