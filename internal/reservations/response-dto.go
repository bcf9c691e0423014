package reservations

import "time"

type ReservationResponse struct {
	ID                  string     `json:"id"`
	EventID             string     `json:"event_id"`
	RequesterID         string     `json:"requester_id"`
	SeatCount           int        `json:"seat_count"`
	Status              Status     `json:"status"`
	TicketNumber        string     `json:"ticket_number,omitempty"`
	SpecialRequirements string     `json:"special_requirements,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ConfirmedAt         *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
}

type ReservationListResponse struct {
	Reservations []ReservationResponse `json:"reservations"`
	TotalCount   int64                 `json:"total_count"`
	Page         int                   `json:"page"`
	Limit        int                   `json:"limit"`
	TotalPages   int                   `json:"total_pages"`
}

func (r *Reservation) ToResponse() ReservationResponse {
	var ticket string
	if r.TicketNumber != nil {
		ticket = *r.TicketNumber
	}
	return ReservationResponse{
		ID:                  r.ID.String(),
		EventID:             r.EventID.String(),
		RequesterID:         r.RequesterID.String(),
		SeatCount:           r.SeatCount,
		Status:              r.Status,
		TicketNumber:        ticket,
		SpecialRequirements: r.SpecialRequirements,
		CreatedAt:           r.CreatedAt,
		ConfirmedAt:         r.ConfirmedAt,
		CancelledAt:         r.CancelledAt,
	}
}

func (p *ReservationPage) ToResponse() ReservationListResponse {
	items := make([]ReservationResponse, 0, len(p.Reservations))
	for i := range p.Reservations {
		items = append(items, p.Reservations[i].ToResponse())
	}
	return ReservationListResponse{
		Reservations: items,
		TotalCount:   p.TotalCount,
		Page:         p.Page,
		Limit:        p.Limit,
		TotalPages:   p.TotalPages,
	}
}
