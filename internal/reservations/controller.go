package reservations

import (
	"errors"
	"io"
	"net/http"

	"eventrsvp/internal/shared/middleware"
	"eventrsvp/internal/shared/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

// CreateReservation godoc
// @Summary      Reserve seats for an event
// @Description  Admits the request only if the event still has enough seats. Send an Idempotency-Key header to make retries safe.
// @Tags         reservations
// @Accept       json
// @Produce      json
// @Param        id               path    string                    true   "Event ID"
// @Param        Idempotency-Key  header  string                    false  "Client supplied idempotency key"
// @Param        request          body    CreateReservationRequest  true   "Reservation request"
// @Success      201  {object}  response.StandardApiResponse{data=ReservationResponse}
// @Success      200  {object}  response.StandardApiResponse{data=ReservationResponse}
// @Failure      400  {object}  response.StandardApiResponse
// @Failure      404  {object}  response.StandardApiResponse
// @Failure      409  {object}  response.StandardApiResponse
// @Failure      503  {object}  response.StandardApiResponse
// @Security     BearerAuth
// @Router       /events/{id}/reservations [post]
func (c *Controller) CreateReservation(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	eventID, ok := parseUUIDParam(ctx, "id", "Invalid event ID")
	if !ok {
		return
	}

	// Every body field is optional, so an empty body reserves one seat.
	var req CreateReservationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.RespondError(ctx, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		return
	}

	input := ReserveInput{
		RequesterID:         userID,
		EventID:             eventID,
		IdempotencyKey:      ctx.GetHeader(IdempotencyKeyHeader),
		SpecialRequirements: req.SpecialRequirements,
	}
	if req.SeatCount != nil {
		input.SeatCount = *req.SeatCount
	}

	result, err := c.service.Reserve(ctx.Request.Context(), input)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}

	if !result.Created {
		response.RespondSuccess(ctx, http.StatusOK, "Reservation already exists for this idempotency key", result.Reservation.ToResponse())
		return
	}
	response.RespondSuccess(ctx, http.StatusCreated, "Reservation created successfully", result.Reservation.ToResponse())
}

// GetAvailability godoc
// @Summary      Seat availability for an event
// @Tags         reservations
// @Produce      json
// @Param        id   path  string  true  "Event ID"
// @Success      200  {object}  response.StandardApiResponse{data=Availability}
// @Failure      404  {object}  response.StandardApiResponse
// @Router       /events/{id}/availability [get]
func (c *Controller) GetAvailability(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "id", "Invalid event ID")
	if !ok {
		return
	}

	availability, err := c.service.GetAvailability(ctx.Request.Context(), eventID)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	response.RespondSuccess(ctx, http.StatusOK, "Availability retrieved successfully", availability)
}

// ListEventReservations godoc
// @Summary      List an event's reservations (admin)
// @Tags         reservations
// @Produce      json
// @Param        id      path   string  true   "Event ID"
// @Param        page    query  int     false  "Page"
// @Param        limit   query  int     false  "Page size"
// @Param        status  query  string  false  "pending, confirmed or cancelled"
// @Success      200  {object}  response.StandardApiResponse{data=ReservationListResponse}
// @Security     BearerAuth
// @Router       /events/{id}/reservations [get]
func (c *Controller) ListEventReservations(ctx *gin.Context) {
	eventID, ok := parseUUIDParam(ctx, "id", "Invalid event ID")
	if !ok {
		return
	}
	query, ok := bindListQuery(ctx)
	if !ok {
		return
	}

	page, err := c.service.ListEventReservations(ctx.Request.Context(), eventID, query)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	response.RespondSuccess(ctx, http.StatusOK, "Reservations retrieved successfully", page.ToResponse())
}

// GetReservation godoc
// @Summary      Get a reservation
// @Tags         reservations
// @Produce      json
// @Param        id   path  string  true  "Reservation ID"
// @Success      200  {object}  response.StandardApiResponse{data=ReservationResponse}
// @Failure      403  {object}  response.StandardApiResponse
// @Failure      404  {object}  response.StandardApiResponse
// @Security     BearerAuth
// @Router       /reservations/{id} [get]
func (c *Controller) GetReservation(ctx *gin.Context) {
	reservation, ok := c.loadOwned(ctx)
	if !ok {
		return
	}
	response.RespondSuccess(ctx, http.StatusOK, "Reservation retrieved successfully", reservation.ToResponse())
}

// ConfirmReservation godoc
// @Summary      Confirm a pending reservation
// @Tags         reservations
// @Produce      json
// @Param        id   path  string  true  "Reservation ID"
// @Success      200  {object}  response.StandardApiResponse{data=ReservationResponse}
// @Failure      409  {object}  response.StandardApiResponse
// @Security     BearerAuth
// @Router       /reservations/{id}/confirm [post]
func (c *Controller) ConfirmReservation(ctx *gin.Context) {
	reservation, ok := c.loadOwned(ctx)
	if !ok {
		return
	}

	confirmed, err := c.service.Confirm(ctx.Request.Context(), reservation.ID)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	response.RespondSuccess(ctx, http.StatusOK, "Reservation confirmed", confirmed.ToResponse())
}

// CancelReservation godoc
// @Summary      Cancel a reservation
// @Description  Returns the reservation's seats to the pool. Cancelling an already cancelled reservation succeeds.
// @Tags         reservations
// @Produce      json
// @Param        id   path  string  true  "Reservation ID"
// @Success      200  {object}  response.StandardApiResponse{data=ReservationResponse}
// @Security     BearerAuth
// @Router       /reservations/{id}/cancel [post]
func (c *Controller) CancelReservation(ctx *gin.Context) {
	reservation, ok := c.loadOwned(ctx)
	if !ok {
		return
	}

	cancelled, err := c.service.Cancel(ctx.Request.Context(), reservation.ID)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	response.RespondSuccess(ctx, http.StatusOK, "Reservation cancelled", cancelled.ToResponse())
}

// GetUserReservations godoc
// @Summary      List the caller's reservations
// @Tags         reservations
// @Produce      json
// @Param        page    query  int     false  "Page"
// @Param        limit   query  int     false  "Page size"
// @Param        status  query  string  false  "pending, confirmed or cancelled"
// @Success      200  {object}  response.StandardApiResponse{data=ReservationListResponse}
// @Security     BearerAuth
// @Router       /users/reservations [get]
func (c *Controller) GetUserReservations(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	query, ok := bindListQuery(ctx)
	if !ok {
		return
	}

	page, err := c.service.ListRequesterReservations(ctx.Request.Context(), userID, query)
	if err != nil {
		respondServiceError(ctx, err)
		return
	}
	response.RespondSuccess(ctx, http.StatusOK, "Reservations retrieved successfully", page.ToResponse())
}

// loadOwned fetches the reservation named in the path and checks the caller
// owns it or is an admin.
func (c *Controller) loadOwned(ctx *gin.Context) (*Reservation, bool) {
	userID, ok := requireUser(ctx)
	if !ok {
		return nil, false
	}
	reservationID, ok := parseUUIDParam(ctx, "id", "Invalid reservation ID")
	if !ok {
		return nil, false
	}

	reservation, err := c.service.GetReservation(ctx.Request.Context(), reservationID)
	if err != nil {
		respondServiceError(ctx, err)
		return nil, false
	}
	if reservation.RequesterID != userID && !middleware.IsAdmin(ctx) {
		response.RespondError(ctx, http.StatusForbidden, "Access denied", "FORBIDDEN", "")
		return nil, false
	}
	return reservation, true
}

func requireUser(ctx *gin.Context) (uuid.UUID, bool) {
	userID, err := middleware.GetUserID(ctx)
	if err != nil {
		response.RespondError(ctx, http.StatusUnauthorized, "User not authenticated", "UNAUTHENTICATED", "")
		return uuid.Nil, false
	}
	return userID, true
}

func parseUUIDParam(ctx *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param(name))
	if err != nil {
		response.RespondError(ctx, http.StatusBadRequest, message, "INVALID_ID", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func bindListQuery(ctx *gin.Context) (ListQuery, bool) {
	var query ListQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		response.RespondError(ctx, http.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
		return query, false
	}
	return query, true
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{ErrEventNotFound, http.StatusNotFound, "EVENT_NOT_FOUND", "Event not found"},
	{ErrReservationNotFound, http.StatusNotFound, "RESERVATION_NOT_FOUND", "Reservation not found"},
	{ErrInvalidSeatCount, http.StatusBadRequest, "INVALID_SEAT_COUNT", "Invalid seat count"},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_REQUEST", "Invalid reservation request"},
	{ErrDuplicateReservation, http.StatusConflict, "DUPLICATE_RESERVATION", "You already hold a reservation for this event"},
	{ErrCapacityExceeded, http.StatusConflict, "CAPACITY_EXCEEDED", "Not enough seats remaining"},
	{ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION", "Reservation cannot move to that status"},
	{ErrIdempotencyMismatch, http.StatusConflict, "IDEMPOTENCY_MISMATCH", "Idempotency key was used for a different request"},
	{ErrConflict, http.StatusConflict, "CONFLICT", "The event is busy, please retry"},
	{ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Reservations are temporarily unavailable"},
}

func respondServiceError(ctx *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.target == ErrConflict || m.target == ErrStoreUnavailable {
				ctx.Header("Retry-After", "1")
			}
			response.RespondError(ctx, m.status, m.message, m.code, err.Error())
			return
		}
	}
	_ = ctx.Error(err)
	response.RespondError(ctx, http.StatusInternalServerError, "Internal server error", "INTERNAL", "")
}
