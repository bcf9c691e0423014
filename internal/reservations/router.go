package reservations

import (
	"eventrsvp/internal/shared/middleware"
	"eventrsvp/internal/users"

	"github.com/gin-gonic/gin"
)

// SetupReservationRoutes configures all reservation routes. auth must place
// the caller's identity in the context (see middleware.JWTAuthWithConfig).
func SetupReservationRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {
	authenticated := []gin.HandlerFunc{auth, middleware.RequireRoles(users.RoleUser, users.RoleAdmin)}

	// Public read of the seat pool
	rg.GET("/events/:id/availability", controller.GetAvailability) // GET /api/v1/events/:id/availability

	events := rg.Group("/events/:id")
	events.Use(authenticated...)
	{
		events.POST("/reservations", controller.CreateReservation)                               // POST /api/v1/events/:id/reservations
		events.GET("/reservations", middleware.RequireAdmin(), controller.ListEventReservations) // GET  /api/v1/events/:id/reservations
	}

	reservations := rg.Group("/reservations")
	reservations.Use(authenticated...)
	{
		reservations.GET("/:id", controller.GetReservation)              // GET  /api/v1/reservations/:id
		reservations.POST("/:id/confirm", controller.ConfirmReservation) // POST /api/v1/reservations/:id/confirm
		reservations.POST("/:id/cancel", controller.CancelReservation)   // POST /api/v1/reservations/:id/cancel
	}

	account := rg.Group("/users")
	account.Use(authenticated...)
	{
		account.GET("/reservations", controller.GetUserReservations) // GET /api/v1/users/reservations
	}
}

// Route definitions for reference:
//
// POST   /api/v1/events/:id/reservations     - Reserve seats; body { "seat_count": 2 }, optional Idempotency-Key header
// GET    /api/v1/events/:id/availability     - Capacity, reserved and available seats
// GET    /api/v1/events/:id/reservations     - Admin listing, ?page=&limit=&status=
// GET    /api/v1/reservations/:id            - Owner or admin
// POST   /api/v1/reservations/:id/confirm    - pending -> confirmed
// POST   /api/v1/reservations/:id/cancel     - pending|confirmed -> cancelled, idempotent
// GET    /api/v1/users/reservations          - Caller's reservations
