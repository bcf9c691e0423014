// api/routes/router.go
package routes

import (
	"net/http"
	"time"

	"eventrsvp/internal/reservations"
	"eventrsvp/internal/shared/config"
	"eventrsvp/internal/shared/database"
	"eventrsvp/internal/shared/middleware"
	"eventrsvp/pkg/cache"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Router holds all route dependencies
type Router struct {
	config            *config.Config
	db                *database.DB
	reservationConfig reservations.ServiceConfig
	notifier          reservations.Notifier

	reservationService reservations.Service
}

// NewRouter creates a new router instance. notifier may be nil.
func NewRouter(cfg *config.Config, db *database.DB, reservationConfig reservations.ServiceConfig, notifier reservations.Notifier) *Router {
	return &Router{
		config:            cfg,
		db:                db,
		reservationConfig: reservationConfig,
		notifier:          notifier,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	r.setupHealthRoutes(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := engine.Group(r.config.GetAPIBasePath())
	{
		r.setupReservationRoutes(api)
	}
}

// ReservationService is available once SetupRoutes has run.
func (r *Router) ReservationService() reservations.Service {
	return r.reservationService
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		if err := r.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"timestamp": time.Now(),
				"service":   "rsvp-ledger",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "rsvp-ledger",
			"cache":     r.db.GetRedis() != nil,
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":             "operational",
			"api_version":        r.config.APIVersion,
			"reservation_policy": r.reservationConfig.Policy,
			"timestamp":          time.Now(),
		})
	})
}

// setupReservationRoutes wires the reservation ledger
func (r *Router) setupReservationRoutes(rg *gin.RouterGroup) {
	var availabilityCache cache.Service
	if rdb := r.db.GetRedis(); rdb != nil {
		availabilityCache = cache.NewService(rdb)
	}

	reservationRepo := reservations.NewRepository(r.db.GetPostgreSQL(), r.config.Reservation.LockTimeout)
	r.reservationService = reservations.NewService(reservationRepo, r.reservationConfig, r.notifier, availabilityCache)
	reservationController := reservations.NewController(r.reservationService)

	reservations.SetupReservationRoutes(rg, reservationController, middleware.JWTAuthWithConfig(r.config))
}
