package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/silvershield/silvershield-backend/internal/config"
	"github.com/silvershield/silvershield-backend/internal/handlers"
	"github.com/silvershield/silvershield-backend/internal/middleware"
	"github.com/silvershield/silvershield-backend/pkg/mongodb"
)

// HandlerDependencies holds the handlers the router wires up
type HandlerDependencies struct {
	DonationHandler *handlers.DonationHandler
	RealtimeHandler *handlers.RealtimeHandler
}

// SetupRouter sets up the router
func SetupRouter(cfg *config.Config, mongoClient *mongodb.Client, deps HandlerDependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(middleware.CORSMiddleware(cfg))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			status := gin.H{
				"status":    "ok",
				"service":   "silver-shield-api",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"db":        "connected",
			}
			if err := mongoClient.Ping(c.Request.Context()); err != nil {
				status["status"] = "degraded"
				status["db"] = "disconnected"
				c.JSON(http.StatusServiceUnavailable, status)
				return
			}
			c.JSON(http.StatusOK, status)
		})

		donations := api.Group("/donations")
		{
			donations.POST("/initiate", deps.DonationHandler.Initiate)
			donations.POST("/paypal/confirm", deps.DonationHandler.ConfirmPaypal)
			donations.POST("/mpesa/callback", deps.DonationHandler.MpesaCallback)
			donations.GET("/mpesa/details", deps.DonationHandler.GetMpesaDetails)
			donations.GET("/:id/status", deps.DonationHandler.GetStatus)

			// Admin console: donation listing and CSV export
			donations.GET("", middleware.JWTAuthMiddleware(cfg), middleware.AdminOnlyMiddleware(), deps.DonationHandler.GetAllDonations)
		}

		realtime := api.Group("/realtime")
		{
			realtime.GET("/donations/:id", deps.RealtimeHandler.StreamDonation)
			realtime.GET("/admin", middleware.JWTAuthMiddleware(cfg), middleware.AdminOnlyMiddleware(), deps.RealtimeHandler.StreamAdmin)
		}
	}

	return router
}
