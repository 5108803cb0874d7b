package routes

import (
	"stockstream/controllers"
	"stockstream/middleware"
	"stockstream/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Engine bundles the running engine components the API surfaces.
type Engine struct {
	Store        *services.MarketStore
	Broadcaster  *services.Broadcaster
	AlertEngine  *services.AlertEngine
	Ingest       *services.IngestScheduler
	StreamServer *services.StreamServer
}

// SetupRoutes sets up all API routes. db may be nil when the service runs in
// limited mode; auth routes are only registered with a database.
func SetupRoutes(router *gin.Engine, db *gorm.DB, engine *Engine) {
	marketController := controllers.NewMarketController(engine.Store, engine.Broadcaster, engine.Ingest)
	alertController := controllers.NewAlertController(engine.AlertEngine, engine.Store)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Market routes (public, stale-tolerant reads)
		market := api.Group("/market")
		{
			market.GET("/state", marketController.GetCurrentState)
			market.GET("/state/:symbol", marketController.GetSymbolState)
			market.GET("/history/:symbol", marketController.GetHistory)
			market.GET("/predictions", marketController.GetPredictions)
			market.GET("/status", marketController.GetStreamStatus)
		}

		// Alert routes (authenticated)
		alerts := api.Group("/alerts")
		alerts.Use(middleware.JWTAuthMiddleware())
		{
			alerts.POST("", alertController.CreateAlert)
			alerts.GET("", alertController.ListAlerts)
			alerts.DELETE("/:symbol", alertController.RemoveAlert)
		}

		// Auth routes
		if db != nil {
			authController := controllers.NewAuthController(db)
			auth := api.Group("/auth")
			{
				auth.POST("/login", authController.Login)
			}
		}
	}

	// Stream subscription endpoint
	router.GET("/ws", func(c *gin.Context) {
		engine.StreamServer.HandleWebSocket(c.Writer, c.Request)
	})
}
