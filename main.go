package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stockstream/config"
	"stockstream/models"
	"stockstream/routes"
	"stockstream/scheduler"
	"stockstream/services"

	"github.com/gin-gonic/gin"
)

// engineReady tracks whether the streaming engine has been initialized.
// Guarded for thread-safe access so the /ready endpoint can check it.
var engineReady bool
var readyMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  StockStream Backend - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so orchestrators can detect the
	// service is up; the engine initializes in background
	setupHealthEndpoints(router)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server immediately
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database, engine, and routes in background. The shutdown
	// closure reads these under readyMutex; the init goroutine publishes
	// them under the same lock once the engine is up.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	var ingest *services.IngestScheduler
	var predictions *services.PredictionScheduler
	var jobScheduler *scheduler.Scheduler
	var broadcaster *services.Broadcaster

	go func() {
		// Database is optional: without it the engine still streams, but
		// alerts and users are not persisted
		db, err := config.InitDB()
		if err != nil {
			log.Printf("WARNING: Database unavailable, running without persistence: %v", err)
			db = nil
		} else {
			log.Println("Running database migrations...")
			if err := runMigrations(); err != nil {
				log.Printf("ERROR: Migration failed: %v", err)
			} else {
				log.Println("Database migrations completed successfully")
			}
			if err := models.SeedDefaultUser(db); err != nil {
				log.Printf("Warning: Could not seed default user: %v", err)
			}
		}

		// Local tick archive
		if err := services.InitArchive(cfg.ArchivePath); err != nil {
			log.Printf("Warning: Failed to initialize archive: %v", err)
		}

		// Optional MongoDB snapshot mirror
		if err := services.InitMongoSnapshot(cfg.MongoURI); err != nil {
			log.Printf("MongoDB not configured or failed to connect: %v", err)
		}

		// Build the streaming engine
		store := services.NewMarketStore(cfg.Symbols, cfg.HistoryWindow)
		hub := services.NewBroadcaster(cfg.SubscriberQueueCapacity, cfg.OverflowDisconnectLimit)
		notifier := services.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		alertEngine := services.NewAlertEngine(notifier, db)
		if db != nil {
			if err := alertEngine.LoadFromDB(); err != nil {
				log.Printf("Warning: Could not load persisted alerts: %v", err)
			}
		}

		source := services.NewAlphaVantageSource(cfg.QuoteBaseURL, cfg.AlphaVantageAPIKey, cfg.FetchTimeout)
		health := services.HealthSinkFunc(func(symbol string, consecutive int, err error) {
			log.Printf("HEALTH: symbol %s failing (%d consecutive): %v", symbol, consecutive, err)
		})

		ingestScheduler := services.NewIngestScheduler(services.IngestConfig{
			Interval:         cfg.DataUpdateInterval,
			FetchTimeout:     cfg.FetchTimeout,
			RetryDelay:       cfg.FetchRetryDelay,
			FailureThreshold: cfg.FailureEscalationThreshold,
		}, source, store, hub, alertEngine, health)

		predictor := services.NewMomentumPredictor(cfg.MinPredictHistory)
		predictionScheduler := services.NewPredictionScheduler(services.PredictionConfig{
			Interval: cfg.PredictionInterval,
		}, predictor, store, hub)

		streamServer := services.NewStreamServer(hub, cfg.MaxWebSocketClients)

		// The archive consumes the stream like any other subscriber
		go runArchiveTap(hub)

		ingestScheduler.Start(rootCtx)
		predictionScheduler.Start(rootCtx)

		routes.SetupRoutes(router, db, &routes.Engine{
			Store:        store,
			Broadcaster:  hub,
			AlertEngine:  alertEngine,
			Ingest:       ingestScheduler,
			StreamServer: streamServer,
		})

		// Start housekeeping jobs
		jobs := scheduler.NewScheduler(db, store, notifier)
		jobs.Start()

		readyMutex.Lock()
		broadcaster = hub
		ingest = ingestScheduler
		predictions = predictionScheduler
		jobScheduler = jobs
		engineReady = true
		readyMutex.Unlock()

		log.Println("Application fully initialized")
	}()

	// Graceful shutdown
	gracefulShutdown(server, rootCancel, func() {
		readyMutex.RLock()
		jobs, ing, preds, hub := jobScheduler, ingest, predictions, broadcaster
		readyMutex.RUnlock()

		if jobs != nil {
			jobs.Stop()
		}
		if ing != nil {
			ing.Stop()
		}
		if preds != nil {
			preds.Stop()
		}
		if hub != nil {
			hub.Shutdown()
		}
		if services.GlobalArchive != nil {
			services.GlobalArchive.Close()
		}
		if services.GlobalMongoSnapshot != nil {
			services.GlobalMongoSnapshot.Close()
		}
	})
}

// runMigrations runs all database migrations
func runMigrations() error {
	db := config.DB

	if err := models.MigrateUserModels(db); err != nil {
		return err
	}
	if err := models.MigrateAlertModels(db); err != nil {
		return err
	}
	return nil
}

// runArchiveTap records every broadcast event into the local archive. The tap
// is an ordinary subscriber, so a slow disk can never back up the engine.
func runArchiveTap(broadcaster *services.Broadcaster) {
	sub := broadcaster.Subscribe(nil)
	for event := range sub.Events() {
		if services.GlobalArchive == nil {
			continue
		}
		switch event.Type {
		case models.EventTypeTick:
			if event.Price != nil && event.Volume != nil {
				services.GlobalArchive.RecordTick(models.Tick{
					Symbol:    event.Symbol,
					Price:     *event.Price,
					Volume:    *event.Volume,
					Timestamp: event.Timestamp,
				})
			}
		case models.EventTypePrediction:
			if event.Value != nil && event.Confidence != nil {
				services.GlobalArchive.RecordPrediction(models.Prediction{
					Symbol:      event.Symbol,
					Value:       *event.Value,
					Confidence:  *event.Confidence,
					GeneratedAt: event.Timestamp,
				})
			}
		}
	}
}

// setupHealthEndpoints sets up health check endpoints
func setupHealthEndpoints(router *gin.Engine) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "StockStream Backend API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if the engine is initialized
	router.GET("/ready", func(c *gin.Context) {
		readyMutex.RLock()
		isReady := engineReady
		readyMutex.RUnlock()

		if !isReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Engine not initialized",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, cancel context.CancelFunc, stopEngine func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop background work first so no partial write is left behind
	cancel()
	stopEngine()

	// Create context with timeout for shutdown
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Close database connection
	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
