package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"teampulse/config"
	"teampulse/middleware"
	"teampulse/routes"
	"teampulse/utils"
	"teampulse/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "TEAMPULSE: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Error reporting is optional; skipped when no DSN is configured
	if config.AppConfig.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn: config.AppConfig.SentryDSN,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize Sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Initialize the analysis pipeline
	slackClient := utils.NewSlackClient()
	llmClient := utils.NewLLMClient(config.AppConfig.LLM)
	statsCache := utils.NewChannelStatsCache(256, 15*time.Minute)
	runner := worker.NewAnalysisRunner(config.DB, slackClient, llmClient, statsCache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := worker.NewAnalysisTracker(ctx, config.DB, runner, log.New(os.Stdout, "TRACKER: ", log.LstdFlags))

	// Initialize and start maintenance worker
	maintenanceWorker := worker.NewMaintenanceWorker(config.DB, slackClient, log.New(os.Stdout, "MAINTENANCE: ", log.LstdFlags),
		time.Duration(config.AppConfig.MaintenanceHours)*time.Hour)
	go maintenanceWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, slackClient, tracker)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
