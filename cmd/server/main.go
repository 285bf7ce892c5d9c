package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"inventory-forecast-api/internal/config"
	"inventory-forecast-api/internal/handlers"
	"inventory-forecast-api/internal/services"
	"inventory-forecast-api/internal/store"
	"inventory-forecast-api/pkg/azureopenai"
	"inventory-forecast-api/pkg/gemini"
	"inventory-forecast-api/pkg/mockmodel"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx := context.Background()

	// Initialize storage and model
	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer st.Close()

	model, closeModel, err := newModelClient(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize %s model: %v", cfg.ModelProvider, err)
	}
	defer closeModel()

	prompt, err := services.LoadPromptTemplate(cfg.PromptTemplatePath)
	if err != nil {
		log.Fatalf("❌ Failed to load prompt template: %v", err)
	}

	// Initialize services
	orchestrator := services.NewForecastOrchestrator(cfg, services.ForecastDeps{
		Sales:     st,
		Forecasts: st,
		Model:     model,
		Prompt:    prompt,
	})
	batch := services.NewBatchGenerator(cfg, orchestrator)

	// Initialize handlers
	forecastHandler := handlers.NewForecastHandler(orchestrator, batch, cfg.RequestTimeout)
	healthHandler := handlers.NewHealthHandler(st, cfg.StoreBackend, cfg.ModelProvider)

	app := fiber.New(fiber.Config{
		StrictRouting: true,
		CaseSensitive: true,
		ServerHeader:  "Inventory-Forecast-API",
		AppName:       "Inventory Forecast v1.0",
		ReadTimeout:   time.Second * 10,
		WriteTimeout:  cfg.RequestTimeout + 5*time.Second,
		BodyLimit:     1 * 1024 * 1024, // 1MB
		ErrorHandler:  handlers.CustomErrorHandler,
	})

	// Middleware stack
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		MaxAge:       3600,
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		},
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "Inventory Forecast API",
			"version": "1.0.0",
			"status":  "running",
		})
	})
	handlers.SetupRoutes(app, forecastHandler, healthHandler)

	// Graceful shutdown
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("🚀 Inventory Forecast API started on port %s", cfg.Port)
	log.Printf("📊 Environment: %s", cfg.Environment)
	log.Printf("🗄️  Store: %s, model: %s (%s)", cfg.StoreBackend, cfg.ModelProvider, orchestrator.ModelVersion())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server shutdown complete")
}

func newModelClient(ctx context.Context, cfg *config.Config) (services.ModelClient, func(), error) {
	switch cfg.ModelProvider {
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	case "azure":
		client := azureopenai.NewClient(cfg.AzureEndpoint, cfg.AzureAPIKey, cfg.AzureAPIVersion, cfg.AzureDeployment)
		return client, func() {}, nil
	default:
		log.Println("⚠️  Using the offline mock model")
		return mockmodel.New(), func() {}, nil
	}
}
