package handlers

import "github.com/gofiber/fiber/v2"

// SetupRoutes registers the health and forecast routes on app.
func SetupRoutes(app *fiber.App, forecasts *ForecastHandler, health *HealthHandler) {
	app.Get("/health", health.Health)
	app.Get("/health/ready", health.Ready)

	api := app.Group("/api")

	// Static segments before :product_id
	api.Post("/forecasts/generate", forecasts.Generate)
	api.Post("/forecasts/generate/batch", forecasts.GenerateBatch)
	api.Get("/forecasts/:product_id", forecasts.List)

	api.Get("/sales/:product_id", forecasts.Sales)
}
