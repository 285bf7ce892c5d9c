package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	startTime time.Time
	store     Pinger
	backend   string
	provider  string
}

func NewHealthHandler(store Pinger, backend, provider string) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		store:     store,
		backend:   backend,
		provider:  provider,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "inventory-forecast-api",
		"version": "1.0.0",
		"uptime":  time.Since(h.startTime).String(),
		"time":    time.Now(),
	})
}

// Ready handles GET /health/ready
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	storeStatus := "ok"
	status := fiber.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		storeStatus = err.Error()
		status = fiber.StatusServiceUnavailable
	}

	ready := "ready"
	if status != fiber.StatusOK {
		ready = "not ready"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": ready,
		"checks": fiber.Map{
			"api":   "ok",
			"store": storeStatus,
		},
		"store_backend":  h.backend,
		"model_provider": h.provider,
	})
}
