package handlers

import (
	"context"
	"errors"
	"time"

	"inventory-forecast-api/internal/models"
	"inventory-forecast-api/internal/services"

	"github.com/gofiber/fiber/v2"
)

// maxListLimit caps GET /api/forecasts/:product_id
const maxListLimit = 30

type ForecastHandler struct {
	orchestrator *services.ForecastOrchestrator
	batch        *services.BatchGenerator
	timeout      time.Duration
}

func NewForecastHandler(orchestrator *services.ForecastOrchestrator, batch *services.BatchGenerator, timeout time.Duration) *ForecastHandler {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ForecastHandler{
		orchestrator: orchestrator,
		batch:        batch,
		timeout:      timeout,
	}
}

// Generate handles POST /api/forecasts/generate
func (h *ForecastHandler) Generate(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	defer cancel()

	var req models.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
			Code:    fiber.StatusBadRequest,
		})
	}

	batch, err := h.orchestrator.GenerateForecast(ctx, req.ProductID)
	if err != nil {
		var partial *services.PartialPersistenceError
		if errors.As(err, &partial) && batch != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(models.PartialGenerateResponse{
				Error:     err.Error(),
				Forecasts: services.StoredDays(batch.Days, partial),
				Persisted: partial.Written,
				Failed:    partial.Failed,
			})
		}
		return writeError(c, err)
	}

	return c.JSON(models.GenerateResponse{
		Success:   true,
		Forecasts: batch.Days,
		Insights:  batch.Insights,
	})
}

// List handles GET /api/forecasts/:product_id
func (h *ForecastHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	productID := c.Params("product_id")

	limit := c.QueryInt("limit", maxListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	days, err := h.orchestrator.ListForecasts(ctx, productID, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(models.ListForecastsResponse{Forecasts: days})
}

// GenerateBatch handles POST /api/forecasts/generate/batch
func (h *ForecastHandler) GenerateBatch(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	defer cancel()

	var req models.BatchGenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
			Code:    fiber.StatusBadRequest,
		})
	}

	results, err := h.batch.GenerateMany(ctx, req.ProductIDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(models.BatchGenerateResponse{Results: results})
}

// Sales handles GET /api/sales/:product_id
func (h *ForecastHandler) Sales(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	sales, err := h.orchestrator.SalesHistory(ctx, c.Params("product_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(models.SalesResponse{Sales: sales})
}

// writeError maps service errors to the {error} response shape.
func writeError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	return c.Status(code).JSON(models.ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

// Model, parse and store failures are all 500s.
func statusFor(err error) int {
	if errors.Is(err, services.ErrNoData) || errors.Is(err, services.ErrInvalidRequest) {
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// CustomErrorHandler handles Fiber errors
func CustomErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(models.ErrorResponse{
		Error:   "Request failed",
		Message: err.Error(),
		Code:    code,
	})
}
