package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"inventory-forecast-api/internal/config"
	"inventory-forecast-api/internal/models"
)

// MaxBatchProducts bounds the product ids accepted by one batch run.
const MaxBatchProducts = 20

// Generator produces a forecast batch for one product.
type Generator interface {
	GenerateForecast(ctx context.Context, productID string) (*models.ForecastBatch, error)
}

// BatchGenerator runs forecast generation for several products concurrently
type BatchGenerator struct {
	generator  Generator
	workerPool chan struct{} // Semaphore for bounded concurrency
}

func NewBatchGenerator(cfg *config.Config, generator Generator) *BatchGenerator {
	workers := cfg.MaxConcurrentGenerations
	if workers < 1 {
		workers = 1
	}
	return &BatchGenerator{
		generator:  generator,
		workerPool: make(chan struct{}, workers),
	}
}

// GenerateMany generates forecasts for each distinct product id. One
// product failing does not affect the others.
func (b *BatchGenerator) GenerateMany(ctx context.Context, productIDs []string) (map[string]models.BatchResult, error) {
	ids := uniqueIDs(productIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: product_ids is required", ErrInvalidRequest)
	}
	if len(ids) > MaxBatchProducts {
		return nil, fmt.Errorf("%w: at most %d product ids per batch", ErrInvalidRequest, MaxBatchProducts)
	}

	results := make(map[string]models.BatchResult, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)

		go func(productID string) {
			defer wg.Done()

			// Acquire worker slot
			select {
			case b.workerPool <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				results[productID] = models.BatchResult{Error: ctx.Err().Error()}
				mu.Unlock()
				return
			}
			defer func() { <-b.workerPool }()

			res := toBatchResult(b.generator.GenerateForecast(ctx, productID))

			mu.Lock()
			results[productID] = res
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return results, nil
}

func toBatchResult(batch *models.ForecastBatch, err error) models.BatchResult {
	var partial *PartialPersistenceError
	switch {
	case err == nil:
		return models.BatchResult{
			Success:   true,
			Forecasts: batch.Days,
			Insights:  batch.Insights,
			Persisted: len(batch.Days),
		}
	case errors.As(err, &partial) && batch != nil:
		return models.BatchResult{
			Forecasts: StoredDays(batch.Days, partial),
			Insights:  batch.Insights,
			Persisted: partial.Written,
			Failed:    partial.Failed,
			Error:     err.Error(),
		}
	default:
		return models.BatchResult{Error: err.Error()}
	}
}

func uniqueIDs(productIDs []string) []string {
	seen := make(map[string]bool, len(productIDs))
	var ids []string
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
