package store

import (
	"context"
	"sort"
	"sync"

	"inventory-forecast-api/internal/models"
)

type forecastKey struct {
	productID string
	date      string
}

// MemoryStore keeps sales and forecasts in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	sales     map[string][]models.SalesObservation
	forecasts map[forecastKey]models.ForecastDay
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sales:     make(map[string][]models.SalesObservation),
		forecasts: make(map[forecastKey]models.ForecastDay),
	}
}

// AddSales appends observations in insertion order.
func (s *MemoryStore) AddSales(observations ...models.SalesObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obs := range observations {
		s.sales[obs.ProductID] = append(s.sales[obs.ProductID], obs)
	}
}

func (s *MemoryStore) SalesForProduct(ctx context.Context, productID string) ([]models.SalesObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.sales[productID]
	out := make([]models.SalesObservation, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) PutForecast(ctx context.Context, day models.ForecastDay) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forecasts[forecastKey{day.ProductID, day.ForecastDate.String()}] = day
	return nil
}

func (s *MemoryStore) RecentForecasts(ctx context.Context, productID string, limit int) ([]models.ForecastDay, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := []models.ForecastDay{}
	for key, day := range s.forecasts {
		if key.productID == productID {
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].ForecastDate.After(days[j].ForecastDate)
	})
	if limit > 0 && len(days) > limit {
		days = days[:limit]
	}
	return days, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}
