package store

import (
	"context"
	"fmt"

	"inventory-forecast-api/internal/config"
	"inventory-forecast-api/internal/models"
)

// Store is the sales history and forecast persistence used by the service.
type Store interface {
	SalesForProduct(ctx context.Context, productID string) ([]models.SalesObservation, error)
	PutForecast(ctx context.Context, day models.ForecastDay) error
	RecentForecasts(ctx context.Context, productID string, limit int) ([]models.ForecastDay, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*FirestoreStore)(nil)
)

// Open returns the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case "firestore":
		return OpenFirestore(ctx, cfg.FirestoreProject)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
