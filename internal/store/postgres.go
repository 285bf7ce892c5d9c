package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"inventory-forecast-api/internal/models"
)

// PostgresStore reads sales and writes forecasts through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, pings it and ensures the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Println("Successfully connected to the database")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS sales (
	id BIGSERIAL PRIMARY KEY,
	product_id TEXT NOT NULL,
	sale_date DATE NOT NULL,
	quantity_sold INTEGER NOT NULL CHECK (quantity_sold >= 0),
	unit_price NUMERIC(12, 2) NOT NULL CHECK (unit_price >= 0)
);

CREATE INDEX IF NOT EXISTS idx_sales_product ON sales (product_id, sale_date);

CREATE TABLE IF NOT EXISTS forecasts (
	product_id TEXT NOT NULL,
	forecast_date DATE NOT NULL,
	predicted_demand DOUBLE PRECISION NOT NULL,
	confidence_interval_lower DOUBLE PRECISION NOT NULL,
	confidence_interval_upper DOUBLE PRECISION NOT NULL,
	model_version TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (product_id, forecast_date)
);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SalesForProduct(ctx context.Context, productID string) ([]models.SalesObservation, error) {
	query := `
		SELECT product_id, sale_date, quantity_sold, unit_price::text
		FROM sales
		WHERE product_id = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var out []models.SalesObservation
	for rows.Next() {
		var (
			obs       models.SalesObservation
			saleDate  time.Time
			unitPrice string
		)
		if err := rows.Scan(&obs.ProductID, &saleDate, &obs.QuantitySold, &unitPrice); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		obs.SaleDate = civil.DateOf(saleDate)
		if obs.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("unit price %q: %w", unitPrice, err)
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutForecast(ctx context.Context, day models.ForecastDay) error {
	query := `
		INSERT INTO forecasts (product_id, forecast_date, predicted_demand, confidence_interval_lower,
			confidence_interval_upper, model_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id, forecast_date) DO UPDATE SET
			predicted_demand = EXCLUDED.predicted_demand,
			confidence_interval_lower = EXCLUDED.confidence_interval_lower,
			confidence_interval_upper = EXCLUDED.confidence_interval_upper,
			model_version = EXCLUDED.model_version,
			created_at = EXCLUDED.created_at
	`
	_, err := s.pool.Exec(ctx, query,
		day.ProductID, day.ForecastDate.In(time.UTC), day.PredictedDemand, day.ConfidenceLower,
		day.ConfidenceUpper, day.ModelVersion, day.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert forecast: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentForecasts(ctx context.Context, productID string, limit int) ([]models.ForecastDay, error) {
	query := `
		SELECT product_id, forecast_date, predicted_demand, confidence_interval_lower,
			confidence_interval_upper, model_version, created_at
		FROM forecasts
		WHERE product_id = $1
		ORDER BY forecast_date DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	days := []models.ForecastDay{}
	for rows.Next() {
		var (
			day          models.ForecastDay
			forecastDate time.Time
		)
		if err := rows.Scan(&day.ProductID, &forecastDate, &day.PredictedDemand, &day.ConfidenceLower,
			&day.ConfidenceUpper, &day.ModelVersion, &day.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		day.ForecastDate = civil.DateOf(forecastDate)
		days = append(days, day)
	}
	return days, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		log.Println("Database connection pool closed")
	}
	return nil
}
