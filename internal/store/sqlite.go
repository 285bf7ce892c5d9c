package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"inventory-forecast-api/internal/models"
)

// SQLiteStore keeps sales and forecasts in a local SQLite file.
type SQLiteStore struct {
	DBPath string
	db     *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		DBPath: absPath,
		db:     db,
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS sales (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id TEXT NOT NULL,
	sale_date TEXT NOT NULL,
	quantity_sold INTEGER NOT NULL,
	unit_price TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sales_product ON sales(product_id, sale_date);

CREATE TABLE IF NOT EXISTS forecasts (
	product_id TEXT NOT NULL,
	forecast_date TEXT NOT NULL,
	predicted_demand REAL NOT NULL,
	confidence_interval_lower REAL NOT NULL,
	confidence_interval_upper REAL NOT NULL,
	model_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (product_id, forecast_date)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

// InsertSales records observations. The forecasting path only reads sales;
// this is for loading fixtures and local data.
func (s *SQLiteStore) InsertSales(ctx context.Context, observations ...models.SalesObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert sales: %w", err)
	}
	defer tx.Rollback()

	for _, obs := range observations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sales (product_id, sale_date, quantity_sold, unit_price) VALUES (?, ?, ?, ?)`,
			obs.ProductID, obs.SaleDate.String(), obs.QuantitySold, obs.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("insert sale for %s: %w", obs.ProductID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SalesForProduct(ctx context.Context, productID string) ([]models.SalesObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, sale_date, quantity_sold, unit_price FROM sales WHERE product_id = ? ORDER BY id`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var out []models.SalesObservation
	for rows.Next() {
		var (
			obs       models.SalesObservation
			saleDate  string
			unitPrice string
		)
		if err := rows.Scan(&obs.ProductID, &saleDate, &obs.QuantitySold, &unitPrice); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		if obs.SaleDate, err = civil.ParseDate(saleDate); err != nil {
			return nil, fmt.Errorf("sale date %q: %w", saleDate, err)
		}
		if obs.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("unit price %q: %w", unitPrice, err)
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutForecast(ctx context.Context, day models.ForecastDay) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO forecasts (product_id, forecast_date, predicted_demand, confidence_interval_lower,
	confidence_interval_upper, model_version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(product_id, forecast_date) DO UPDATE SET
	predicted_demand = excluded.predicted_demand,
	confidence_interval_lower = excluded.confidence_interval_lower,
	confidence_interval_upper = excluded.confidence_interval_upper,
	model_version = excluded.model_version,
	created_at = excluded.created_at`,
		day.ProductID, day.ForecastDate.String(), day.PredictedDemand, day.ConfidenceLower,
		day.ConfidenceUpper, day.ModelVersion, day.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert forecast: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentForecasts(ctx context.Context, productID string, limit int) ([]models.ForecastDay, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT product_id, forecast_date, predicted_demand, confidence_interval_lower,
	confidence_interval_upper, model_version, created_at
FROM forecasts WHERE product_id = ? ORDER BY forecast_date DESC LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	days := []models.ForecastDay{}
	for rows.Next() {
		var (
			day          models.ForecastDay
			forecastDate string
			createdAt    string
		)
		if err := rows.Scan(&day.ProductID, &forecastDate, &day.PredictedDemand, &day.ConfidenceLower,
			&day.ConfidenceUpper, &day.ModelVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		if day.ForecastDate, err = civil.ParseDate(forecastDate); err != nil {
			return nil, fmt.Errorf("forecast date %q: %w", forecastDate, err)
		}
		if day.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("created_at %q: %w", createdAt, err)
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
