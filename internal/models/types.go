package models

import (
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// SalesObservation is one recorded sale of a product on a given day.
type SalesObservation struct {
	ProductID    string          `json:"product_id"`
	SaleDate     civil.Date      `json:"sale_date"`
	QuantitySold int             `json:"quantity_sold"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// Revenue returns quantity * unit price.
func (o SalesObservation) Revenue() decimal.Decimal {
	return decimal.NewFromInt(int64(o.QuantitySold)).Mul(o.UnitPrice)
}

// ForecastRequest is the per-invocation input to the forecasting pipeline.
type ForecastRequest struct {
	ProductID    string
	Observations []SalesObservation
}

// Validate checks that the request carries a product and at least one observation
func (r ForecastRequest) Validate() error {
	if r.ProductID == "" {
		return errors.New("product id is required")
	}
	if len(r.Observations) == 0 {
		return errors.New("at least one sales observation is required")
	}
	return nil
}

// SalesPoint is the normalized projection of an observation sent to the model
type SalesPoint struct {
	Date     civil.Date `json:"date"`
	Quantity int        `json:"quantity"`
	Revenue  float64    `json:"revenue"`
}

// ForecastDay is one persisted per-day demand prediction.
// Keyed by (ProductID, ForecastDate).
type ForecastDay struct {
	ProductID       string     `json:"product_id"`
	ForecastDate    civil.Date `json:"forecast_date"`
	PredictedDemand float64    `json:"predicted_demand"`
	ConfidenceLower float64    `json:"confidence_interval_lower"`
	ConfidenceUpper float64    `json:"confidence_interval_upper"`
	ModelVersion    string     `json:"model_version"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ForecastBatch is the parsed output of one generation run
type ForecastBatch struct {
	ProductID string        `json:"product_id"`
	Days      []ForecastDay `json:"forecasts"`
	Insights  string        `json:"insights"`
}

// GenerateRequest represents POST /api/forecasts/generate
type GenerateRequest struct {
	ProductID string `json:"product_id"`
}

// GenerateResponse represents a successful generation
type GenerateResponse struct {
	Success   bool          `json:"success"`
	Forecasts []ForecastDay `json:"forecasts"`
	Insights  string        `json:"insights"`
}

// PartialGenerateResponse is returned when only some forecast days were stored
type PartialGenerateResponse struct {
	Error     string        `json:"error"`
	Forecasts []ForecastDay `json:"forecasts"`
	Persisted int           `json:"persisted"`
	Failed    int           `json:"failed"`
}

// ListForecastsResponse represents GET /api/forecasts/:product_id
type ListForecastsResponse struct {
	Forecasts []ForecastDay `json:"forecasts"`
}

// SalesResponse represents GET /api/sales/:product_id
type SalesResponse struct {
	Sales []SalesObservation `json:"sales"`
}

// BatchGenerateRequest represents POST /api/forecasts/generate/batch
type BatchGenerateRequest struct {
	ProductIDs []string `json:"product_ids"`
}

// BatchResult is the outcome for one product in a batch run
// Forecasts holds only the days that were stored.
type BatchResult struct {
	Success   bool          `json:"success"`
	Forecasts []ForecastDay `json:"forecasts,omitempty"`
	Insights  string        `json:"insights,omitempty"`
	Persisted int           `json:"persisted"`
	Failed    int           `json:"failed"`
	Error     string        `json:"error,omitempty"`
}

// BatchGenerateResponse maps product id to its result
type BatchGenerateResponse struct {
	Results map[string]BatchResult `json:"results"`
}

// ErrorResponse represents API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
