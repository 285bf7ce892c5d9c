package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"inventory-forecast-api/internal/models"
)

const (
	salesCollection     = "sales"
	forecastsCollection = "forecasts"
)

type saleDoc struct {
	ProductID    string  `firestore:"product_id"`
	SaleDate     string  `firestore:"sale_date"`
	QuantitySold int     `firestore:"quantity_sold"`
	UnitPrice    float64 `firestore:"unit_price"`
}

type forecastDoc struct {
	ProductID               string    `firestore:"product_id"`
	ForecastDate            string    `firestore:"forecast_date"`
	PredictedDemand         float64   `firestore:"predicted_demand"`
	ConfidenceIntervalLower float64   `firestore:"confidence_interval_lower"`
	ConfidenceIntervalUpper float64   `firestore:"confidence_interval_upper"`
	ModelVersion            string    `firestore:"model_version"`
	CreatedAt               time.Time `firestore:"created_at"`
}

// FirestoreStore reads the sales collection and writes the forecasts
// collection. Forecast documents are keyed "<product_id>#<forecast_date>".
type FirestoreStore struct {
	client *firestore.Client
}

func OpenFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("initialize firestore: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func forecastDocID(productID string, date civil.Date) string {
	return productID + "#" + date.String()
}

func (s *FirestoreStore) SalesForProduct(ctx context.Context, productID string) ([]models.SalesObservation, error) {
	docs, err := s.client.Collection(salesCollection).
		Where("product_id", "==", productID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}

	out := make([]models.SalesObservation, 0, len(docs))
	for _, doc := range docs {
		var sd saleDoc
		if err := doc.DataTo(&sd); err != nil {
			return nil, fmt.Errorf("decode sale %s: %w", doc.Ref.ID, err)
		}
		date, err := civil.ParseDate(sd.SaleDate)
		if err != nil {
			return nil, fmt.Errorf("sale %s: date %q: %w", doc.Ref.ID, sd.SaleDate, err)
		}
		out = append(out, models.SalesObservation{
			ProductID:    sd.ProductID,
			SaleDate:     date,
			QuantitySold: sd.QuantitySold,
			UnitPrice:    decimal.NewFromFloat(sd.UnitPrice),
		})
	}
	return out, nil
}

func (s *FirestoreStore) PutForecast(ctx context.Context, day models.ForecastDay) error {
	doc := forecastDoc{
		ProductID:               day.ProductID,
		ForecastDate:            day.ForecastDate.String(),
		PredictedDemand:         day.PredictedDemand,
		ConfidenceIntervalLower: day.ConfidenceLower,
		ConfidenceIntervalUpper: day.ConfidenceUpper,
		ModelVersion:            day.ModelVersion,
		CreatedAt:               day.CreatedAt,
	}
	_, err := s.client.Collection(forecastsCollection).
		Doc(forecastDocID(day.ProductID, day.ForecastDate)).
		Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("set forecast: %w", err)
	}
	return nil
}

func (s *FirestoreStore) RecentForecasts(ctx context.Context, productID string, limit int) ([]models.ForecastDay, error) {
	docs, err := s.client.Collection(forecastsCollection).
		Where("product_id", "==", productID).
		OrderBy("forecast_date", firestore.Desc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}

	days := make([]models.ForecastDay, 0, len(docs))
	for _, doc := range docs {
		var fd forecastDoc
		if err := doc.DataTo(&fd); err != nil {
			return nil, fmt.Errorf("decode forecast %s: %w", doc.Ref.ID, err)
		}
		date, err := civil.ParseDate(fd.ForecastDate)
		if err != nil {
			return nil, fmt.Errorf("forecast %s: date %q: %w", doc.Ref.ID, fd.ForecastDate, err)
		}
		days = append(days, models.ForecastDay{
			ProductID:       fd.ProductID,
			ForecastDate:    date,
			PredictedDemand: fd.PredictedDemand,
			ConfidenceLower: fd.ConfidenceIntervalLower,
			ConfidenceUpper: fd.ConfidenceIntervalUpper,
			ModelVersion:    fd.ModelVersion,
			CreatedAt:       fd.CreatedAt,
		})
	}
	return days, nil
}

// Ping reads one forecast document to check connectivity.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.client.Collection(forecastsCollection).Limit(1).Documents(ctx).GetAll()
	return err
}

// Close closes the Firestore client
func (s *FirestoreStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
