package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-forecast-api/internal/config"
	"inventory-forecast-api/internal/models"
	"inventory-forecast-api/internal/store"
	"inventory-forecast-api/pkg/mockmodel"
)

var fixedNow = time.Date(2024, 12, 1, 9, 30, 0, 0, time.UTC)

// scriptedModel replies with a fixed text and records every prompt.
type scriptedModel struct {
	mu        sync.Mutex
	reply     string
	err       error
	prompts   []string
	maxTokens []int
}

func (m *scriptedModel) Invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.maxTokens = append(m.maxTokens, maxTokens)
	return m.reply, m.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// countingStore wraps a MemoryStore, counting writes and failing chosen dates.
type countingStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	puts     int
	failOn   map[string]bool
	salesErr error
}

func (s *countingStore) PutForecast(ctx context.Context, day models.ForecastDay) error {
	s.mu.Lock()
	s.puts++
	fail := s.failOn[day.ForecastDate.String()]
	s.mu.Unlock()
	if fail {
		return errors.New("write throttled")
	}
	return s.MemoryStore.PutForecast(ctx, day)
}

func (s *countingStore) SalesForProduct(ctx context.Context, productID string) ([]models.SalesObservation, error) {
	if s.salesErr != nil {
		return nil, s.salesErr
	}
	return s.MemoryStore.SalesForProduct(ctx, productID)
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func obs(productID, date string, qty int, price string) models.SalesObservation {
	d, err := civil.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return models.SalesObservation{
		ProductID:    productID,
		SaleDate:     d,
		QuantitySold: qty,
		UnitPrice:    decimal.RequireFromString(price),
	}
}

func forecastReply(start civil.Date, days int) string {
	var sb strings.Builder
	sb.WriteString("```json\n{\"forecasts\":[")
	for i := 0; i < days; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"date":"%s","predicted_demand":%d,"confidence_lower":%d,"confidence_upper":%d}`,
			start.AddDays(i), 10+i, 5+i, 15+i)
	}
	sb.WriteString("],\"insights\":\"trend up\"}\n```")
	return sb.String()
}

func newTestOrchestrator(t *testing.T, st *countingStore, model ModelClient) *ForecastOrchestrator {
	t.Helper()
	cfg := &config.Config{ModelVersion: "test-model-v1", ModelTimeout: time.Second}
	return NewForecastOrchestrator(cfg, ForecastDeps{
		Sales:     st,
		Forecasts: st,
		Model:     model,
		Now:       func() time.Time { return fixedNow },
	})
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore(), failOn: map[string]bool{}}
}

func TestNormalizeSales(t *testing.T) {
	points := NormalizeSales([]models.SalesObservation{
		obs("p1", "2024-11-02", 3, "10"),
		obs("p1", "2024-11-01", 5, "10"),
	})

	assert.Equal(t, []models.SalesPoint{
		{Date: civil.Date{Year: 2024, Month: 11, Day: 1}, Quantity: 5, Revenue: 50},
		{Date: civil.Date{Year: 2024, Month: 11, Day: 2}, Quantity: 3, Revenue: 30},
	}, points)
}

func TestNormalizeSalesStableOnTies(t *testing.T) {
	points := NormalizeSales([]models.SalesObservation{
		obs("p1", "2024-11-02", 1, "1"),
		obs("p1", "2024-11-01", 7, "1"),
		obs("p1", "2024-11-01", 9, "1"),
	})

	require.Len(t, points, 3)
	assert.Equal(t, 7, points[0].Quantity)
	assert.Equal(t, 9, points[1].Quantity)
	assert.Equal(t, 1, points[2].Quantity)
}

func TestNormalizeSalesDecimalRevenue(t *testing.T) {
	points := NormalizeSales([]models.SalesObservation{obs("p1", "2024-11-01", 3, "19.99")})
	assert.Equal(t, 59.97, points[0].Revenue)
}

func TestBuildPrompt(t *testing.T) {
	o := newTestOrchestrator(t, newCountingStore(), &scriptedModel{})

	prompt, err := o.BuildPrompt(models.ForecastRequest{
		ProductID: "p1",
		Observations: []models.SalesObservation{
			obs("p1", "2024-11-02", 3, "10"),
			obs("p1", "2024-11-01", 5, "10"),
		},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, `Sales Data: [{"date":"2024-11-01","quantity":5,"revenue":50},{"date":"2024-11-02","quantity":3,"revenue":30}]`)
	assert.Contains(t, prompt, "Today is 2024-12-01.")
	assert.Contains(t, prompt, "30-day demand forecast")
	assert.Contains(t, prompt, `"confidence_upper": number`)
}

func TestBuildPromptRejectsEmptyRequest(t *testing.T) {
	o := newTestOrchestrator(t, newCountingStore(), &scriptedModel{})

	_, err := o.BuildPrompt(models.ForecastRequest{ProductID: "p1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGenerateForecast(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-01", 5, "10"), obs("p1", "2024-11-02", 3, "10"))
	model := &scriptedModel{reply: forecastReply(civil.DateOf(fixedNow), 30)}
	o := newTestOrchestrator(t, st, model)

	batch, err := o.GenerateForecast(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, "p1", batch.ProductID)
	assert.Equal(t, "trend up", batch.Insights)
	require.Len(t, batch.Days, 30)
	assert.Equal(t, 30, st.writes())

	dates := map[civil.Date]bool{}
	for _, d := range batch.Days {
		assert.False(t, dates[d.ForecastDate], "duplicate date %s", d.ForecastDate)
		dates[d.ForecastDate] = true
		assert.Equal(t, "test-model-v1", d.ModelVersion)
		assert.Equal(t, fixedNow, d.CreatedAt)
		assert.LessOrEqual(t, d.ConfidenceLower, d.PredictedDemand)
		assert.LessOrEqual(t, d.PredictedDemand, d.ConfidenceUpper)
	}

	require.Equal(t, 1, model.calls())
	assert.Equal(t, 4000, model.maxTokens[0])
}

func TestGenerateForecastNoData(t *testing.T) {
	st := newCountingStore()
	model := &scriptedModel{reply: forecastReply(civil.DateOf(fixedNow), 1)}
	o := newTestOrchestrator(t, st, model)

	batch, err := o.GenerateForecast(context.Background(), "unknown")
	assert.Nil(t, batch)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 0, model.calls())
	assert.Equal(t, 0, st.writes())
}

func TestGenerateForecastRequiresProductID(t *testing.T) {
	o := newTestOrchestrator(t, newCountingStore(), &scriptedModel{})

	_, err := o.GenerateForecast(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGenerateForecastMalformedReply(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-01", 5, "10"))
	o := newTestOrchestrator(t, st, &scriptedModel{reply: "Sorry, I can't help with that."})

	batch, err := o.GenerateForecast(context.Background(), "p1")
	assert.Nil(t, batch)

	var mErr *MalformedResponseError
	assert.ErrorAs(t, err, &mErr)
	assert.Equal(t, 0, st.writes())
}

func TestGenerateForecastModelFailure(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-01", 5, "10"))
	o := newTestOrchestrator(t, st, &scriptedModel{err: errors.New("throttled")})

	_, err := o.GenerateForecast(context.Background(), "p1")

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "model", upErr.Source)
	assert.Equal(t, 0, st.writes())
}

func TestGenerateForecastSalesStoreFailure(t *testing.T) {
	st := newCountingStore()
	st.salesErr = errors.New("connection refused")
	model := &scriptedModel{}
	o := newTestOrchestrator(t, st, model)

	_, err := o.GenerateForecast(context.Background(), "p1")

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "sales store", upErr.Source)
	assert.Equal(t, 0, model.calls())
}

type slowModel struct{}

func (slowModel) Invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestInvokeModelTimeout(t *testing.T) {
	cfg := &config.Config{ModelTimeout: 20 * time.Millisecond}
	o := NewForecastOrchestrator(cfg, ForecastDeps{Model: slowModel{}})

	_, err := o.InvokeModel(context.Background(), "prompt")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateForecastPartialPersistence(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-01", 5, "10"))
	start := civil.DateOf(fixedNow)
	st.failOn[start.AddDays(1).String()] = true
	o := newTestOrchestrator(t, st, &scriptedModel{reply: forecastReply(start, 3)})

	batch, err := o.GenerateForecast(context.Background(), "p1")

	var partial *PartialPersistenceError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Written)
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, []civil.Date{start.AddDays(1)}, partial.FailedDates)

	// Batch is still returned and earlier/later writes are kept
	require.NotNil(t, batch)
	assert.Len(t, batch.Days, 3)
	assert.Equal(t, 3, st.writes())

	stored, err := o.ListForecasts(context.Background(), "p1", 30)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestGenerateForecastAllWritesFail(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-01", 5, "10"))
	start := civil.DateOf(fixedNow)
	st.failOn[start.String()] = true
	o := newTestOrchestrator(t, st, &scriptedModel{reply: forecastReply(start, 1)})

	_, err := o.GenerateForecast(context.Background(), "p1")

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "forecast store", upErr.Source)
}

func TestListForecastsAfterGenerate(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-01", 5, "10"))
	o := newTestOrchestrator(t, st, &scriptedModel{reply: forecastReply(civil.DateOf(fixedNow), 30)})

	_, err := o.GenerateForecast(context.Background(), "p1")
	require.NoError(t, err)

	first, err := o.ListForecasts(context.Background(), "p1", 30)
	require.NoError(t, err)
	require.Len(t, first, 30)
	for i := 1; i < len(first); i++ {
		assert.True(t, first[i-1].ForecastDate.After(first[i].ForecastDate),
			"not strictly descending at %d", i)
	}

	second, err := o.ListForecasts(context.Background(), "p1", 30)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	limited, err := o.ListForecasts(context.Background(), "p1", 5)
	require.NoError(t, err)
	require.Len(t, limited, 5)
	assert.Equal(t, first[:5], limited)
}

func TestListForecastsEmpty(t *testing.T) {
	o := newTestOrchestrator(t, newCountingStore(), &scriptedModel{})

	days, err := o.ListForecasts(context.Background(), "nothing", 0)
	require.NoError(t, err)
	assert.NotNil(t, days)
	assert.Empty(t, days)
}

func TestRegenerationOverwritesByKey(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-01", 5, "10"))
	start := civil.DateOf(fixedNow)
	model := &scriptedModel{reply: forecastReply(start, 2)}
	o := newTestOrchestrator(t, st, model)

	_, err := o.GenerateForecast(context.Background(), "p1")
	require.NoError(t, err)

	model.reply = "```json\n" + `{"forecasts":[{"date":"` + start.String() + `","predicted_demand":99,"confidence_lower":90,"confidence_upper":100}],"insights":"spike"}` + "\n```"
	_, err = o.GenerateForecast(context.Background(), "p1")
	require.NoError(t, err)

	days, err := o.ListForecasts(context.Background(), "p1", 30)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, start, days[1].ForecastDate)
	assert.Equal(t, 99.0, days[1].PredictedDemand)
}

func TestSalesHistorySorted(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-03", 1, "2"), obs("p1", "2024-11-01", 4, "2"))
	o := newTestOrchestrator(t, st, &scriptedModel{})

	sales, err := o.SalesHistory(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "2024-11-01", sales[0].SaleDate.String())

	empty, err := o.SalesHistory(context.Background(), "other")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestGenerateForecastStampsProviderVersion(t *testing.T) {
	start := civil.DateOf(fixedNow)
	tests := []struct {
		name  string
		cfg   *config.Config
		model ModelClient
		want  string
	}{
		{
			name:  "mock",
			cfg:   &config.Config{ModelProvider: "mock"},
			model: &mockmodel.Client{Days: 3, Now: func() time.Time { return fixedNow }},
			want:  "mock+forecast-v1",
		},
		{
			name:  "gemini",
			cfg:   &config.Config{ModelProvider: "gemini", GeminiModel: "gemini-1.5-pro-latest"},
			model: &scriptedModel{reply: forecastReply(start, 3)},
			want:  "gemini/gemini-1.5-pro-latest+forecast-v1",
		},
		{
			name:  "azure",
			cfg:   &config.Config{ModelProvider: "azure", AzureDeployment: "gpt-4o-mini"},
			model: &scriptedModel{reply: forecastReply(start, 3)},
			want:  "azure/gpt-4o-mini+forecast-v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newCountingStore()
			st.AddSales(obs("p1", "2024-11-01", 5, "10"))
			o := NewForecastOrchestrator(tt.cfg, ForecastDeps{
				Sales:     st,
				Forecasts: st,
				Model:     tt.model,
				Now:       func() time.Time { return fixedNow },
			})
			assert.Equal(t, tt.want, o.ModelVersion())

			_, err := o.GenerateForecast(context.Background(), "p1")
			require.NoError(t, err)

			stored, err := o.ListForecasts(context.Background(), "p1", 30)
			require.NoError(t, err)
			require.Len(t, stored, 3)
			for _, d := range stored {
				assert.Equal(t, tt.want, d.ModelVersion)
			}
		})
	}
}

func TestProductIDTrimmedOnReadAndWrite(t *testing.T) {
	st := newCountingStore()
	st.AddSales(obs("p1", "2024-11-01", 5, "10"))
	o := newTestOrchestrator(t, st, &scriptedModel{reply: forecastReply(civil.DateOf(fixedNow), 2)})

	_, err := o.GenerateForecast(context.Background(), " p1 ")
	require.NoError(t, err)

	days, err := o.ListForecasts(context.Background(), " p1", 30)
	require.NoError(t, err)
	assert.Len(t, days, 2)

	sales, err := o.SalesHistory(context.Background(), "p1 ")
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	_, err = o.ListForecasts(context.Background(), "   ", 30)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = o.SalesHistory(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStoredDays(t *testing.T) {
	start := civil.DateOf(fixedNow)
	days := []models.ForecastDay{{ForecastDate: start}, {ForecastDate: start.AddDays(1)}, {ForecastDate: start.AddDays(2)}}

	assert.Equal(t, days, StoredDays(days, nil))

	kept := StoredDays(days, &PartialPersistenceError{Written: 2, Failed: 1, FailedDates: []civil.Date{start.AddDays(1)}})
	require.Len(t, kept, 2)
	assert.Equal(t, start, kept[0].ForecastDate)
	assert.Equal(t, start.AddDays(2), kept[1].ForecastDate)
}
