package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"inventory-forecast-api/internal/config"
	"inventory-forecast-api/internal/models"
)

// DefaultListLimit is the number of forecast days returned by ListForecasts
// when no limit is given.
const DefaultListLimit = 30

// SalesStore reads the sales history of a product.
type SalesStore interface {
	SalesForProduct(ctx context.Context, productID string) ([]models.SalesObservation, error)
}

// ForecastStore persists forecast days keyed by (product, date).
type ForecastStore interface {
	PutForecast(ctx context.Context, day models.ForecastDay) error
	RecentForecasts(ctx context.Context, productID string, limit int) ([]models.ForecastDay, error)
}

// ModelClient sends a single-turn prompt to a generative model.
type ModelClient interface {
	Invoke(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ForecastDeps are the collaborators of the orchestrator.
type ForecastDeps struct {
	Sales     SalesStore
	Forecasts ForecastStore
	Model     ModelClient
	Prompt    *PromptTemplate
	Now       func() time.Time
}

// ForecastOrchestrator coordinates the forecast generation pipeline
type ForecastOrchestrator struct {
	sales        SalesStore
	forecasts    ForecastStore
	model        ModelClient
	prompt       *PromptTemplate
	now          func() time.Time
	modelVersion string
	maxTokens    int
	modelTimeout time.Duration
}

func NewForecastOrchestrator(cfg *config.Config, deps ForecastDeps) *ForecastOrchestrator {
	o := &ForecastOrchestrator{
		sales:        deps.Sales,
		forecasts:    deps.Forecasts,
		model:        deps.Model,
		prompt:       deps.Prompt,
		now:          deps.Now,
		maxTokens:    cfg.ModelMaxTokens,
		modelTimeout: cfg.ModelTimeout,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.prompt == nil {
		o.prompt = DefaultPrompt
	}
	o.modelVersion = cfg.ResolveModelVersion(o.prompt.Version)
	if o.maxTokens <= 0 {
		o.maxTokens = o.prompt.MaxTokens
	}
	return o
}

// ModelVersion is the identifier stamped on every persisted forecast day.
func (o *ForecastOrchestrator) ModelVersion() string {
	return o.modelVersion
}

// GenerateForecast runs retrieve, normalize, prompt, invoke, parse and
// persist for one product. On a PartialPersistenceError the returned batch
// is still complete.
func (o *ForecastOrchestrator) GenerateForecast(ctx context.Context, productID string) (*models.ForecastBatch, error) {
	productID, err := normalizeProductID(productID)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	// Step 1: Retrieve sales history
	logStage(productID, "retrieving")
	observations, err := o.sales.SalesForProduct(ctx, productID)
	if err != nil {
		return nil, o.fail(productID, "retrieving", &UpstreamError{Source: "sales store", Err: err})
	}
	if len(observations) == 0 {
		return nil, o.fail(productID, "retrieving", ErrNoData)
	}

	// Step 2-3: Normalize and build the prompt
	logStage(productID, "prompting")
	prompt, err := o.BuildPrompt(models.ForecastRequest{ProductID: productID, Observations: observations})
	if err != nil {
		return nil, o.fail(productID, "prompting", err)
	}

	// Step 4: Call the model
	logStage(productID, "invoking")
	reply, err := o.InvokeModel(ctx, prompt)
	if err != nil {
		return nil, o.fail(productID, "invoking", err)
	}

	// Step 5: Parse the reply
	logStage(productID, "parsing")
	batch, err := ParseModelResponse(productID, reply)
	if err != nil {
		return nil, o.fail(productID, "parsing", err)
	}

	// Step 6: Persist
	logStage(productID, "persisting")
	if err := o.PersistForecasts(ctx, batch); err != nil {
		return batch, o.fail(productID, "persisting", err)
	}

	log.Printf("[forecast] product=%s stage=done days=%d model_version=%q took=%s",
		productID, len(batch.Days), o.modelVersion, time.Since(start).Round(time.Millisecond))
	return batch, nil
}

// BuildPrompt normalizes the observations and renders the model prompt,
// anchoring "today" at the current time.
func (o *ForecastOrchestrator) BuildPrompt(req models.ForecastRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	today := civil.DateOf(o.now())
	return o.prompt.Render(NormalizeSales(req.Observations), today)
}

// InvokeModel calls the model with the configured token budget, bounded by
// the model timeout.
func (o *ForecastOrchestrator) InvokeModel(ctx context.Context, prompt string) (string, error) {
	if o.modelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.modelTimeout)
		defer cancel()
	}

	reply, err := o.model.Invoke(ctx, prompt, o.maxTokens)
	if err != nil {
		return "", &UpstreamError{Source: "model", Err: err}
	}
	return reply, nil
}

// PersistForecasts stamps and writes every day of the batch. Each write is
// independent: failures are counted and earlier writes are kept.
func (o *ForecastOrchestrator) PersistForecasts(ctx context.Context, batch *models.ForecastBatch) error {
	var (
		written     int
		failedDates []civil.Date
		firstErr    error
	)

	for i := range batch.Days {
		day := &batch.Days[i]
		day.ModelVersion = o.modelVersion
		day.CreatedAt = o.now().UTC()

		if err := o.forecasts.PutForecast(ctx, *day); err != nil {
			failedDates = append(failedDates, day.ForecastDate)
			if firstErr == nil {
				firstErr = fmt.Errorf("put forecast %s: %w", day.ForecastDate, err)
			}
			continue
		}
		written++
	}

	switch {
	case len(failedDates) == 0:
		return nil
	case written == 0:
		return &UpstreamError{Source: "forecast store", Err: firstErr}
	default:
		return &PartialPersistenceError{
			Written:     written,
			Failed:      len(failedDates),
			FailedDates: failedDates,
			Err:         firstErr,
		}
	}
}

// ListForecasts returns the newest limit forecast days for productID,
// ordered by forecast date descending.
func (o *ForecastOrchestrator) ListForecasts(ctx context.Context, productID string, limit int) ([]models.ForecastDay, error) {
	productID, err := normalizeProductID(productID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	days, err := o.forecasts.RecentForecasts(ctx, productID, limit)
	if err != nil {
		return nil, &UpstreamError{Source: "forecast store", Err: err}
	}
	if days == nil {
		days = []models.ForecastDay{}
	}
	return days, nil
}

// SalesHistory returns the sales of productID ordered by date.
func (o *ForecastOrchestrator) SalesHistory(ctx context.Context, productID string) ([]models.SalesObservation, error) {
	productID, err := normalizeProductID(productID)
	if err != nil {
		return nil, err
	}
	observations, err := o.sales.SalesForProduct(ctx, productID)
	if err != nil {
		return nil, &UpstreamError{Source: "sales store", Err: err}
	}
	sorted := sortedObservations(observations)
	if sorted == nil {
		sorted = []models.SalesObservation{}
	}
	return sorted, nil
}

// NormalizeSales sorts observations by sale date (stable on ties) and
// projects them to date, quantity and revenue.
func NormalizeSales(observations []models.SalesObservation) []models.SalesPoint {
	sorted := sortedObservations(observations)
	points := make([]models.SalesPoint, 0, len(sorted))
	for _, obs := range sorted {
		points = append(points, models.SalesPoint{
			Date:     obs.SaleDate,
			Quantity: obs.QuantitySold,
			Revenue:  obs.Revenue().InexactFloat64(),
		})
	}
	return points
}

func sortedObservations(observations []models.SalesObservation) []models.SalesObservation {
	if observations == nil {
		return nil
	}
	sorted := make([]models.SalesObservation, len(observations))
	copy(sorted, observations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SaleDate.Before(sorted[j].SaleDate)
	})
	return sorted
}

// StoredDays returns the days of a batch that persistence did not report as
// failed. With a nil partial every day is returned.
func StoredDays(days []models.ForecastDay, partial *PartialPersistenceError) []models.ForecastDay {
	if partial == nil || len(partial.FailedDates) == 0 {
		return days
	}
	failed := make(map[civil.Date]bool, len(partial.FailedDates))
	for _, d := range partial.FailedDates {
		failed[d] = true
	}
	out := make([]models.ForecastDay, 0, len(days))
	for _, d := range days {
		if !failed[d.ForecastDate] {
			out = append(out, d)
		}
	}
	return out
}

// normalizeProductID trims surrounding whitespace so reads and writes share
// one key.
func normalizeProductID(productID string) (string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", fmt.Errorf("%w: product_id is required", ErrInvalidRequest)
	}
	return productID, nil
}

func logStage(productID, stage string) {
	log.Printf("[forecast] product=%s stage=%s", productID, stage)
}

func (o *ForecastOrchestrator) fail(productID, stage string, err error) error {
	log.Printf("[forecast] product=%s stage=failed at=%s err=%v", productID, stage, err)
	return err
}
