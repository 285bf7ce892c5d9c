package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"

	"inventory-forecast-api/internal/models"
)

const maxForecastDays = 30

var (
	jsonFence    = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n(.*?)```")
	genericFence = regexp.MustCompile("(?s)```[^\\n`]*\\r?\\n(.*?)```")
)

type rawForecastEntry struct {
	Date            *string  `json:"date"`
	PredictedDemand *float64 `json:"predicted_demand"`
	ConfidenceLower *float64 `json:"confidence_lower"`
	ConfidenceUpper *float64 `json:"confidence_upper"`
}

// extractPayload returns the first candidate in the reply that decodes as a
// JSON object: ```json fences, then any fence, then the whole reply.
func extractPayload(reply string) (map[string]json.RawMessage, bool) {
	var candidates []string
	for _, m := range jsonFence.FindAllStringSubmatch(reply, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range genericFence.FindAllStringSubmatch(reply, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, reply)

	for _, c := range candidates {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(c)), &obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

// ParseModelResponse turns a free-text model reply into a forecast batch for
// productID. ModelVersion and CreatedAt are left for persistence to stamp.
func ParseModelResponse(productID, reply string) (*models.ForecastBatch, error) {
	if strings.TrimSpace(reply) == "" {
		return nil, malformed("empty reply")
	}

	payload, ok := extractPayload(reply)
	if !ok {
		return nil, malformed("no JSON object found in reply")
	}

	rawForecasts, ok := payload["forecasts"]
	if !ok || string(rawForecasts) == "null" {
		return nil, malformed("reply has no forecasts field")
	}

	var entries []rawForecastEntry
	if err := json.Unmarshal(rawForecasts, &entries); err != nil {
		return nil, malformed("forecasts is not a list of forecast entries: %v", err)
	}
	if len(entries) == 0 {
		return nil, malformed("forecasts is empty")
	}
	if len(entries) > maxForecastDays {
		return nil, malformed("got %d forecast days, at most %d allowed", len(entries), maxForecastDays)
	}

	var insights string
	if raw, ok := payload["insights"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &insights); err != nil {
			return nil, malformed("insights is not a string")
		}
	}

	batch := &models.ForecastBatch{
		ProductID: productID,
		Days:      make([]models.ForecastDay, 0, len(entries)),
		Insights:  insights,
	}
	seen := make(map[civil.Date]int, len(entries))

	for i, e := range entries {
		switch {
		case e.Date == nil:
			return nil, malformed("forecast %d: missing date", i)
		case e.PredictedDemand == nil:
			return nil, malformed("forecast %d: missing predicted_demand", i)
		case e.ConfidenceLower == nil:
			return nil, malformed("forecast %d: missing confidence_lower", i)
		case e.ConfidenceUpper == nil:
			return nil, malformed("forecast %d: missing confidence_upper", i)
		}

		date, err := civil.ParseDate(strings.TrimSpace(*e.Date))
		if err != nil {
			return nil, malformed("forecast %d: invalid date %q", i, *e.Date)
		}
		if prev, dup := seen[date]; dup {
			return nil, malformed("forecast %d: date %s duplicates forecast %d", i, date, prev)
		}
		seen[date] = i

		lower, predicted, upper := *e.ConfidenceLower, *e.PredictedDemand, *e.ConfidenceUpper
		if lower > predicted || predicted > upper {
			return nil, malformed("forecast %d (%s): interval [%g, %g] does not contain %g", i, date, lower, upper, predicted)
		}

		batch.Days = append(batch.Days, models.ForecastDay{
			ProductID:       productID,
			ForecastDate:    date,
			PredictedDemand: predicted,
			ConfidenceLower: lower,
			ConfidenceUpper: upper,
		})
	}

	return batch, nil
}
