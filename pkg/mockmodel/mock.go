package mockmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
)

var (
	todayPattern    = regexp.MustCompile(`Today is (\d{4}-\d{2}-\d{2})`)
	quantityPattern = regexp.MustCompile(`"quantity":(\d+)`)
)

// Client is a deterministic, offline model used for local runs and tests.
// It answers with a flat forecast at the mean quantity found in the prompt.
type Client struct {
	Days int
	Now  func() time.Time
}

func New() *Client {
	return &Client{Days: 30, Now: time.Now}
}

type forecast struct {
	Date            string  `json:"date"`
	PredictedDemand float64 `json:"predicted_demand"`
	ConfidenceLower float64 `json:"confidence_lower"`
	ConfidenceUpper float64 `json:"confidence_upper"`
}

func (c *Client) Invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := civil.DateOf(c.Now())
	if m := todayPattern.FindStringSubmatch(prompt); m != nil {
		if d, err := civil.ParseDate(m[1]); err == nil {
			start = d
		}
	}

	var sum, n float64
	for _, m := range quantityPattern.FindAllStringSubmatch(prompt, -1) {
		q, _ := strconv.ParseFloat(m[1], 64)
		sum += q
		n++
	}
	mean := 0.0
	if n > 0 {
		mean = math.Round(sum/n*100) / 100
	}

	days := make([]forecast, 0, c.Days)
	for i := 0; i < c.Days; i++ {
		days = append(days, forecast{
			Date:            start.AddDays(i).String(),
			PredictedDemand: mean,
			ConfidenceLower: math.Round(mean*0.8*100) / 100,
			ConfidenceUpper: math.Round(mean*1.2*100) / 100,
		})
	}

	payload, err := json.MarshalIndent(map[string]any{
		"forecasts": days,
		"insights":  fmt.Sprintf("mock model: flat demand at the historical mean of %.2f units/day", mean),
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return "Here is the forecast:\n```json\n" + string(payload) + "\n```\n", nil
}
