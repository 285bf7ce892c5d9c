package services

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"text/template"

	"cloud.google.com/go/civil"
	"gopkg.in/yaml.v3"

	"inventory-forecast-api/internal/models"
)

//go:embed prompts/forecast.yaml
var defaultPromptYAML []byte

// DefaultPrompt is the built-in forecast prompt.
var DefaultPrompt = mustParsePromptTemplate(defaultPromptYAML)

// PromptTemplate is the forecast instruction sent to the model.
type PromptTemplate struct {
	Version     string `yaml:"version"`
	HorizonDays int    `yaml:"horizon_days"`
	MaxTokens   int    `yaml:"max_tokens"`
	Template    string `yaml:"template"`

	tmpl *template.Template
}

type promptData struct {
	HorizonDays int
	SalesData   string
	Today       string
}

// LoadPromptTemplate reads a prompt template from path, or the built-in
// template when path is empty.
func LoadPromptTemplate(path string) (*PromptTemplate, error) {
	if path == "" {
		return DefaultPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	return parsePromptTemplate(data)
}

func mustParsePromptTemplate(data []byte) *PromptTemplate {
	pt, err := parsePromptTemplate(data)
	if err != nil {
		panic(err)
	}
	return pt
}

func parsePromptTemplate(data []byte) (*PromptTemplate, error) {
	var pt PromptTemplate
	if err := yaml.Unmarshal(data, &pt); err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	if pt.Template == "" {
		return nil, fmt.Errorf("prompt template: template is empty")
	}
	if pt.HorizonDays <= 0 {
		pt.HorizonDays = 30
	}
	if pt.HorizonDays > maxForecastDays {
		return nil, fmt.Errorf("prompt template: horizon_days %d exceeds %d", pt.HorizonDays, maxForecastDays)
	}
	if pt.MaxTokens <= 0 {
		pt.MaxTokens = 4000
	}

	tmpl, err := template.New("forecast").Option("missingkey=error").Parse(pt.Template)
	if err != nil {
		return nil, fmt.Errorf("compile prompt template: %w", err)
	}
	pt.tmpl = tmpl
	return &pt, nil
}

// Render fills the template with the normalized sales and the anchor date.
func (p *PromptTemplate) Render(points []models.SalesPoint, today civil.Date) (string, error) {
	salesJSON, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("encode sales data: %w", err)
	}

	var buf bytes.Buffer
	err = p.tmpl.Execute(&buf, promptData{
		HorizonDays: p.HorizonDays,
		SalesData:   string(salesJSON),
		Today:       today.String(),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}
