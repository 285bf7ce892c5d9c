package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Client sends single-turn prompts to a Gemini model.
type Client struct {
	client *genai.Client
	model  string
}

func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Invoke generates a completion for prompt capped at maxTokens output tokens.
func (c *Client) Invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	model := c.client.GenerativeModel(c.model)
	if maxTokens > 0 {
		model.SetMaxOutputTokens(outputTokenLimit(maxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp)
}

func outputTokenLimit(maxTokens int) int32 {
	if maxTokens > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(maxTokens)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return sb.String(), nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
