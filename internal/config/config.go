package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MaxModelTokens caps MODEL_MAX_TOKENS. Provider SDKs take int32 limits.
const MaxModelTokens = 65536

type Config struct {
	Port        string
	Environment string

	StoreBackend     string
	FirestoreProject string
	DatabaseURL      string
	SQLitePath       string

	ModelProvider      string
	GeminiAPIKey       string
	GeminiModel        string
	AzureEndpoint      string
	AzureAPIKey        string
	AzureAPIVersion    string
	AzureDeployment    string
	ModelVersion       string
	ModelMaxTokens     int
	ModelTimeout       time.Duration
	PromptTemplatePath string

	MaxConcurrentGenerations int
	RequestTimeout           time.Duration
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, using environment variables")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		FirestoreProject: getEnv("FIRESTORE_PROJECT_ID", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "data/forecasts.db"),

		ModelProvider:      strings.ToLower(getEnv("MODEL_PROVIDER", "mock")),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-1.5-pro-latest"),
		AzureEndpoint:      getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:        getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureAPIVersion:    getEnv("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		AzureDeployment:    getEnv("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o-mini"),
		ModelVersion:       getEnv("MODEL_VERSION", ""),
		ModelMaxTokens:     getEnvInt("MODEL_MAX_TOKENS", 0),
		ModelTimeout:       time.Duration(getEnvInt("MODEL_TIMEOUT_SECONDS", 90)) * time.Second,
		PromptTemplatePath: getEnv("PROMPT_TEMPLATE_PATH", ""),

		MaxConcurrentGenerations: getEnvInt("MAX_CONCURRENT_GENERATIONS", 4),
		RequestTimeout:           time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 120)) * time.Second,
	}

	return cfg
}

// Validate reports settings missing for the selected store backend and
// model provider.
func (c *Config) Validate() error {
	var missing []string

	switch c.StoreBackend {
	case "memory":
	case "firestore":
		if c.FirestoreProject == "" {
			missing = append(missing, "FIRESTORE_PROJECT_ID")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.ModelProvider {
	case "mock":
		if strings.EqualFold(c.Environment, "production") {
			return fmt.Errorf("MODEL_PROVIDER=mock is not allowed when ENVIRONMENT=production")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case "azure":
		if c.AzureEndpoint == "" {
			missing = append(missing, "AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureAPIKey == "" {
			missing = append(missing, "AZURE_OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown MODEL_PROVIDER %q", c.ModelProvider)
	}

	if c.MaxConcurrentGenerations < 1 {
		return fmt.Errorf("MAX_CONCURRENT_GENERATIONS must be at least 1, got %d", c.MaxConcurrentGenerations)
	}

	switch {
	case c.ModelMaxTokens < 0:
		log.Printf("⚠️  MODEL_MAX_TOKENS=%d is negative, using the prompt default", c.ModelMaxTokens)
		c.ModelMaxTokens = 0
	case c.ModelMaxTokens > MaxModelTokens:
		log.Printf("⚠️  MODEL_MAX_TOKENS=%d exceeds %d, clamping", c.ModelMaxTokens, MaxModelTokens)
		c.ModelMaxTokens = MaxModelTokens
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ResolveModelVersion returns MODEL_VERSION when set. Otherwise it names the
// provider and model in use together with the prompt version, for example
// "gemini/gemini-1.5-pro-latest+forecast-v1".
func (c *Config) ResolveModelVersion(promptVersion string) string {
	if c.ModelVersion != "" {
		return c.ModelVersion
	}

	var model string
	switch c.ModelProvider {
	case "gemini":
		model = "gemini/" + c.GeminiModel
	case "azure":
		model = "azure/" + c.AzureDeployment
	default:
		model = "mock"
	}
	if promptVersion == "" {
		return model
	}
	return model + "+" + promptVersion
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️  %s=%q is not a number, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
