// Package oracle asks a hosted LLM to infer an emotion from what the user
// said and to paraphrase companion replies.
package oracle

import (
	"errors"
	"fmt"
	"time"
)

const ProviderGemini = "gemini"

var (
	ErrNoAPIKey    = errors.New("oracle api key not configured")
	ErrNoCandidate = errors.New("oracle returned no content")
)

type Config struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Provider: ProviderGemini,
		Model:    "gemini-2.5-flash-lite",
		BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
		Timeout:  10 * time.Second,
	}
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oracle api error (%d): %s", e.StatusCode, e.Message)
}
