// Package llm provides the title assessment client abstractions and the
// assessor that asks a model to judge product titles.
package llm

import "time"

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderOpenAI is the OpenAI chat completions API (or any compatible endpoint).
	ProviderOpenAI Provider = "openai"
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// Default request parameters for title assessment.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultGeminiModel   = "gemini-2.5-flash-lite"
	DefaultTemperature   = 0.2
	DefaultMaxTokens     = 220
	DefaultTimeout       = 12 * time.Second
)

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig returns the OpenAI configuration used for title assessment.
func DefaultConfig() *Config {
	return &Config{
		Provider:    ProviderOpenAI,
		Model:       DefaultOpenAIModel,
		BaseURL:     DefaultOpenAIBaseURL,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
}

// withDefaults fills zero values from DefaultConfig, keeping the provider's own model default.
func (c *Config) withDefaults() *Config {
	out := *c
	d := DefaultConfig()
	if out.Provider == "" {
		out.Provider = d.Provider
	}
	if out.Model == "" {
		if out.Provider == ProviderGemini {
			out.Model = DefaultGeminiModel
		} else {
			out.Model = d.Model
		}
	}
	if out.BaseURL == "" {
		out.BaseURL = d.BaseURL
	}
	if out.Temperature == 0 {
		out.Temperature = d.Temperature
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = d.MaxTokens
	}
	if out.Timeout == 0 {
		out.Timeout = d.Timeout
	}
	return &out
}
