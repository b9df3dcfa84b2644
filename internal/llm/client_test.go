package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, ProviderOpenAI, config.Provider)
	assert.Equal(t, "gpt-4o-mini", config.Model)
	assert.Equal(t, "https://api.openai.com/v1", config.BaseURL)
	assert.InDelta(t, 0.2, config.Temperature, 1e-6)
	assert.Equal(t, 220, config.MaxTokens)
	assert.Equal(t, DefaultTimeout, config.Timeout)
}

func TestWithDefaults_GeminiModel(t *testing.T) {
	config := (&Config{Provider: ProviderGemini}).withDefaults()
	assert.Equal(t, DefaultGeminiModel, config.Model)

	custom := (&Config{Provider: ProviderGemini, Model: "gemini-2.5-pro"}).withDefaults()
	assert.Equal(t, "gemini-2.5-pro", custom.Model)
}

func TestNewClient(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		client, err := NewClient(context.Background(), &Config{Provider: ProviderOpenAI})
		assert.ErrorIs(t, err, ErrMissingAPIKey)
		assert.Nil(t, client)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := NewClient(context.Background(), &Config{Provider: "llama", APIKey: "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported LLM provider")
	})

	t.Run("openai", func(t *testing.T) {
		client, err := NewClient(context.Background(), &Config{Provider: ProviderOpenAI, APIKey: "k"})
		require.NoError(t, err)
		defer func() { _ = client.Close() }()
		assert.IsType(t, &OpenAIClient{}, client)
		assert.Equal(t, DefaultOpenAIModel, client.Model())
	})
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  \n{\"a\":1}\n ", `{"a":1}`},
		{"inline fence", "```{\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}
