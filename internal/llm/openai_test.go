package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, content string, inspect func(*http.Request, chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if inspect != nil {
			inspect(r, req)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestOpenAIClient_GenerateJSON(t *testing.T) {
	var gotPath, gotAuth string
	var got chatRequest
	srv := chatServer(t, http.StatusOK, `{"name_quality":"ok","suggested_title":null}`, func(r *http.Request, req chatRequest) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		got = req
	})
	defer srv.Close()

	client := NewOpenAIClient(&Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, nil)
	text, err := client.GenerateJSON(context.Background(), SystemPrompt, "judge this")
	require.NoError(t, err)

	assert.JSONEq(t, `{"name_quality":"ok","suggested_title":null}`, text)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, DefaultOpenAIModel, got.Model)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
	assert.InDelta(t, 0.2, got.Temperature, 1e-6)
	assert.Equal(t, 220, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, SystemPrompt, got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "judge this", got.Messages[1].Content)
}

func TestOpenAIClient_StripsCodeFence(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "```json\n{\"name_quality\":\"weak\"}\n```", nil)
	defer srv.Close()

	client := NewOpenAIClient(&Config{APIKey: "k", BaseURL: srv.URL}, nil)
	text, err := client.GenerateJSON(context.Background(), "s", "p")
	require.NoError(t, err)
	assert.Equal(t, `{"name_quality":"weak"}`, text)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := chatServer(t, http.StatusInternalServerError, "", nil)
	defer srv.Close()

	client := NewOpenAIClient(&Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := client.GenerateJSON(context.Background(), "s", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}

func TestOpenAIClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewOpenAIClient(&Config{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := client.GenerateJSON(context.Background(), "s", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(&Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := client.GenerateJSON(context.Background(), "s", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	client := NewOpenAIClient(&Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := client.GenerateJSON(context.Background(), "s", "p")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
