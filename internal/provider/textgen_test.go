package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatAnthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-haiku-4-5", body["model"])
		assert.Equal(t, "sys", body["system"])

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": "hello"}},
		})
	}))
	defer srv.Close()

	g := &HTTPTextGen{Provider: "anthropic", Model: "claude-haiku-4-5", APIKey: "test-key", BaseURL: srv.URL}
	out, err := g.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestChatOpenAICompat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "world"}},
			},
		})
	}))
	defer srv.Close()

	g := &HTTPTextGen{Provider: "openai", Model: "gpt-5", APIKey: "test-key", BaseURL: srv.URL}
	out, err := g.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "world", out)
}

func TestChatRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": "recovered"}},
		})
	}))
	defer srv.Close()

	g := &HTTPTextGen{Provider: "anthropic", Model: "m", APIKey: "k", BaseURL: srv.URL}
	out, err := g.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChatHardFailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := &HTTPTextGen{Provider: "openai", Model: "m", APIKey: "bad", BaseURL: srv.URL}
	_, err := g.Chat(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatUnknownProvider(t *testing.T) {
	g := &HTTPTextGen{Provider: "mystery", Model: "m"}
	_, err := g.Chat(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
