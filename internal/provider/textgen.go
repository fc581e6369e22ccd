package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/specq-dev/specq/internal/ctxlog"
)

// TextGen is a single-turn chat: one system prompt, one user prompt, one text
// response.
type TextGen interface {
	// Name identifies the backend as "provider/model".
	Name() string
	Chat(ctx context.Context, system, user string) (string, error)
}

// endpoints maps provider names to their chat endpoints. Google's embeds the
// model name.
var endpoints = map[string]string{
	"anthropic": "https://api.anthropic.com/v1/messages",
	"openai":    "https://api.openai.com/v1/chat/completions",
	"google":    "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent",
	"glm":       "https://open.bigmodel.cn/api/paas/v4/chat/completions",
	"deepseek":  "https://api.deepseek.com/v1/chat/completions",
}

const maxRetries = 3

// retryStatuses are upstream conditions worth backing off on.
var retryStatuses = map[int]bool{429: true, 500: true, 502: true, 503: true, 529: true}

// HTTPTextGen talks to one hosted provider over its native HTTP API.
type HTTPTextGen struct {
	Provider string
	Model    string
	APIKey   string

	// Client defaults to a 120s-timeout client.
	Client *http.Client

	// BaseURL overrides the provider's endpoint, for tests.
	BaseURL string
}

// Known reports whether provider names a supported backend.
func Known(provider string) bool {
	_, ok := endpoints[provider]
	return ok
}

func (g *HTTPTextGen) Name() string {
	return g.Provider + "/" + g.Model
}

func (g *HTTPTextGen) url() string {
	if g.BaseURL != "" {
		return g.BaseURL
	}
	ep := endpoints[g.Provider]
	if g.Provider == "google" {
		return fmt.Sprintf(ep, g.Model)
	}
	return ep
}

// Chat sends one prompt and returns the response text.
func (g *HTTPTextGen) Chat(ctx context.Context, system, user string) (string, error) {
	switch g.Provider {
	case "anthropic":
		return g.chatAnthropic(ctx, system, user)
	case "google":
		return g.chatGoogle(ctx, system, user)
	default:
		if !Known(g.Provider) {
			return "", fmt.Errorf("unknown provider: %s", g.Provider)
		}
		return g.chatOpenAICompat(ctx, system, user)
	}
}

func (g *HTTPTextGen) chatAnthropic(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"model":      g.Model,
		"max_tokens": 4096,
		"system":     system,
		"messages":   []map[string]string{{"role": "user", "content": user}},
	}
	headers := map[string]string{
		"x-api-key":         g.APIKey,
		"anthropic-version": "2023-06-01",
	}
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := g.post(ctx, headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("%s: empty response", g.Name())
	}
	return resp.Content[0].Text, nil
}

func (g *HTTPTextGen) chatOpenAICompat(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"model": g.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + g.APIKey}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := g.post(ctx, headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: empty response", g.Name())
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *HTTPTextGen) chatGoogle(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"system_instruction": map[string]any{"parts": []map[string]string{{"text": system}}},
		"contents":           []map[string]any{{"parts": []map[string]string{{"text": user}}}},
	}
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	headers := map[string]string{"x-goog-api-key": g.APIKey}
	if err := g.post(ctx, headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%s: empty response", g.Name())
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// post sends one JSON request with backoff on retryable statuses and decodes
// the JSON response into out.
func (g *HTTPTextGen) post(ctx context.Context, headers map[string]string, body, out any) error {
	logger := ctxlog.FromContext(ctx)
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			logger.Debug("Retrying provider call.", "provider", g.Provider, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url(), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if retryStatuses[resp.StatusCode] {
			lastErr = fmt.Errorf("%s: upstream status %d", g.Name(), resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d: %s", g.Name(), resp.StatusCode, truncate(string(raw), 200))
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decoding response: %w", g.Name(), err)
		}
		return nil
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", g.Name(), maxRetries+1, lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
