package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// ChatClient calls an OpenAI-compatible /chat/completions endpoint
type ChatClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int

	httpClient *http.Client
}

// NewChatClient creates a chat client. baseURL may already end in /chat/completions.
func NewChatClient(baseURL, apiKey, model string) *ChatClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &ChatClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		MaxRetries: 2,
		httpClient: &http.Client{},
	}
}

func (c *ChatClient) endpoint() string {
	url := strings.TrimRight(c.BaseURL, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

// tokenSchema forces a strict {id, explanation} reply
var tokenSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "token",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":          map[string]any{"type": "string"},
				"explanation": map[string]any{"type": "string"},
			},
			"required":             []string{"id", "explanation"},
			"additionalProperties": false,
		},
	},
}

// Complete sends one system+user exchange and returns the message content.
// 429 and 5xx responses are retried with exponential backoff.
func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	body, err := json.Marshal(map[string]any{
		"model":           c.Model,
		"messages":        messages,
		"response_format": tokenSchema,
	})
	if err != nil {
		return "", err
	}

	url := c.endpoint()
	log.Debug().Str("url", url).Str("model", c.Model).Int("bytes", len(body)).Msg("🤖 LLM request")

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("llm request failed: %w", err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("read llm response: %w", err)
		}

		if resp.StatusCode/100 == 2 {
			content := gjson.GetBytes(raw, "choices.0.message.content")
			if !content.Exists() {
				return "", ErrEmptyCompletion
			}
			return content.String(), nil
		}

		msg := strings.TrimSpace(gjson.GetBytes(raw, "error.message").String())
		if msg == "" {
			msg = resp.Status
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)

		if !retryable(resp.StatusCode) || attempt == c.MaxRetries {
			break
		}

		wait := backoff(attempt, resp.Header.Get("Retry-After"))
		log.Warn().Int("status", resp.StatusCode).Dur("wait", wait).Msg("LLM busy, retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	wait := (800 * time.Millisecond) << attempt
	if wait > 8*time.Second {
		wait = 8 * time.Second
	}
	return wait
}
