package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marketscope-labs/marketscope-go/internal/platform/env"
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("OPENROUTER_TIMEOUT", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		APIKey:  env.String("OPENROUTER_API_KEY", ""),
		BaseURL: env.String("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("OPENROUTER_API_KEY is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("OPENROUTER_BASE_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("OPENROUTER_TIMEOUT must be positive")
	}
	return nil
}

// OpenRouter talks to an OpenAI-compatible chat completions endpoint.
type OpenRouter struct {
	cfg    Config
	client *http.Client
}

func NewOpenRouter(cfg Config) (*OpenRouter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OpenRouter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const (
	maxAttempts      = 5
	initialBackoff   = 1 * time.Second
	maxBackoff       = 30 * time.Second
	backoffMultiples = 2
)

func (o *OpenRouter) Complete(ctx context.Context, req Request) (Completion, error) {
	if strings.TrimSpace(req.Model) == "" {
		return Completion{}, errors.New("model is required")
	}
	if strings.TrimSpace(req.User) == "" {
		return Completion{}, errors.New("user prompt is required")
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal request: %w", err)
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= backoffMultiples
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		completion, retryable, err := o.doRequest(ctx, body)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if !retryable {
			return Completion{}, err
		}
	}
	return Completion{}, fmt.Errorf("completion failed after %d attempts: %w", maxAttempts, lastErr)
}

func (o *OpenRouter) doRequest(ctx context.Context, body []byte) (Completion, bool, error) {
	url := strings.TrimRight(o.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Completion{}, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Completion{}, true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Completion{}, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Completion{}, true, fmt.Errorf("completion endpoint returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Completion{}, false, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Completion{}, false, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return Completion{}, false, fmt.Errorf("completion error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return Completion{}, false, errors.New("completion returned no choices")
	}

	return Completion{
		Text: decoded.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
		},
	}, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
