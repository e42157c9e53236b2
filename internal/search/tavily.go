package search

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
	APIKey      string
	BaseURL     string
	SearchDepth string
	Timeout     time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("TAVILY_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		APIKey:      env.String("TAVILY_API_KEY", ""),
		BaseURL:     env.String("TAVILY_BASE_URL", "https://api.tavily.com"),
		SearchDepth: env.String("TAVILY_SEARCH_DEPTH", "basic"),
		Timeout:     timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("TAVILY_API_KEY is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("TAVILY_BASE_URL is required")
	}
	if c.SearchDepth != "basic" && c.SearchDepth != "advanced" {
		return fmt.Errorf("TAVILY_SEARCH_DEPTH must be basic or advanced (got %q)", c.SearchDepth)
	}
	if c.Timeout <= 0 {
		return errors.New("TAVILY_TIMEOUT must be positive")
	}
	return nil
}

// Tavily queries the Tavily web search API.
type Tavily struct {
	cfg    Config
	client *http.Client
}

func NewTavily(cfg Config) (*Tavily, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tavily{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

const (
	maxAttempts    = 4
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) (Response, error) {
	if strings.TrimSpace(query) == "" {
		return Response{}, errors.New("query is required")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:        t.cfg.APIKey,
		Query:         query,
		SearchDepth:   t.cfg.SearchDepth,
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		resp, retryable, err := t.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return Response{}, err
		}
	}
	return Response{}, fmt.Errorf("search failed after %d attempts: %w", maxAttempts, lastErr)
}

func (t *Tavily) doRequest(ctx context.Context, body []byte) (Response, bool, error) {
	url := strings.TrimRight(t.cfg.BaseURL, "/") + "/search"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Response{}, true, fmt.Errorf("search endpoint returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Response{}, false, fmt.Errorf("search endpoint returned %d", resp.StatusCode)
	}

	var decoded tavilyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, false, fmt.Errorf("decode response: %w", err)
	}

	out := Response{Answer: decoded.Answer}
	for _, r := range decoded.Results {
		out.Results = append(out.Results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return out, false, nil
}
