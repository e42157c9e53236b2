package search

import "context"

type Result struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// Response is one search call: ranked results plus the provider's
// synthesized answer when available.
type Response struct {
	Results []Result
	Answer  string
}

type Provider interface {
	Search(ctx context.Context, query string, maxResults int) (Response, error)
}
