package llm

import "context"

// Request is one chat completion: a system prompt, a user prompt and a
// sampling temperature. Agents never need multi-turn history.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

type Completion struct {
	Text  string
	Usage Usage
}

// Client abstracts the completion backend so agents can be tested with
// canned responses.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}
