package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/marketscope-labs/marketscope-go/internal/llm"
)

// UsageRecorder prices a completed LLM call. The run's cost ledger
// satisfies this.
type UsageRecorder interface {
	Record(model string, inputTokens, outputTokens int64) decimal.Decimal
}

// base carries what every agent needs for an LLM call. Temperature is
// fixed per agent: factual stages run cold, creative stages warmer.
type base struct {
	name        string
	model       string
	temperature float64
	llm         llm.Client
	recorder    UsageRecorder
	logger      *slog.Logger
}

func (b base) invoke(ctx context.Context, system, user string) (string, error) {
	completion, err := b.llm.Complete(ctx, llm.Request{
		Model:       b.model,
		System:      system,
		User:        user,
		Temperature: b.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", b.name, err)
	}

	cost := b.recorder.Record(b.model, completion.Usage.InputTokens, completion.Usage.OutputTokens)
	b.logger.Debug("llm call",
		"agent", b.name,
		"model", b.model,
		"input_tokens", completion.Usage.InputTokens,
		"output_tokens", completion.Usage.OutputTokens,
		"cost_usd", cost.StringFixed(6),
	)
	return completion.Text, nil
}
