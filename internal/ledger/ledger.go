package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrBudgetExceeded = errors.New("budget exceeded")

// Usage is one recorded LLM call.
type Usage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         decimal.Decimal
	At           time.Time
}

type ModelBreakdown struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type Summary struct {
	TotalCostUSD float64          `json:"total_cost_usd"`
	TotalTokens  int64            `json:"total_tokens"`
	Calls        int              `json:"calls"`
	ByModel      []ModelBreakdown `json:"by_model"`
}

// Ledger accumulates LLM usage for a single run. Safe for concurrent
// use; cost arithmetic is exact decimal, converted to float only at
// reporting boundaries.
type Ledger struct {
	mu      sync.Mutex
	prices  PriceTable
	history []Usage
	total   decimal.Decimal
	tokens  int64
}

func New(prices PriceTable) *Ledger {
	return &Ledger{prices: prices, total: decimal.Zero}
}

// Record prices one completion and appends it to the history. It never
// rejects a call: budget enforcement happens before dispatch, not after
// the tokens are already spent.
func (l *Ledger) Record(model string, inputTokens, outputTokens int64) decimal.Decimal {
	cost := l.prices.Cost(model, inputTokens, outputTokens)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, Usage{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		At:           time.Now().UTC(),
	})
	l.total = l.total.Add(cost)
	l.tokens += inputTokens + outputTokens
	return cost
}

// AssertWithinBudget fails once accumulated cost strictly exceeds the
// limit. The ceiling is soft: a stage already dispatched may overshoot
// by its own cost, and the next check stops the run.
func (l *Ledger) AssertWithinBudget(limitUSD float64) error {
	l.mu.Lock()
	total := l.total
	l.mu.Unlock()

	limit := decimal.NewFromFloat(limitUSD)
	if total.GreaterThan(limit) {
		return fmt.Errorf("%w: spent $%s of $%s", ErrBudgetExceeded, total.StringFixed(6), limit.StringFixed(2))
	}
	return nil
}

func (l *Ledger) TotalCost() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Snapshot returns the totals in the units the run state carries.
func (l *Ledger) Snapshot() (costUSD float64, tokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, _ := l.total.Float64()
	return f, l.tokens
}

// Summary aggregates the history per model, ordered by first use.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	byModel := make(map[string]*ModelBreakdown)
	order := make([]string, 0, 4)
	costs := make(map[string]decimal.Decimal)
	for _, u := range l.history {
		b, ok := byModel[u.Model]
		if !ok {
			b = &ModelBreakdown{Model: u.Model}
			byModel[u.Model] = b
			order = append(order, u.Model)
			costs[u.Model] = decimal.Zero
		}
		b.Calls++
		b.InputTokens += u.InputTokens
		b.OutputTokens += u.OutputTokens
		costs[u.Model] = costs[u.Model].Add(u.Cost)
	}

	out := Summary{Calls: len(l.history), TotalTokens: l.tokens}
	out.TotalCostUSD, _ = l.total.Float64()
	for _, model := range order {
		b := byModel[model]
		b.CostUSD, _ = costs[model].Float64()
		out.ByModel = append(out.ByModel, *b)
	}
	return out
}
