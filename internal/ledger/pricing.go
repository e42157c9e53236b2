package ledger

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultModel prices any model missing from the table. Unknown models
// are billed rather than treated as free.
const DefaultModel = "openai/gpt-5-mini"

// Price is USD per million tokens, split by direction.
type Price struct {
	InputPerMTok  decimal.Decimal
	OutputPerMTok decimal.Decimal
}

type PriceTable struct {
	models map[string]Price
}

var million = decimal.NewFromInt(1_000_000)

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func DefaultPrices() PriceTable {
	return PriceTable{models: map[string]Price{
		"meta-llama/llama-3.3-70b-instruct:free": {InputPerMTok: decimal.Zero, OutputPerMTok: decimal.Zero},
		"openai/gpt-5-nano":                      {InputPerMTok: usd("0.05"), OutputPerMTok: usd("0.40")},
		"openai/gpt-5-mini":                      {InputPerMTok: usd("0.25"), OutputPerMTok: usd("2.00")},
		"google/gemini-2.5-flash-lite":           {InputPerMTok: usd("0.10"), OutputPerMTok: usd("0.40")},
		"google/gemini-2.5-pro":                  {InputPerMTok: usd("1.25"), OutputPerMTok: usd("10.00")},
		"anthropic/claude-sonnet-4":              {InputPerMTok: usd("3.00"), OutputPerMTok: usd("15.00")},
	}}
}

func (t PriceTable) Lookup(model string) Price {
	if p, ok := t.models[model]; ok {
		return p
	}
	return t.models[DefaultModel]
}

// Cost computes the USD cost of one completion under this table.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int64) decimal.Decimal {
	p := t.Lookup(model)
	in := p.InputPerMTok.Mul(decimal.NewFromInt(inputTokens)).Div(million)
	out := p.OutputPerMTok.Mul(decimal.NewFromInt(outputTokens)).Div(million)
	return in.Add(out)
}

type priceFile struct {
	Models map[string]struct {
		InputPerMTok  string `yaml:"input_per_mtok"`
		OutputPerMTok string `yaml:"output_per_mtok"`
	} `yaml:"models"`
}

// LoadPrices merges per-model overrides from a YAML file over the
// defaults. A missing path returns the defaults unchanged.
func LoadPrices(path string) (PriceTable, error) {
	table := DefaultPrices()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return PriceTable{}, fmt.Errorf("read pricing file: %w", err)
	}

	var f priceFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return PriceTable{}, fmt.Errorf("parse pricing file: %w", err)
	}

	for model, entry := range f.Models {
		in, err := decimal.NewFromString(entry.InputPerMTok)
		if err != nil {
			return PriceTable{}, fmt.Errorf("pricing for %s: input_per_mtok: %w", model, err)
		}
		out, err := decimal.NewFromString(entry.OutputPerMTok)
		if err != nil {
			return PriceTable{}, fmt.Errorf("pricing for %s: output_per_mtok: %w", model, err)
		}
		if in.IsNegative() || out.IsNegative() {
			return PriceTable{}, fmt.Errorf("pricing for %s must be non-negative", model)
		}
		table.models[model] = Price{InputPerMTok: in, OutputPerMTok: out}
	}
	return table, nil
}
