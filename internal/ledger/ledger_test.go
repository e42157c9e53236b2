package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPriceTableLookup_FallsBackToDefault(t *testing.T) {
	table := DefaultPrices()
	known := table.Lookup("openai/gpt-5-nano")
	if known.InputPerMTok.IsZero() {
		t.Fatalf("known model should have a price")
	}
	unknown := table.Lookup("someone/brand-new-model")
	fallback := table.Lookup(DefaultModel)
	if !unknown.InputPerMTok.Equal(fallback.InputPerMTok) || !unknown.OutputPerMTok.Equal(fallback.OutputPerMTok) {
		t.Fatalf("unknown model should price as %s", DefaultModel)
	}
}

func TestPriceTableCost(t *testing.T) {
	table := DefaultPrices()
	// gpt-5-mini: $0.25/M in, $2.00/M out.
	got := table.Cost("openai/gpt-5-mini", 1_000_000, 500_000)
	want := decimal.RequireFromString("1.25")
	if !got.Equal(want) {
		t.Fatalf("Cost()=%s, want %s", got, want)
	}

	free := table.Cost("meta-llama/llama-3.3-70b-instruct:free", 2_000_000, 2_000_000)
	if !free.IsZero() {
		t.Fatalf("free tier cost=%s, want 0", free)
	}
}

func TestLedgerRecordAccumulates(t *testing.T) {
	l := New(DefaultPrices())
	l.Record("openai/gpt-5-mini", 1_000_000, 0)
	l.Record("openai/gpt-5-mini", 0, 1_000_000)

	if got := l.TotalCost(); !got.Equal(decimal.RequireFromString("2.25")) {
		t.Fatalf("TotalCost()=%s, want 2.25", got)
	}
	cost, tokens := l.Snapshot()
	if cost != 2.25 {
		t.Fatalf("Snapshot() cost=%v, want 2.25", cost)
	}
	if tokens != 2_000_000 {
		t.Fatalf("Snapshot() tokens=%v, want 2000000", tokens)
	}
}

func TestLedgerBudget_StrictlyGreaterFails(t *testing.T) {
	l := New(DefaultPrices())
	l.Record("openai/gpt-5-mini", 1_000_000, 0) // exactly $0.25

	if err := l.AssertWithinBudget(0.25); err != nil {
		t.Fatalf("spend equal to budget must pass, got %v", err)
	}
	if err := l.AssertWithinBudget(0.24); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("AssertWithinBudget() err=%v, want ErrBudgetExceeded", err)
	}
}

func TestLedgerSummary_PerModel(t *testing.T) {
	l := New(DefaultPrices())
	l.Record("openai/gpt-5-mini", 100, 200)
	l.Record("google/gemini-2.5-pro", 300, 400)
	l.Record("openai/gpt-5-mini", 50, 50)

	s := l.Summary()
	if s.Calls != 3 {
		t.Fatalf("Summary().Calls=%d, want 3", s.Calls)
	}
	if s.TotalTokens != 1100 {
		t.Fatalf("Summary().TotalTokens=%d, want 1100", s.TotalTokens)
	}
	if len(s.ByModel) != 2 {
		t.Fatalf("Summary().ByModel len=%d, want 2", len(s.ByModel))
	}
	if s.ByModel[0].Model != "openai/gpt-5-mini" || s.ByModel[0].Calls != 2 {
		t.Fatalf("first model breakdown=%+v, want gpt-5-mini with 2 calls", s.ByModel[0])
	}
	if s.ByModel[0].InputTokens != 150 || s.ByModel[0].OutputTokens != 250 {
		t.Fatalf("gpt-5-mini tokens=%+v", s.ByModel[0])
	}
}

func TestLoadPrices_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `models:
  openai/gpt-5-mini:
    input_per_mtok: "0.50"
    output_per_mtok: "4.00"
  acme/custom-model:
    input_per_mtok: "1.00"
    output_per_mtok: "2.00"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write pricing file: %v", err)
	}

	table, err := LoadPrices(path)
	if err != nil {
		t.Fatalf("LoadPrices() err=%v", err)
	}
	if got := table.Lookup("openai/gpt-5-mini").InputPerMTok; !got.Equal(decimal.RequireFromString("0.50")) {
		t.Fatalf("override input price=%s, want 0.50", got)
	}
	if got := table.Lookup("acme/custom-model").OutputPerMTok; !got.Equal(decimal.RequireFromString("2.00")) {
		t.Fatalf("new model output price=%s, want 2.00", got)
	}
	// Models absent from the file keep their defaults.
	if got := table.Lookup("openai/gpt-5-nano").InputPerMTok; !got.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("default price lost after override load: %s", got)
	}
}

func TestLoadPrices_EmptyPathUsesDefaults(t *testing.T) {
	table, err := LoadPrices("")
	if err != nil {
		t.Fatalf("LoadPrices() err=%v", err)
	}
	if got := table.Lookup(DefaultModel).OutputPerMTok; !got.Equal(decimal.RequireFromString("2.00")) {
		t.Fatalf("defaults not loaded: %s", got)
	}
}

func TestLoadPrices_NegativeRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `models:
  acme/bad:
    input_per_mtok: "-1"
    output_per_mtok: "0"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write pricing file: %v", err)
	}
	if _, err := LoadPrices(path); err == nil {
		t.Fatalf("LoadPrices() expected error for negative price")
	}
}
