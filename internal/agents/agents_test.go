package agents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/llm"
	"github.com/marketscope-labs/marketscope-go/internal/search"
)

type fakeLLM struct {
	requests []llm.Request
	reply    func(req llm.Request) (llm.Completion, error)
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	f.requests = append(f.requests, req)
	if f.reply != nil {
		return f.reply(req)
	}
	return llm.Completion{
		Text:  "generated text",
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 200},
	}, nil
}

type fakeSearch struct {
	queries []string
	limits  []int
	reply   func(query string) (search.Response, error)
}

func (f *fakeSearch) Search(ctx context.Context, query string, maxResults int) (search.Response, error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, maxResults)
	if f.reply != nil {
		return f.reply(query)
	}
	return search.Response{
		Answer: "synthesized answer",
		Results: []search.Result{
			{Title: "Result", URL: "https://example.com", Content: "content", Score: 0.8},
		},
	}, nil
}

type fakeRecorder struct {
	calls  int
	tokens int64
}

func (f *fakeRecorder) Record(model string, in, out int64) decimal.Decimal {
	f.calls++
	f.tokens += in + out
	return decimal.Zero
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testRun() domain.Run {
	return domain.NewRun("run-1", "Acme Robotics", "industrial automation", time.Now())
}

func TestResearcher_ComprehensiveDepthQueries(t *testing.T) {
	client := &fakeLLM{}
	provider := &fakeSearch{}
	rec := &fakeRecorder{}
	r := NewResearcher(client, provider, rec, "openai/gpt-5-mini", DepthComprehensive, discard())

	delta, err := r.Execute(context.Background(), testRun())
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	if len(provider.queries) != 3 {
		t.Fatalf("queries=%v, want 3 (overview, competitors, trends)", provider.queries)
	}
	if provider.limits[0] != 10 || provider.limits[1] != 10 || provider.limits[2] != 8 {
		t.Fatalf("result limits=%v, want [10 10 8]", provider.limits)
	}
	if !strings.Contains(provider.queries[0], "Acme Robotics") || !strings.Contains(provider.queries[0], "overview") {
		t.Fatalf("overview query=%q", provider.queries[0])
	}
	if !strings.Contains(provider.queries[2], "industrial automation") {
		t.Fatalf("trends query=%q, want industry term", provider.queries[2])
	}

	if delta.Research == nil {
		t.Fatalf("delta has no research data")
	}
	if delta.Research.CompanyOverview == "" || delta.Research.Competitors == "" || delta.Research.MarketTrends == "" {
		t.Fatalf("research sections incomplete: %+v", delta.Research)
	}
	if len(delta.Research.Sources) != 3 {
		t.Fatalf("sources=%d, want one per search", len(delta.Research.Sources))
	}
	if len(client.requests) != 3 {
		t.Fatalf("llm calls=%d, want 3", len(client.requests))
	}
	for _, req := range client.requests {
		if req.Temperature != 0.3 {
			t.Fatalf("researcher temperature=%v, want 0.3", req.Temperature)
		}
		if !strings.Contains(req.User, "synthesized answer") {
			t.Fatalf("prompt should embed the AI answer, got %q", req.User)
		}
	}
	if rec.calls != 3 {
		t.Fatalf("recorder calls=%d, want 3", rec.calls)
	}
}

func TestResearcher_BasicDepthAndNoIndustry(t *testing.T) {
	client := &fakeLLM{}
	provider := &fakeSearch{}
	r := NewResearcher(client, provider, &fakeRecorder{}, "m", DepthBasic, discard())

	run := testRun()
	run.Industry = ""
	delta, err := r.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if len(provider.queries) != 2 {
		t.Fatalf("queries=%v, want 2 without industry", provider.queries)
	}
	if provider.limits[0] != 5 || provider.limits[1] != 5 {
		t.Fatalf("result limits=%v, want [5 5]", provider.limits)
	}
	if delta.Research.MarketTrends != "" {
		t.Fatalf("trends must be empty without an industry")
	}
}

func TestResearcher_AllSearchesFailing(t *testing.T) {
	client := &fakeLLM{}
	provider := &fakeSearch{reply: func(string) (search.Response, error) {
		return search.Response{}, errors.New("tavily unreachable")
	}}
	r := NewResearcher(client, provider, &fakeRecorder{}, "m", DepthBasic, discard())

	if _, err := r.Execute(context.Background(), testRun()); err == nil {
		t.Fatalf("Execute() expected error when every search fails")
	}
	if len(client.requests) != 0 {
		t.Fatalf("no llm calls expected, got %d", len(client.requests))
	}
}

func TestResearcher_PartialSearchFailureTolerated(t *testing.T) {
	client := &fakeLLM{}
	provider := &fakeSearch{reply: func(query string) (search.Response, error) {
		if strings.Contains(query, "competitors") {
			return search.Response{}, errors.New("rate limited")
		}
		return search.Response{Answer: "answer", Results: []search.Result{{Title: "t", URL: "u"}}}, nil
	}}
	r := NewResearcher(client, provider, &fakeRecorder{}, "m", DepthBasic, discard())

	delta, err := r.Execute(context.Background(), testRun())
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if delta.Research.CompanyOverview == "" {
		t.Fatalf("overview should survive a competitor search failure")
	}
	if delta.Research.Competitors != "" {
		t.Fatalf("competitors must stay empty when its search failed")
	}
}

func TestAnalyst_FourSequentialCalls(t *testing.T) {
	client := &fakeLLM{reply: func(req llm.Request) (llm.Completion, error) {
		text := "analysis output"
		if strings.Contains(req.User, "SWOT analysis") {
			text = "the swot content"
		}
		return llm.Completion{Text: text, Usage: llm.Usage{InputTokens: 10, OutputTokens: 10}}, nil
	}}
	a := NewAnalyst(client, &fakeRecorder{}, "m", discard())

	run := testRun()
	run.Research = &domain.ResearchData{CompanyOverview: "overview", Competitors: "rivals"}
	delta, err := a.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}

	if len(client.requests) != 4 {
		t.Fatalf("llm calls=%d, want 4", len(client.requests))
	}
	for _, req := range client.requests {
		if req.Temperature != 0.4 {
			t.Fatalf("analyst temperature=%v, want 0.4", req.Temperature)
		}
	}
	// Recommendations consume the SWOT output, not the raw research.
	last := client.requests[3].User
	if !strings.Contains(last, "the swot content") {
		t.Fatalf("recommendations prompt should embed SWOT, got %q", last)
	}
	if delta.Analysis == nil || delta.Analysis.SWOT != "the swot content" {
		t.Fatalf("analysis delta=%+v", delta.Analysis)
	}
}

func TestAnalyst_RequiresResearch(t *testing.T) {
	a := NewAnalyst(&fakeLLM{}, &fakeRecorder{}, "m", discard())
	if _, err := a.Execute(context.Background(), testRun()); err == nil {
		t.Fatalf("Execute() expected error without research")
	}
}

func TestWriter_ProducesReportWithMetadata(t *testing.T) {
	client := &fakeLLM{reply: func(req llm.Request) (llm.Completion, error) {
		text := "# Full Report"
		if strings.Contains(req.User, "executive summary") {
			text = "the summary"
		}
		return llm.Completion{Text: text, Usage: llm.Usage{InputTokens: 10, OutputTokens: 10}}, nil
	}}
	w := NewWriter(client, &fakeRecorder{}, "openai/gpt-5-mini", discard())
	fixed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	run := testRun()
	run.Research = &domain.ResearchData{
		CompanyOverview: "overview",
		Sources:         []domain.SearchSource{{URL: "a"}, {URL: "b"}},
	}
	run.Analysis = &domain.AnalysisData{SWOT: "swot", Recommendations: "recs"}

	delta, err := w.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if len(client.requests) != 2 {
		t.Fatalf("llm calls=%d, want 2 (summary then report)", len(client.requests))
	}
	for _, req := range client.requests {
		if req.Temperature != 0.6 {
			t.Fatalf("writer temperature=%v, want 0.6", req.Temperature)
		}
	}

	r := delta.Report
	if r == nil || r.ExecutiveSummary != "the summary" || r.FullReport != "# Full Report" {
		t.Fatalf("report=%+v", r)
	}
	if r.Metadata.TargetName != "Acme Robotics" || r.Metadata.SourceCount != 2 {
		t.Fatalf("metadata=%+v", r.Metadata)
	}
	if !r.Metadata.GeneratedAt.Equal(fixed) {
		t.Fatalf("generated_at=%v, want %v", r.Metadata.GeneratedAt, fixed)
	}
	if r.Metadata.Model != "openai/gpt-5-mini" {
		t.Fatalf("metadata model=%q", r.Metadata.Model)
	}
}

func TestWriter_RevisionIncludesFeedback(t *testing.T) {
	client := &fakeLLM{}
	w := NewWriter(client, &fakeRecorder{}, "m", discard())

	run := testRun()
	run.Analysis = &domain.AnalysisData{SWOT: "swot"}
	run.ReviewerFeedback = "expand the competitive section"

	if _, err := w.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	reportReq := client.requests[1].User
	if !strings.Contains(reportReq, "expand the competitive section") {
		t.Fatalf("revision prompt missing feedback: %q", reportReq)
	}
}

func TestWriter_RequiresAnalysis(t *testing.T) {
	w := NewWriter(&fakeLLM{}, &fakeRecorder{}, "m", discard())
	if _, err := w.Execute(context.Background(), testRun()); err == nil {
		t.Fatalf("Execute() expected error without analysis")
	}
}

func TestReviewer_ApprovesAndClearsFeedback(t *testing.T) {
	r := NewReviewer(discard())
	run := testRun()
	run.ReviewerFeedback = "old feedback"

	delta, err := r.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if delta.Approved == nil || !*delta.Approved {
		t.Fatalf("reviewer must approve, got %+v", delta.Approved)
	}
	if delta.ReviewerFeedback == nil || *delta.ReviewerFeedback != "" {
		t.Fatalf("reviewer must clear feedback, got %+v", delta.ReviewerFeedback)
	}
}

func TestFormatResults(t *testing.T) {
	resp := search.Response{
		Answer: "the answer",
		Results: []search.Result{
			{Title: "First", URL: "https://a.example", Content: strings.Repeat("x", 600), Score: 0.95},
		},
	}
	got := formatResults(resp)
	if !strings.HasPrefix(got, "AI Answer: the answer") {
		t.Fatalf("formatted results should lead with the answer: %q", got)
	}
	if !strings.Contains(got, "[1] First") || !strings.Contains(got, "URL: https://a.example") {
		t.Fatalf("missing citation fields: %q", got)
	}
	if !strings.Contains(got, "Relevance: 0.95") {
		t.Fatalf("missing relevance: %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Fatalf("long content should be truncated")
	}
}
