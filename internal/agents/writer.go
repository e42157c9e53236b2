package agents

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/llm"
	"github.com/marketscope-labs/marketscope-go/internal/workflow"
)

// Writer drafts the report: executive summary first, then the full
// markdown document. On a revision pass the reviewer's feedback is
// folded into the prompt.
type Writer struct {
	base
	now func() time.Time
}

func NewWriter(client llm.Client, recorder UsageRecorder, model string, logger *slog.Logger) *Writer {
	return &Writer{
		base: base{
			name:        "writer",
			model:       model,
			temperature: 0.6,
			llm:         client,
			recorder:    recorder,
			logger:      logger,
		},
		now: time.Now,
	}
}

func (a *Writer) Execute(ctx context.Context, run domain.Run) (workflow.Delta, error) {
	if run.Analysis == nil {
		return workflow.Delta{}, errors.New("no analysis data to write from")
	}

	research := ""
	sourceCount := 0
	if run.Research != nil {
		research = researchContext(run.Research)
		sourceCount = len(run.Research.Sources)
	}
	analysis := analysisContext(run.Analysis)

	summary, err := a.invoke(ctx, writerSystem, summaryPrompt(run.TargetName, analysis))
	if err != nil {
		return workflow.Delta{}, err
	}

	full, err := a.invoke(ctx, writerSystem, reportPrompt(run.TargetName, run.Industry, research, analysis, summary, run.ReviewerFeedback))
	if err != nil {
		return workflow.Delta{}, err
	}

	return workflow.Delta{Report: &domain.Report{
		ExecutiveSummary: summary,
		FullReport:       full,
		Metadata: domain.ReportMetadata{
			TargetName:  run.TargetName,
			Industry:    run.Industry,
			GeneratedAt: a.now().UTC(),
			SourceCount: sourceCount,
			Model:       a.model,
		},
	}}, nil
}

func analysisContext(a *domain.AnalysisData) string {
	var b strings.Builder
	sections := []struct {
		title string
		text  string
	}{
		{"SWOT", a.SWOT},
		{"Competitive Matrix", a.CompetitiveMatrix},
		{"Positioning", a.Positioning},
		{"Recommendations", a.Recommendations},
	}
	for _, s := range sections {
		if strings.TrimSpace(s.text) == "" {
			continue
		}
		b.WriteString("## ")
		b.WriteString(s.title)
		b.WriteString("\n")
		b.WriteString(s.text)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
