package agents

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/llm"
	"github.com/marketscope-labs/marketscope-go/internal/workflow"
)

// Analyst turns research into four analysis artifacts. The
// recommendations call consumes the SWOT output, so the calls are
// strictly sequential.
type Analyst struct {
	base
}

func NewAnalyst(client llm.Client, recorder UsageRecorder, model string, logger *slog.Logger) *Analyst {
	return &Analyst{
		base: base{
			name:        "analyst",
			model:       model,
			temperature: 0.4,
			llm:         client,
			recorder:    recorder,
			logger:      logger,
		},
	}
}

func (a *Analyst) Execute(ctx context.Context, run domain.Run) (workflow.Delta, error) {
	if run.Research == nil || run.Research.Empty() {
		return workflow.Delta{}, errors.New("no research data to analyze")
	}
	research := researchContext(run.Research)

	swot, err := a.invoke(ctx, analystSystem, swotPrompt(run.TargetName, research))
	if err != nil {
		return workflow.Delta{}, err
	}
	matrix, err := a.invoke(ctx, analystSystem, matrixPrompt(run.TargetName, research))
	if err != nil {
		return workflow.Delta{}, err
	}
	positioning, err := a.invoke(ctx, analystSystem, positioningPrompt(run.TargetName, research))
	if err != nil {
		return workflow.Delta{}, err
	}
	recommendations, err := a.invoke(ctx, analystSystem, recommendationsPrompt(run.TargetName, swot))
	if err != nil {
		return workflow.Delta{}, err
	}

	return workflow.Delta{Analysis: &domain.AnalysisData{
		SWOT:              swot,
		CompetitiveMatrix: matrix,
		Positioning:       positioning,
		Recommendations:   recommendations,
	}}, nil
}

func researchContext(r *domain.ResearchData) string {
	var b strings.Builder
	if strings.TrimSpace(r.CompanyOverview) != "" {
		b.WriteString("## Company Overview\n")
		b.WriteString(r.CompanyOverview)
		b.WriteString("\n\n")
	}
	if strings.TrimSpace(r.Competitors) != "" {
		b.WriteString("## Competitors\n")
		b.WriteString(r.Competitors)
		b.WriteString("\n\n")
	}
	if strings.TrimSpace(r.MarketTrends) != "" {
		b.WriteString("## Market Trends\n")
		b.WriteString(r.MarketTrends)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
