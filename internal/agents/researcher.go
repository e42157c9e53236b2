package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/llm"
	"github.com/marketscope-labs/marketscope-go/internal/search"
	"github.com/marketscope-labs/marketscope-go/internal/workflow"
)

// Depth controls how many results each research sub-query requests.
type Depth string

const (
	DepthBasic         Depth = "basic"
	DepthComprehensive Depth = "comprehensive"
)

type resultBudget struct {
	overview    int
	competitors int
	trends      int
}

func budgetFor(depth Depth) resultBudget {
	if depth == DepthComprehensive {
		return resultBudget{overview: 10, competitors: 10, trends: 8}
	}
	return resultBudget{overview: 5, competitors: 5, trends: 4}
}

// Researcher gathers raw market data through three web searches and
// distills each result set with the LLM.
type Researcher struct {
	base
	provider search.Provider
	depth    Depth
}

func NewResearcher(client llm.Client, provider search.Provider, recorder UsageRecorder, model string, depth Depth, logger *slog.Logger) *Researcher {
	if depth != DepthComprehensive {
		depth = DepthBasic
	}
	return &Researcher{
		base: base{
			name:        "researcher",
			model:       model,
			temperature: 0.3,
			llm:         client,
			recorder:    recorder,
			logger:      logger,
		},
		provider: provider,
		depth:    depth,
	}
}

func (a *Researcher) Execute(ctx context.Context, run domain.Run) (workflow.Delta, error) {
	budget := budgetFor(a.depth)
	data := &domain.ResearchData{}
	searchErrs := 0

	overviewResp, err := a.searchStep(ctx, run.TargetName+" company overview business model products services", budget.overview, data)
	if err != nil {
		searchErrs++
		a.logger.Warn("overview search failed", "run_id", run.ID, "error", err.Error())
	}

	competitorResp, err := a.searchStep(ctx, run.TargetName+" competitors market share competitive landscape", budget.competitors, data)
	if err != nil {
		searchErrs++
		a.logger.Warn("competitor search failed", "run_id", run.ID, "error", err.Error())
	}

	var trendsResp search.Response
	trendsWanted := strings.TrimSpace(run.Industry) != ""
	if trendsWanted {
		trendsResp, err = a.searchStep(ctx, fmt.Sprintf("%s industry market trends %d", run.Industry, time.Now().Year()), budget.trends, data)
		if err != nil {
			searchErrs++
			a.logger.Warn("trends search failed", "run_id", run.ID, "error", err.Error())
		}
	}

	searches := 2
	if trendsWanted {
		searches = 3
	}
	if searchErrs == searches {
		return workflow.Delta{}, errors.New("all research searches failed")
	}

	if len(overviewResp.Results) > 0 || overviewResp.Answer != "" {
		text, err := a.invoke(ctx, researcherSystem, overviewPrompt(run.TargetName, formatResults(overviewResp)))
		if err != nil {
			return workflow.Delta{}, err
		}
		data.CompanyOverview = text
	}
	if len(competitorResp.Results) > 0 || competitorResp.Answer != "" {
		text, err := a.invoke(ctx, researcherSystem, competitorsPrompt(run.TargetName, formatResults(competitorResp)))
		if err != nil {
			return workflow.Delta{}, err
		}
		data.Competitors = text
	}
	if trendsWanted && (len(trendsResp.Results) > 0 || trendsResp.Answer != "") {
		text, err := a.invoke(ctx, researcherSystem, trendsPrompt(run.Industry, formatResults(trendsResp)))
		if err != nil {
			return workflow.Delta{}, err
		}
		data.MarketTrends = text
	}

	return workflow.Delta{Research: data}, nil
}

// searchStep runs one sub-query and folds its results into the
// source list for citation.
func (a *Researcher) searchStep(ctx context.Context, query string, maxResults int, data *domain.ResearchData) (search.Response, error) {
	resp, err := a.provider.Search(ctx, query, maxResults)
	if err != nil {
		return search.Response{}, err
	}
	for _, r := range resp.Results {
		data.Sources = append(data.Sources, domain.SearchSource{
			Title:     r.Title,
			URL:       r.URL,
			Content:   r.Content,
			Relevance: r.Score,
		})
	}
	return resp, nil
}
