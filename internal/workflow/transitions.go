package workflow

import (
	"strings"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
)

type decision struct {
	next         domain.Stage
	forceApprove bool
	revise       bool
	reason       string
}

// stepResult carries what happened during the step that just ran, so
// routing never keys off errors accumulated in earlier steps.
type stepResult struct {
	failed     bool
	overBudget bool
}

// route encodes the transition table. Review decisions are ordered:
// the revision cap wins over an explicit approval, which wins over
// pending feedback; a review that produced neither approves by default.
func route(run domain.Run, maxRevisions int, res stepResult) decision {
	switch run.Stage {
	case domain.StageResearch:
		if res.overBudget || res.failed || run.Research == nil || run.Research.Empty() {
			return decision{next: domain.StageDone, reason: "research_failed"}
		}
		return decision{next: domain.StageAnalysis, reason: "research_complete"}

	case domain.StageAnalysis:
		// Only the budget pre-check ends the run here. An executor
		// failure propagates empty analysis downstream; a partial
		// report is still useful.
		if res.overBudget {
			return decision{next: domain.StageDone, reason: "budget_exceeded"}
		}
		return decision{next: domain.StageWriting, reason: "analysis_complete"}

	case domain.StageWriting:
		// Writing always hands off to review, even after an error; the
		// reviewer sees whatever draft exists.
		return decision{next: domain.StageReview, reason: "draft_ready"}

	case domain.StageReview:
		if run.RevisionCount >= maxRevisions {
			return decision{next: domain.StageDone, reason: "revision_cap"}
		}
		if run.Approved {
			return decision{next: domain.StageDone, reason: "approved"}
		}
		if strings.TrimSpace(run.ReviewerFeedback) != "" {
			return decision{next: domain.StageResearch, revise: true, reason: "revision_requested"}
		}
		return decision{next: domain.StageDone, forceApprove: true, reason: "approved_by_default"}

	default:
		return decision{next: domain.StageDone, reason: "terminal"}
	}
}
