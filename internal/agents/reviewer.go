package agents

import (
	"context"
	"log/slog"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/workflow"
)

// Reviewer is the review stage placeholder: it approves every draft
// and clears any previous feedback. A human or LLM reviewer slots in
// behind the same Executor interface without touching the routing.
type Reviewer struct {
	logger *slog.Logger
}

func NewReviewer(logger *slog.Logger) *Reviewer {
	return &Reviewer{logger: logger}
}

func (a *Reviewer) Execute(ctx context.Context, run domain.Run) (workflow.Delta, error) {
	a.logger.Info("review auto-approved", "run_id", run.ID, "revision_count", run.RevisionCount)
	approved := true
	feedback := ""
	return workflow.Delta{Approved: &approved, ReviewerFeedback: &feedback}, nil
}
