package workflow

import (
	"context"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
)

// Delta is the only way an executor mutates run state: nil fields are
// left untouched, set fields replace the corresponding section.
type Delta struct {
	Research         *domain.ResearchData
	Analysis         *domain.AnalysisData
	Report           *domain.Report
	Approved         *bool
	ReviewerFeedback *string
}

// Executor performs the work of one stage. It must not touch the
// checkpoint store; persistence belongs to the engine.
type Executor interface {
	Execute(ctx context.Context, run domain.Run) (Delta, error)
}

func apply(run domain.Run, d Delta) domain.Run {
	if d.Research != nil {
		run.Research = d.Research
	}
	if d.Analysis != nil {
		run.Analysis = d.Analysis
	}
	if d.Report != nil {
		run.Report = d.Report
	}
	if d.Approved != nil {
		run.Approved = *d.Approved
	}
	if d.ReviewerFeedback != nil {
		run.ReviewerFeedback = *d.ReviewerFeedback
	}
	return run
}
