package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/ledger"
	"github.com/marketscope-labs/marketscope-go/internal/repo"
)

// TransitionFunc observes stage transitions, typically for audit rows.
// Failures are logged and never fail the run.
type TransitionFunc func(ctx context.Context, run domain.Run, from, to domain.Stage, reason string) error

type Engine struct {
	store        repo.CheckpointRepository
	executors    map[domain.Stage]Executor
	ledger       *ledger.Ledger
	budgetUSD    float64
	maxRevisions int
	stageTimeout time.Duration
	logger       *slog.Logger
	transition   TransitionFunc
}

type EngineParams struct {
	Store        repo.CheckpointRepository
	Executors    map[domain.Stage]Executor
	Ledger       *ledger.Ledger
	BudgetUSD    float64
	MaxRevisions int
	StageTimeout time.Duration
	Logger       *slog.Logger
	Transition   TransitionFunc
}

func NewEngine(p EngineParams) (*Engine, error) {
	if p.Store == nil {
		return nil, errors.New("store is required")
	}
	if p.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if p.BudgetUSD <= 0 {
		return nil, errors.New("budget must be positive")
	}
	if p.MaxRevisions < 0 {
		return nil, errors.New("max revisions must be >= 0")
	}
	for _, stage := range []domain.Stage{domain.StageResearch, domain.StageAnalysis, domain.StageWriting, domain.StageReview} {
		if p.Executors[stage] == nil {
			return nil, fmt.Errorf("executor for stage %s is required", stage)
		}
	}
	return &Engine{
		store:        p.Store,
		executors:    p.Executors,
		ledger:       p.Ledger,
		budgetUSD:    p.BudgetUSD,
		maxRevisions: p.MaxRevisions,
		stageTimeout: p.StageTimeout,
		logger:       p.Logger,
		transition:   p.Transition,
	}, nil
}

// Run drives the pipeline from the run's current stage to done,
// checkpointing after every step. It is safe to call on a resumed run:
// a terminal run is returned unchanged, a mid-pipeline run continues
// from its checkpoint. The returned run is the last persisted state.
func (e *Engine) Run(ctx context.Context, run domain.Run) (domain.Run, error) {
	if err := run.Validate(); err != nil {
		return run, err
	}
	if run.Done() {
		return run, nil
	}

	// A resumed run keeps the spend already checkpointed; the fresh
	// ledger only adds to it.
	baseCost := run.CostUSD
	baseTokens := run.TokensTotal

	for !run.Done() {
		if err := ctx.Err(); err != nil {
			// Cancelled between steps. The last checkpoint stays
			// resumable.
			return run, err
		}

		stepped, err := e.step(ctx, run, baseCost, baseTokens)
		if err != nil {
			// Cancelled mid-stage. The stage's partial work is
			// discarded; the previous checkpoint resumes it.
			return run, err
		}
		run = stepped

		if err := e.store.Save(ctx, run); err != nil {
			return run, fmt.Errorf("save checkpoint for run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func (e *Engine) step(ctx context.Context, run domain.Run, baseCost float64, baseTokens int64) (domain.Run, error) {
	stage := run.Stage
	e.logger.Info("stage starting",
		"run_id", run.ID,
		"stage", string(stage),
		"iteration", run.Iteration,
		"revision_count", run.RevisionCount,
	)

	if stage == domain.StageResearch {
		run.Iteration++
	}

	var delta Delta
	var res stepResult
	if budgetErr := e.budgetCheck(stage, baseCost); budgetErr != nil {
		res.overBudget = true
		run.Errors = append(run.Errors, fmt.Sprintf("%s skipped: %v", stage, budgetErr))
		e.logger.Warn("budget exceeded, stage skipped", "run_id", run.ID, "stage", string(stage), "error", budgetErr.Error())
	} else {
		stageCtx := ctx
		if e.stageTimeout > 0 {
			var cancel context.CancelFunc
			stageCtx, cancel = context.WithTimeout(ctx, e.stageTimeout)
			defer cancel()
		}

		var err error
		delta, err = e.executors[stage].Execute(stageCtx, run)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return run, ctxErr
			}
			res.failed = true
			run.Errors = append(run.Errors, fmt.Sprintf("%s failed: %v", stage, err))
			e.logger.Error("stage failed", "run_id", run.ID, "stage", string(stage), "error", err.Error())
		}
	}

	run = apply(run, delta)
	cost, tokens := e.ledger.Snapshot()
	run.CostUSD = baseCost + cost
	run.TokensTotal = baseTokens + tokens

	d := route(run, e.maxRevisions, res)
	if d.forceApprove {
		run.Approved = true
	}
	if d.revise {
		run.RevisionCount++
	}
	run.Stage = d.next
	run.UpdatedAt = time.Now().UTC()

	e.logger.Info("stage finished",
		"run_id", run.ID,
		"from", string(stage),
		"to", string(run.Stage),
		"reason", d.reason,
		"cost_usd", run.CostUSD,
	)

	if e.transition != nil {
		if err := e.transition(ctx, run, stage, run.Stage, d.reason); err != nil {
			e.logger.Warn("transition hook failed", "run_id", run.ID, "error", err.Error())
		}
	}
	return run, nil
}

// budgetCheck guards stages that spend tokens. Review costs nothing
// and always runs so a run over budget can still settle its outcome.
func (e *Engine) budgetCheck(stage domain.Stage, baseCost float64) error {
	switch stage {
	case domain.StageResearch, domain.StageAnalysis, domain.StageWriting:
		return e.ledger.AssertWithinBudget(e.budgetUSD - baseCost)
	default:
		return nil
	}
}
