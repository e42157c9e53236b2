package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketscope-labs/marketscope-go/internal/agents"
	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/ledger"
	"github.com/marketscope-labs/marketscope-go/internal/llm"
	"github.com/marketscope-labs/marketscope-go/internal/platform/env"
	"github.com/marketscope-labs/marketscope-go/internal/repo"
	"github.com/marketscope-labs/marketscope-go/internal/search"
	"github.com/marketscope-labs/marketscope-go/internal/storage/objectstore"
	"github.com/marketscope-labs/marketscope-go/internal/workflow"
)

var (
	ErrNotReady       = errors.New("report not ready")
	ErrAlreadyRunning = errors.New("run already in progress")
	ErrNotRunning     = errors.New("run not in progress")
)

type Config struct {
	DefaultModel  string
	BudgetUSD     float64
	MaxRevisions  int
	StageTimeout  time.Duration
	ResearchDepth agents.Depth
}

func ConfigFromEnv() (Config, error) {
	budget, err := env.Float("REPORTD_MAX_BUDGET_USD", 1.0)
	if err != nil {
		return Config{}, err
	}
	maxRevisions, err := env.Int("REPORTD_MAX_REVISIONS", 2)
	if err != nil {
		return Config{}, err
	}
	stageTimeout, err := env.Duration("REPORTD_STAGE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		DefaultModel:  env.String("REPORTD_DEFAULT_MODEL", ledger.DefaultModel),
		BudgetUSD:     budget,
		MaxRevisions:  maxRevisions,
		StageTimeout:  stageTimeout,
		ResearchDepth: agents.Depth(env.String("REPORTD_RESEARCH_DEPTH", string(agents.DepthComprehensive))),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DefaultModel) == "" {
		return errors.New("REPORTD_DEFAULT_MODEL is required")
	}
	if c.BudgetUSD <= 0 {
		return errors.New("REPORTD_MAX_BUDGET_USD must be positive")
	}
	if c.MaxRevisions < 0 {
		return errors.New("REPORTD_MAX_REVISIONS must be >= 0")
	}
	if c.StageTimeout <= 0 {
		return errors.New("REPORTD_STAGE_TIMEOUT must be positive")
	}
	if c.ResearchDepth != agents.DepthBasic && c.ResearchDepth != agents.DepthComprehensive {
		return fmt.Errorf("REPORTD_RESEARCH_DEPTH must be basic or comprehensive (got %q)", c.ResearchDepth)
	}
	return nil
}

type Params struct {
	Logger     *slog.Logger
	Store      repo.CheckpointRepository
	LLM        llm.Client
	Search     search.Provider
	Prices     ledger.PriceTable
	Artifacts  objectstore.Store
	Config     Config
	Transition workflow.TransitionFunc
	Completed  func(ctx context.Context, run domain.Run)
}

// Service owns the lifecycle of report runs: it starts pipelines in
// background goroutines, tracks which runs are live in this process,
// and serves status, results, history and cancellation.
type Service struct {
	logger     *slog.Logger
	store      repo.CheckpointRepository
	llm        llm.Client
	search     search.Provider
	prices     ledger.PriceTable
	artifacts  objectstore.Store
	cfg        Config
	transition workflow.TransitionFunc
	completed  func(ctx context.Context, run domain.Run)

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(p Params) (*Service, error) {
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if p.Store == nil {
		return nil, errors.New("store is required")
	}
	if p.LLM == nil {
		return nil, errors.New("llm client is required")
	}
	if p.Search == nil {
		return nil, errors.New("search provider is required")
	}
	if p.Artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		logger:     p.Logger,
		store:      p.Store,
		llm:        p.LLM,
		search:     p.Search,
		prices:     p.Prices,
		artifacts:  p.Artifacts,
		cfg:        p.Config,
		transition: p.Transition,
		completed:  p.Completed,
		running:    map[string]context.CancelFunc{},
	}, nil
}

type StartParams struct {
	RunID      string
	TargetName string
	Industry   string
	BudgetUSD  float64
	Model      string
}

// Start creates or resumes a run and launches the pipeline in the
// background. It returns the run's state at launch time; a run that
// already finished is returned as-is without relaunching.
func (s *Service) Start(ctx context.Context, p StartParams) (domain.Run, error) {
	target := strings.TrimSpace(p.TargetName)
	id := strings.TrimSpace(p.RunID)
	if id == "" {
		if target == "" {
			return domain.Run{}, errors.New("target_name is required")
		}
		id = uuid.NewString()
	}

	run, err := s.store.Load(ctx, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		if target == "" {
			return domain.Run{}, errors.New("target_name is required")
		}
		run = domain.NewRun(id, target, p.Industry, time.Now())
		if err := s.store.Save(ctx, run); err != nil {
			return domain.Run{}, fmt.Errorf("save initial checkpoint: %w", err)
		}
	case err != nil:
		return domain.Run{}, err
	case run.Done():
		return run, nil
	}

	budget := s.cfg.BudgetUSD
	if p.BudgetUSD > 0 {
		budget = p.BudgetUSD
	}
	model := s.cfg.DefaultModel
	if strings.TrimSpace(p.Model) != "" {
		model = strings.TrimSpace(p.Model)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if _, live := s.running[id]; live {
		s.mu.Unlock()
		cancel()
		return domain.Run{}, ErrAlreadyRunning
	}
	s.running[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		}()
		s.execute(runCtx, run, budget, model)
	}()

	return run, nil
}

func (s *Service) execute(ctx context.Context, run domain.Run, budgetUSD float64, model string) {
	led := ledger.New(s.prices)
	researcher := agents.NewResearcher(s.llm, s.search, led, model, s.cfg.ResearchDepth, s.logger)
	analyst := agents.NewAnalyst(s.llm, led, model, s.logger)
	writer := agents.NewWriter(s.llm, led, model, s.logger)
	reviewer := agents.NewReviewer(s.logger)

	engine, err := workflow.NewEngine(workflow.EngineParams{
		Store: s.store,
		Executors: map[domain.Stage]workflow.Executor{
			domain.StageResearch: researcher,
			domain.StageAnalysis: analyst,
			domain.StageWriting:  writer,
			domain.StageReview:   reviewer,
		},
		Ledger:       led,
		BudgetUSD:    budgetUSD,
		MaxRevisions: s.cfg.MaxRevisions,
		StageTimeout: s.cfg.StageTimeout,
		Logger:       s.logger,
		Transition:   s.transition,
	})
	if err != nil {
		s.logger.Error("engine setup failed", "run_id", run.ID, "error", err.Error())
		return
	}

	final, err := engine.Run(ctx, run)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Info("run cancelled", "run_id", run.ID, "stage", string(final.Stage))
			return
		}
		s.logger.Error("run aborted", "run_id", run.ID, "error", err.Error())
		return
	}

	// The engine's last save has no summary; persist one more time
	// with the per-model breakdown attached.
	finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	final.CostSummary = toDomainSummary(led.Summary())
	if err := s.store.Save(finishCtx, final); err != nil {
		s.logger.Warn("cost summary save failed", "run_id", final.ID, "error", err.Error())
	}

	if final.Report != nil && strings.TrimSpace(final.Report.FullReport) != "" {
		key := artifactKey(final.ID)
		if err := s.artifacts.Put(finishCtx, key, []byte(final.Report.FullReport), "text/markdown"); err != nil {
			s.logger.Warn("artifact upload failed", "run_id", final.ID, "key", key, "error", err.Error())
		} else {
			s.logger.Info("artifact uploaded", "run_id", final.ID, "key", key)
		}
	}

	if s.completed != nil {
		s.completed(finishCtx, final)
	}
	s.logger.Info("run finished",
		"run_id", final.ID,
		"approved", final.Approved,
		"revision_count", final.RevisionCount,
		"cost_usd", final.CostUSD,
		"errors", len(final.Errors),
	)
}

type Status struct {
	Run      domain.Run
	Running  bool
	Progress float64
}

func (s *Service) Status(ctx context.Context, runID string) (Status, error) {
	run, err := s.store.Load(ctx, runID)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	_, live := s.running[run.ID]
	s.mu.Unlock()

	return Status{
		Run:      run,
		Running:  live,
		Progress: progressFor(run),
	}, nil
}

// progressFor never moves backwards across a revision loop: once a run
// has been reviewed, writing a revision still reports the review mark.
func progressFor(run domain.Run) float64 {
	p := run.Stage.Progress()
	if !run.Done() && run.RevisionCount > 0 && p < domain.StageReview.Progress() {
		return domain.StageReview.Progress()
	}
	return p
}

func (s *Service) Result(ctx context.Context, runID string) (domain.Run, error) {
	run, err := s.store.Load(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if !run.Done() {
		return domain.Run{}, ErrNotReady
	}
	return run, nil
}

func (s *Service) History(ctx context.Context, limit int) ([]domain.Run, error) {
	return s.store.List(ctx, limit)
}

// Cancel stops a live run between pipeline steps. The last checkpoint
// stays resumable via Start with the same run_id.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	cancel, live := s.running[strings.TrimSpace(runID)]
	s.mu.Unlock()
	if live {
		cancel()
		return nil
	}

	if _, err := s.store.Load(ctx, runID); err != nil {
		return err
	}
	return ErrNotRunning
}

func (s *Service) Artifact(ctx context.Context, runID string) ([]byte, error) {
	run, err := s.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Done() || run.Report == nil || strings.TrimSpace(run.Report.FullReport) == "" {
		return nil, ErrNotReady
	}
	return s.artifacts.Get(ctx, artifactKey(run.ID))
}

// Shutdown cancels all live runs and waits for their checkpoints to
// land.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func artifactKey(runID string) string {
	return runID + "/report.md"
}

func toDomainSummary(s ledger.Summary) *domain.CostSummary {
	out := &domain.CostSummary{
		TotalCostUSD: s.TotalCostUSD,
		TotalTokens:  s.TotalTokens,
		Calls:        s.Calls,
	}
	for _, b := range s.ByModel {
		out.ByModel = append(out.ByModel, domain.ModelBreakdown{
			Model:        b.Model,
			Calls:        b.Calls,
			InputTokens:  b.InputTokens,
			OutputTokens: b.OutputTokens,
			CostUSD:      b.CostUSD,
		})
	}
	return out
}
