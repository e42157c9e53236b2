package domain

import (
	"errors"
	"strings"
	"time"
)

// Stage is the pipeline position of a report run. A run always moves
// forward through research, analysis and writing; review may loop back
// to writing while revisions remain.
type Stage string

const (
	StageResearch Stage = "research"
	StageAnalysis Stage = "analysis"
	StageWriting  Stage = "writing"
	StageReview   Stage = "human_review"
	StageDone     Stage = "done"
)

func NormalizeStage(raw string) (Stage, error) {
	switch Stage(strings.ToLower(strings.TrimSpace(raw))) {
	case StageResearch:
		return StageResearch, nil
	case StageAnalysis:
		return StageAnalysis, nil
	case StageWriting:
		return StageWriting, nil
	case StageReview:
		return StageReview, nil
	case StageDone:
		return StageDone, nil
	default:
		return "", errors.New("unknown stage: " + raw)
	}
}

func (s Stage) Terminal() bool {
	return s == StageDone
}

// Progress maps each stage to a completion fraction. The mapping is
// monotone along every legal path, including review loops back to
// writing (status reporting clamps to the furthest point reached).
func (s Stage) Progress() float64 {
	switch s {
	case StageResearch:
		return 0.2
	case StageAnalysis:
		return 0.5
	case StageWriting:
		return 0.8
	case StageReview:
		return 0.9
	case StageDone:
		return 1.0
	default:
		return 0
	}
}

// SearchSource is one retrieved document reference kept for citation.
type SearchSource struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Content   string  `json:"content,omitempty"`
	Relevance float64 `json:"relevance"`
}

type ResearchData struct {
	CompanyOverview string         `json:"company_overview,omitempty"`
	Competitors     string         `json:"competitors,omitempty"`
	MarketTrends    string         `json:"market_trends,omitempty"`
	Sources         []SearchSource `json:"sources,omitempty"`
}

func (r ResearchData) Empty() bool {
	return strings.TrimSpace(r.CompanyOverview) == "" &&
		strings.TrimSpace(r.Competitors) == "" &&
		strings.TrimSpace(r.MarketTrends) == ""
}

type AnalysisData struct {
	SWOT              string `json:"swot,omitempty"`
	CompetitiveMatrix string `json:"competitive_matrix,omitempty"`
	Positioning       string `json:"positioning,omitempty"`
	Recommendations   string `json:"recommendations,omitempty"`
}

type ReportMetadata struct {
	TargetName  string    `json:"target_name"`
	Industry    string    `json:"industry,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	SourceCount int       `json:"source_count"`
	Model       string    `json:"model"`
}

type Report struct {
	ExecutiveSummary string         `json:"executive_summary,omitempty"`
	FullReport       string         `json:"full_report,omitempty"`
	Metadata         ReportMetadata `json:"metadata"`
}

// CostSummary is the per-model spend breakdown attached to a finished
// run.
type CostSummary struct {
	TotalCostUSD float64          `json:"total_cost_usd"`
	TotalTokens  int64            `json:"total_tokens"`
	Calls        int              `json:"calls"`
	ByModel      []ModelBreakdown `json:"by_model,omitempty"`
}

type ModelBreakdown struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Run is the full pipeline state for one report. It is the unit of
// checkpointing: everything needed to resume lives here.
type Run struct {
	ID         string `json:"run_id"`
	TargetName string `json:"target_name"`
	Industry   string `json:"industry,omitempty"`

	Stage         Stage `json:"stage"`
	Iteration     int   `json:"iteration"`
	RevisionCount int   `json:"revision_count"`

	Research *ResearchData `json:"research,omitempty"`
	Analysis *AnalysisData `json:"analysis,omitempty"`
	Report   *Report       `json:"report,omitempty"`

	Errors      []string     `json:"errors,omitempty"`
	CostUSD     float64      `json:"cost_usd"`
	TokensTotal int64        `json:"tokens_total"`
	CostSummary *CostSummary `json:"cost_summary,omitempty"`

	Approved         bool   `json:"approved"`
	ReviewerFeedback string `json:"reviewer_feedback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewRun(id, targetName, industry string, now time.Time) Run {
	return Run{
		ID:         strings.TrimSpace(id),
		TargetName: strings.TrimSpace(targetName),
		Industry:   strings.TrimSpace(industry),
		Stage:      StageResearch,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run_id is required")
	}
	if strings.TrimSpace(r.TargetName) == "" {
		return errors.New("target_name is required")
	}
	if _, err := NormalizeStage(string(r.Stage)); err != nil {
		return err
	}
	if r.Iteration < 0 {
		return errors.New("iteration must be >= 0")
	}
	if r.RevisionCount < 0 {
		return errors.New("revision_count must be >= 0")
	}
	if r.CostUSD < 0 {
		return errors.New("cost_usd must be >= 0")
	}
	if r.TokensTotal < 0 {
		return errors.New("tokens_total must be >= 0")
	}
	return nil
}

func (r Run) Done() bool {
	return r.Stage.Terminal()
}

// Failed reports whether the run ended without a usable report.
func (r Run) Failed() bool {
	return r.Done() && (r.Report == nil || strings.TrimSpace(r.Report.FullReport) == "")
}
