package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/repo"
	"github.com/marketscope-labs/marketscope-go/internal/service/reports"
)

type reportsAPI struct {
	logger *slog.Logger
	svc    *reports.Service
}

func newReportsAPI(logger *slog.Logger, svc *reports.Service) *reportsAPI {
	return &reportsAPI{logger: logger, svc: svc}
}

func (api *reportsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /reports", api.handleStartReport)
	mux.HandleFunc("GET /reports", api.handleListReports)
	mux.HandleFunc("GET /reports/{run_id}", api.handleGetReport)
	mux.HandleFunc("GET /reports/{run_id}/status", api.handleGetStatus)
	mux.HandleFunc("GET /reports/{run_id}/artifact", api.handleGetArtifact)
	mux.HandleFunc("POST /reports/{run_id}/cancel", api.handleCancelReport)
}

type startReportRequest struct {
	RunID      string  `json:"run_id,omitempty"`
	TargetName string  `json:"target_name,omitempty"`
	Industry   string  `json:"industry,omitempty"`
	BudgetUSD  float64 `json:"budget_usd,omitempty"`
	Model      string  `json:"model,omitempty"`
}

type runSummary struct {
	RunID         string    `json:"run_id"`
	TargetName    string    `json:"target_name"`
	Industry      string    `json:"industry,omitempty"`
	Stage         string    `json:"stage"`
	Iteration     int       `json:"iteration"`
	RevisionCount int       `json:"revision_count"`
	Approved      bool      `json:"approved"`
	CostUSD       float64   `json:"cost_usd"`
	TokensTotal   int64     `json:"tokens_total"`
	ErrorCount    int       `json:"error_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func summarize(run domain.Run) runSummary {
	return runSummary{
		RunID:         run.ID,
		TargetName:    run.TargetName,
		Industry:      run.Industry,
		Stage:         string(run.Stage),
		Iteration:     run.Iteration,
		RevisionCount: run.RevisionCount,
		Approved:      run.Approved,
		CostUSD:       run.CostUSD,
		TokensTotal:   run.TokensTotal,
		ErrorCount:    len(run.Errors),
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

func (api *reportsAPI) handleStartReport(w http.ResponseWriter, r *http.Request) {
	var req startReportRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.TargetName) == "" && strings.TrimSpace(req.RunID) == "" {
		api.writeError(w, r, http.StatusBadRequest, "target_name_required")
		return
	}
	if req.BudgetUSD < 0 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_budget")
		return
	}

	run, err := api.svc.Start(r.Context(), reports.StartParams{
		RunID:      req.RunID,
		TargetName: req.TargetName,
		Industry:   req.Industry,
		BudgetUSD:  req.BudgetUSD,
		Model:      req.Model,
	})
	if err != nil {
		switch {
		case errors.Is(err, reports.ErrAlreadyRunning):
			api.writeError(w, r, http.StatusConflict, "run_in_progress")
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case strings.Contains(err.Error(), "required"):
			api.writeError(w, r, http.StatusBadRequest, "target_name_required")
		default:
			api.logger.Error("start report failed", "error", err.Error())
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	w.Header().Set("Location", "/reports/"+run.ID)
	api.writeJSON(w, http.StatusAccepted, summarize(run))
}

func (api *reportsAPI) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 50), 1, 200)

	runs, err := api.svc.History(r.Context(), limit)
	if err != nil {
		api.logger.Error("list reports failed", "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarize(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}

func (api *reportsAPI) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	status, err := api.svc.Status(r.Context(), runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("report status failed", "run_id", runID, "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"run":      summarize(status.Run),
		"running":  status.Running,
		"progress": status.Progress,
	})
}

func (api *reportsAPI) handleGetReport(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	run, err := api.svc.Result(r.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, reports.ErrNotReady):
			api.writeError(w, r, http.StatusTooEarly, "report_not_ready")
		default:
			api.logger.Error("report result failed", "run_id", runID, "error", err.Error())
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	api.writeJSON(w, http.StatusOK, run)
}

func (api *reportsAPI) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	data, err := api.svc.Artifact(r.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, reports.ErrNotReady):
			api.writeError(w, r, http.StatusTooEarly, "report_not_ready")
		default:
			api.logger.Error("artifact fetch failed", "run_id", runID, "error", err.Error())
			api.writeError(w, r, http.StatusBadGateway, "object_store_error")
		}
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="report.md"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (api *reportsAPI) handleCancelReport(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	if err := api.svc.Cancel(r.Context(), runID); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, reports.ErrNotRunning):
			api.writeError(w, r, http.StatusConflict, "run_not_in_progress")
		default:
			api.logger.Error("cancel failed", "run_id", runID, "error", err.Error())
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "cancelling",
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *reportsAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *reportsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
