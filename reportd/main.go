package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marketscope-labs/marketscope-go/internal/domain"
	"github.com/marketscope-labs/marketscope-go/internal/ledger"
	"github.com/marketscope-labs/marketscope-go/internal/llm"
	"github.com/marketscope-labs/marketscope-go/internal/platform/auditlog"
	"github.com/marketscope-labs/marketscope-go/internal/platform/auth"
	"github.com/marketscope-labs/marketscope-go/internal/platform/env"
	"github.com/marketscope-labs/marketscope-go/internal/platform/httpserver"
	"github.com/marketscope-labs/marketscope-go/internal/platform/objectstore"
	"github.com/marketscope-labs/marketscope-go/internal/platform/postgres"
	repopg "github.com/marketscope-labs/marketscope-go/internal/repo/postgres"
	"github.com/marketscope-labs/marketscope-go/internal/search"
	"github.com/marketscope-labs/marketscope-go/internal/service/reports"
	storeminio "github.com/marketscope-labs/marketscope-go/internal/storage/objectstore"
)

const serviceName = "reportd"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("REPORTD_HTTP_ADDR", ":8083")
	shutdownTimeout, err := env.Duration("REPORTD_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		logger.Error("invalid shutdown timeout", "error", err.Error())
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err.Error())
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err.Error())
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err.Error())
		os.Exit(2)
	}
	minioClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client failed", "error", err.Error())
		os.Exit(2)
	}

	startupCtx, cancelStartup := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, minioClient, storeCfg); err != nil {
		cancelStartup()
		logger.Error("object store unavailable", "error", err.Error())
		os.Exit(1)
	}
	cancelStartup()

	prices, err := ledger.LoadPrices(env.String("MARKETSCOPE_PRICING_FILE", ""))
	if err != nil {
		logger.Error("invalid pricing file", "error", err.Error())
		os.Exit(2)
	}

	llmCfg, err := llm.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid llm config", "error", err.Error())
		os.Exit(2)
	}
	llmClient, err := llm.NewOpenRouter(llmCfg)
	if err != nil {
		logger.Error("llm client failed", "error", err.Error())
		os.Exit(2)
	}

	searchCfg, err := search.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid search config", "error", err.Error())
		os.Exit(2)
	}
	searchClient, err := search.NewTavily(searchCfg)
	if err != nil {
		logger.Error("search client failed", "error", err.Error())
		os.Exit(2)
	}

	svcCfg, err := reports.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid service config", "error", err.Error())
		os.Exit(2)
	}

	svc, err := reports.New(reports.Params{
		Logger:     logger,
		Store:      repopg.NewCheckpointStore(db),
		LLM:        llmClient,
		Search:     searchClient,
		Prices:     prices,
		Artifacts:  storeminio.NewMinioStore(minioClient, storeCfg.BucketReports),
		Config:     svcCfg,
		Transition: stageAuditHook(db),
		Completed:  completionAuditHook(logger, db),
	})
	if err != nil {
		logger.Error("service setup failed", "error", err.Error())
		os.Exit(2)
	}
	defer svc.Shutdown()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName,
		httpserver.ReadinessCheck{
			Name: "postgres",
			Check: auth.WithTimeout(750*time.Millisecond, func(checkCtx context.Context) error {
				return db.PingContext(checkCtx)
			}),
		},
		httpserver.ReadinessCheck{
			Name: "objectstore",
			Check: auth.WithTimeout(750*time.Millisecond, func(checkCtx context.Context) error {
				return objectstore.CheckBucket(checkCtx, minioClient, storeCfg)
			}),
		},
	))

	api := newReportsAPI(logger, svc)
	api.register(mux)

	handler, err := protect(ctx, logger, db, mux)
	if err != nil {
		logger.Error("auth setup failed", "error", err.Error())
		os.Exit(2)
	}

	serverCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil {
		logger.Error("server failed", "error", err.Error())
		os.Exit(1)
	}
}

// protect wraps the mux with bearer-token auth according to AUTH_MODE.
// Health endpoints stay open for probes.
func protect(ctx context.Context, logger *slog.Logger, db *sql.DB, mux *http.ServeMux) (http.Handler, error) {
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeDisabled:
		logger.Warn("authentication disabled")
		return mux, nil
	case auth.ModeDev:
		logger.Warn("dev authentication enabled", "subject", authCfg.DevSubject)
		authenticator = auth.NewDevAuthenticator(authCfg)
	case auth.ModeOIDC:
		authenticator, err = auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			return nil, err
		}
	}

	middleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(auditCtx context.Context, event auth.DenyEvent) error {
			return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}
	return middleware.Wrap(mux), nil
}

func stageAuditHook(db *sql.DB) func(ctx context.Context, run domain.Run, from, to domain.Stage, reason string) error {
	return func(ctx context.Context, run domain.Run, from, to domain.Stage, reason string) error {
		_, err := auditlog.Insert(ctx, db, auditlog.Event{
			OccurredAt:   time.Now().UTC(),
			Actor:        serviceName,
			Action:       "report.stage_advanced",
			ResourceType: "report_run",
			ResourceID:   run.ID,
			Payload: map[string]any{
				"from":           string(from),
				"to":             string(to),
				"reason":         reason,
				"iteration":      run.Iteration,
				"revision_count": run.RevisionCount,
				"cost_usd":       run.CostUSD,
			},
		})
		return err
	}
}

func completionAuditHook(logger *slog.Logger, db *sql.DB) func(ctx context.Context, run domain.Run) {
	return func(ctx context.Context, run domain.Run) {
		action := "report.completed"
		switch {
		case overBudget(run):
			action = "report.budget_exceeded"
		case run.Failed():
			action = "report.failed"
		}
		_, err := auditlog.Insert(ctx, db, auditlog.Event{
			OccurredAt:   time.Now().UTC(),
			Actor:        serviceName,
			Action:       action,
			ResourceType: "report_run",
			ResourceID:   run.ID,
			Payload: map[string]any{
				"approved":       run.Approved,
				"revision_count": run.RevisionCount,
				"cost_usd":       run.CostUSD,
				"tokens_total":   run.TokensTotal,
				"errors":         run.Errors,
			},
		})
		if err != nil {
			logger.Warn("completion audit failed", "run_id", run.ID, "error", err.Error())
		}
	}
}

func overBudget(run domain.Run) bool {
	for _, e := range run.Errors {
		if strings.Contains(e, "budget") {
			return true
		}
	}
	return false
}
