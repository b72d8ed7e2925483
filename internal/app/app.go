// Package app provides application-level wiring and dependency injection
// for the ci-core server and CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"ci-core/internal/api"
	"ci-core/internal/archive"
	"ci-core/internal/changes"
	"ci-core/internal/config"
	"ci-core/internal/db"
	"ci-core/internal/db/repository"
	"ci-core/internal/domain"
	"ci-core/internal/executor"
	"ci-core/internal/middleware"
	"ci-core/internal/service/pipeline"
	"ci-core/internal/service/report"
	"ci-core/internal/settings"
	"ci-core/internal/workflow"
)

// Deps holds the external dependencies that main() must provide.
// Store may be nil, in which case finished runs and reports are not persisted.
// Changes defaults to the git checkout at Cfg.RepoDir.
type Deps struct {
	Cfg     *config.Config
	Store   *db.Store
	Changes domain.ChangeSource
	Logger  *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Workflows   *workflow.Registry
	Executors   *executor.Registry
	Coordinator *pipeline.Coordinator
	Aggregator  *report.Aggregator
	Pipeline    *pipeline.Service
	Scheduler   *pipeline.Scheduler
	Handler     *api.Handler

	validators []middleware.JWTValidator
	cfg        *config.Config
	logger     *slog.Logger
}

// New wires repositories, executors and services from the provided deps.
// Workflow definitions are loaded eagerly so configuration mistakes surface
// at startup.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	workflows := workflow.NewRegistry(cfg.WorkflowPath, workflow.LoadOptions{}, logger)
	if err := workflows.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}

	executors := newExecutors(cfg, logger)

	// === Repositories ===
	var (
		history domain.RunHistoryRepository
		reports *repository.ReportRepo
	)
	if deps.Store != nil {
		history = repository.NewRunHistoryRepo(deps.Store.Write, deps.Store.Read)
		reports = repository.NewReportRepo(deps.Store.Write, deps.Store.Read)
	}

	// === Report sinks ===
	aggregator := report.NewAggregator(logger)
	if reports != nil {
		aggregator.AddSink(reports)
	}
	if cfg.ReportArchiveURL != "" {
		sink, err := archive.Open(ctx, cfg.ReportArchiveURL, archiveOptions(cfg.Archive), logger)
		if err != nil {
			return nil, fmt.Errorf("open report archive: %w", err)
		}
		aggregator.AddSink(sink)
	}

	// === Services ===
	changeSource := deps.Changes
	if changeSource == nil {
		changeSource = changes.NewGitSource(cfg.RepoDir)
	}
	coord := pipeline.NewCoordinator(executors, history, pipeline.Options{
		MaxWorkers:     cfg.MaxWorkers,
		DefaultTimeout: cfg.DefaultNodeTimeout,
		ClassTimeouts:  cfg.ClassTimeouts,
		GuardMaxSteps:  cfg.GuardMaxSteps,
	}, logger)

	svc := pipeline.NewService(
		workflows,
		settings.NewLoader(settings.FileSource{Root: cfg.RepoDir}, logger),
		changes.NewDetector(changeSource, logger),
		coord,
		aggregator,
		history,
		logger,
	)
	if reports != nil {
		svc.SetReportStore(reports)
	}

	scheduler := pipeline.NewScheduler(svc, workflows, logger)
	svc.SetScheduleReloader(scheduler)

	validators, err := newValidators(ctx, cfg.Auth)
	if err != nil {
		return nil, err
	}

	return &App{
		Workflows:   workflows,
		Executors:   executors,
		Coordinator: coord,
		Aggregator:  aggregator,
		Pipeline:    svc,
		Scheduler:   scheduler,
		Handler:     api.NewHandler(svc, logger),
		validators:  validators,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Router builds the HTTP handler. ctx bounds background middleware work.
func (a *App) Router(ctx context.Context) http.Handler {
	return api.NewRouter(ctx, a.Handler, api.RouterOptions{
		CORSAllowedOrigins: a.cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimitRPS,
			Burst:             a.cfg.RateLimitBurst,
		},
		Validators: a.validators,
		Logger:     a.logger,
	})
}

// Shutdown stops the scheduler, cancels active runs and waits for pending
// reports to be published.
func (a *App) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	return errors.Join(
		a.Coordinator.Shutdown(ctx),
		a.Pipeline.Flush(ctx),
	)
}

// newExecutors registers the built-in actions. "report" nodes only exist to
// anchor aggregation, so they always succeed.
func newExecutors(cfg *config.Config, logger *slog.Logger) *executor.Registry {
	reg := executor.NewRegistry(logger)
	if cfg.Executor == "dry-run" {
		reg.Register("shell", executor.NewDryRun(logger))
	} else {
		reg.Register("shell", executor.NewShell(cfg.RepoDir, logger))
	}
	reg.Register("report", executor.Noop{})
	return reg
}

func newValidators(ctx context.Context, auth config.AuthConfig) ([]middleware.JWTValidator, error) {
	var out []middleware.JWTValidator
	switch {
	case auth.JWKSURL != "":
		out = append(out, middleware.NewOIDCValidatorFromJWKS(ctx, auth.JWKSURL, auth.IssuerURL, auth.Audience, auth.AllowedIssuers))
	case auth.IssuerURL != "":
		v, err := middleware.NewOIDCValidator(ctx, auth.IssuerURL, auth.Audience, auth.AllowedIssuers)
		if err != nil {
			return nil, fmt.Errorf("init OIDC validator: %w", err)
		}
		out = append(out, v)
	}
	if auth.JWTSecret != "" {
		v, err := middleware.NewHS256Validator(auth.JWTSecret)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func archiveOptions(c config.ArchiveConfig) archive.Options {
	return archive.Options{
		S3Endpoint:         c.S3Endpoint,
		S3Region:           c.S3Region,
		S3KeyID:            c.S3KeyID,
		S3Secret:           c.S3Secret,
		GCSCredentialsFile: c.GCSCredentialsFile,
		AzureAccountName:   c.AzureAccountName,
		AzureAccountKey:    c.AzureAccountKey,
		AzureEndpoint:      c.AzureEndpoint,
	}
}
