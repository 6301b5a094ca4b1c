package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/diligence-api/internal/artifact"
	"github.com/phrazzld/diligence-api/internal/config"
	"github.com/phrazzld/diligence-api/internal/delivery"
	"github.com/phrazzld/diligence-api/internal/notify"
	"github.com/phrazzld/diligence-api/internal/platform/gemini"
	"github.com/phrazzld/diligence-api/internal/platform/postgres"
	"github.com/phrazzld/diligence-api/internal/report"
	"github.com/phrazzld/diligence-api/internal/service"
	"github.com/phrazzld/diligence-api/internal/service/auth"
	"github.com/phrazzld/diligence-api/internal/store"
	"github.com/phrazzld/diligence-api/internal/task"
)

// application holds the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore store.TaskStore
	artifacts *artifact.Store

	researchService service.ResearchService

	// tokenVerifier is nil when no auth issuer is configured; the API then
	// runs without authentication.
	tokenVerifier auth.TokenVerifier

	taskRunner *task.Runner
}

// newApplication creates an application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.taskStore = postgres.NewPostgresTaskStore(db, logger)

	var err error
	app.artifacts, err = artifact.NewStore(cfg.Artifact.StoragePath, cfg.Pipeline.OutputsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	analysisPipeline, err := gemini.NewPipeline(
		ctx,
		logger.With("component", "analysis_pipeline"),
		cfg.Pipeline,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analysis pipeline: %w", err)
	}
	logger.Info("Analysis pipeline initialized", "model", cfg.Pipeline.ModelName)

	renderer, err := report.NewRenderer(app.artifacts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize report renderer: %w", err)
	}

	mailer, err := notify.NewMailer(cfg.Email, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}
	if !mailer.IsConfigured() {
		logger.Warn("Email notifications disabled, no SMTP host configured")
	}

	deliveryService := delivery.NewService(renderer, mailer, app.artifacts, logger)

	factory := task.NewExecutionFactory(
		app.taskStore,
		analysisPipeline,
		app.artifacts,
		deliveryService,
		logger,
	)

	app.taskRunner, err = setupTaskRunner(app, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to setup task runner: %w", err)
	}

	app.researchService, err = service.NewResearchService(
		app.taskStore,
		app.taskRunner,
		factory,
		app.artifacts,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create research service: %w", err)
	}

	if cfg.Auth.Issuer != "" {
		app.tokenVerifier, err = auth.NewTokenVerifier(cfg.Auth, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
		}
		logger.Info("Token verification enabled", "issuer", cfg.Auth.Issuer)
	} else {
		logger.Warn("No auth issuer configured, API endpoints are unauthenticated")
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// setupTaskRunner initializes and starts the background task processor.
// Starting the runner also recovers tasks left over from a previous run.
func setupTaskRunner(app *application, factory task.Factory) (*task.Runner, error) {
	taskRunner := task.NewRunner(app.taskStore, factory, task.RunnerConfig{
		WorkerCount:        app.config.Task.WorkerCount,
		QueueSize:          app.config.Task.QueueSize,
		StaleTaskAge:       time.Duration(app.config.Task.StaleTaskAgeMinutes) * time.Minute,
		StaleCheckInterval: time.Duration(app.config.Task.StaleCheckIntervalMinutes) * time.Minute,
	}, app.logger)

	if err := taskRunner.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task runner: %w", err)
	}

	return taskRunner, nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
