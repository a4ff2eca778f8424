package commands

import (
	"context"
	"fmt"

	"github.com/lmsync/lmsync/pkg/canvas"
	"github.com/lmsync/lmsync/pkg/config"
	"github.com/lmsync/lmsync/pkg/engine"
	"github.com/lmsync/lmsync/pkg/graph"
	"github.com/lmsync/lmsync/pkg/stores"
	"github.com/lmsync/lmsync/pkg/telemetry"
)

// app bundles the wired collaborators a command needs. Each command
// builds only the pieces it uses and closes them when done.
type app struct {
	cfg     *config.Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	store   *stores.SQLiteStore
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}

	log, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}, nil
}

// openStore initializes the SQLite state store and runs pending
// migrations.
func (a *app) openStore(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("failed to migrate state store: %w", err)
	}
	a.store = store
	return nil
}

func (a *app) canvasClient() (*canvas.Client, error) {
	return canvas.NewClient(canvas.Config{
		BaseURL: a.cfg.Canvas.BaseURL,
		Token:   a.cfg.Canvas.Token,
		Timeout: a.cfg.Canvas.Timeout,
		PerPage: a.cfg.Canvas.PerPage,
	}, a.log)
}

func (a *app) authenticator() (*graph.Authenticator, error) {
	return graph.NewAuthenticator(graph.AuthConfig{
		ClientID:  a.cfg.Graph.ClientID,
		TenantID:  a.cfg.Graph.TenantID,
		TokenFile: a.cfg.Graph.TokenFile,
	}, a.log)
}

func (a *app) graphClient() (*graph.Client, error) {
	auth, err := a.authenticator()
	if err != nil {
		return nil, err
	}
	return graph.NewClient(graph.Config{Timeout: a.cfg.Graph.Timeout}, auth, a.log), nil
}

// newEngine wires the full pipeline for one run.
func (a *app) newEngine(mode engine.Mode) (*engine.Engine, error) {
	source, err := a.canvasClient()
	if err != nil {
		return nil, err
	}
	dest, err := a.graphClient()
	if err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(
		a.cfg.Telemetry.Tracing,
		a.cfg.Telemetry.ServiceName,
		a.cfg.Telemetry.ServiceVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer

	return engine.New(source, dest, a.store, engine.Options{
		TaskListName: a.cfg.Graph.TaskListName,
		Mode:         mode,
		Retry: engine.RetryPolicy{
			MaxAttempts: a.cfg.Sync.MaxAttempts,
			BaseDelay:   a.cfg.Sync.BaseDelay,
			MaxDelay:    a.cfg.Sync.MaxDelay,
		},
		Logger:  a.log,
		Metrics: a.metrics,
		Tracer:  tracer,
	}), nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close state store")
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.log.WithError(err).Warn("failed to flush traces")
		}
	}
}
