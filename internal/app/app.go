// Package app provides application-level wiring and dependency injection
// for the audit server and CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"remedy-audit/internal/config"
	"remedy-audit/internal/db/repository"
	"remedy-audit/internal/domain"
	"remedy-audit/internal/planner"
	"remedy-audit/internal/service/governance"
	"remedy-audit/internal/service/migration"
	"remedy-audit/internal/service/rollback"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
	// Registerer receives the service metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Services groups the services that the API handler and CLI need.
type Services struct {
	Audit    *governance.AuditService
	Rollback *rollback.Controller
}

// App holds the fully-wired application.
type App struct {
	Services Services
	Repo     *repository.AuditRepo
	Planner  *planner.Client
	Metrics  *rollback.Metrics
	Storage  migration.StorageConfig
}

// New wires the repository, planner client and services from deps.
func New(ctx context.Context, deps Deps) (*App, error) {
	if deps.Cfg == nil || deps.WriteDB == nil {
		return nil, errors.New("app: config and write database are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Cfg

	repo := repository.NewAuditRepo(deps.WriteDB, deps.ReadDB)

	plannerClient, err := planner.NewClient(planner.Options{
		Endpoint:        cfg.Planner.Addr,
		Token:           cfg.Planner.Token,
		Timeout:         cfg.Planner.Timeout,
		BreakerFailures: cfg.Planner.BreakerFailures,
		BreakerCooldown: cfg.Planner.BreakerCooldown,
		Logger:          logger.With("component", "planner"),
	})
	if err != nil {
		return nil, fmt.Errorf("create planner client: %w", err)
	}

	metrics := rollback.NewMetrics(deps.Registerer)
	fetcher := rollback.NewPlanFetcher(plannerClient, metrics, logger.With("component", "plan_fetcher"))
	ctl := rollback.NewController(repo, fetcher, plannerClient, logger.With("component", "rollback"),
		rollback.WithMetrics(metrics),
		rollback.WithExecuteTimeout(cfg.Planner.Timeout),
	)

	logger.DebugContext(ctx, "application wired", "planner", cfg.Planner.Addr, "insecure_planner", cfg.Planner.Insecure())

	return &App{
		Services: Services{
			Audit:    governance.NewAuditService(repo, logger.With("component", "audit")),
			Rollback: ctl,
		},
		Repo:    repo,
		Planner: plannerClient,
		Metrics: metrics,
		Storage: StorageFromConfig(cfg.Storage),
	}, nil
}

// Close releases the planner connection.
func (a *App) Close() error {
	return a.Planner.Close()
}

// Repository exposes the audit store as its port.
func (a *App) Repository() domain.AuditRepository { return a.Repo }

// StorageFromConfig converts the storage settings for archive sinks.
func StorageFromConfig(s config.StorageConfig) migration.StorageConfig {
	return migration.StorageConfig{
		S3KeyID:          s.S3KeyID,
		S3Secret:         s.S3Secret,
		S3Endpoint:       s.S3Endpoint,
		S3Region:         s.S3Region,
		AzureAccountName: s.AzureAccountName,
		AzureAccountKey:  s.AzureAccountKey,
		GCSKeyFile:       s.GCSKeyFile,
	}
}
