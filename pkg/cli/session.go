package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"remedy-audit/internal/app"
	"remedy-audit/internal/config"
	internaldb "remedy-audit/internal/db"
	"remedy-audit/internal/service/governance"
	"remedy-audit/internal/service/migration"
	"remedy-audit/internal/service/rollback"
)

// session is the set of services one command invocation works against.
type session struct {
	audit            *governance.AuditService
	rollbacks        *rollback.Controller
	storage          migration.StorageConfig
	misfireThreshold float64
	close            func() error
}

// opener builds a session from the resolved flags. Tests swap it for one
// backed by a temporary store and a fake planner.
type opener func(ctx context.Context, g *globals) (*session, error)

// openSession opens the local audit store and dials the planner. Settings
// not given on the command line fall back to the server's environment.
func openSession(ctx context.Context, g *globals) (*session, error) {
	cfg := config.ReadEnv()
	if g.db != "" {
		cfg.MetaDBPath = g.db
	}
	if g.planner != "" {
		cfg.Planner.Addr = g.planner
	}
	if g.plannerToken != "" {
		cfg.Planner.Token = g.plannerToken
	}

	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 0)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	closeDBs := func() error {
		return errors.Join(writeDB.Close(), readDB.Close())
	}
	if err := internaldb.RunMigrations(writeDB); err != nil {
		_ = closeDBs()
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}

	a, err := app.New(ctx, app.Deps{
		Cfg:     cfg,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Logger:  cliLogger(os.Stderr, g.verbose),
	})
	if err != nil {
		_ = closeDBs()
		return nil, err
	}

	return &session{
		audit:            a.Services.Audit,
		rollbacks:        a.Services.Rollback,
		storage:          a.Storage,
		misfireThreshold: cfg.MisfireThreshold,
		close: func() error {
			return errors.Join(a.Close(), closeDBs())
		},
	}, nil
}

// cliLogger keeps stderr quiet unless --verbose is set.
func cliLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
