package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remedy-audit/internal/api"
	"remedy-audit/internal/app"
	"remedy-audit/internal/config"
	internaldb "remedy-audit/internal/db"
	"remedy-audit/internal/middleware"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 0)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer readDB.Close()  //nolint:errcheck
	defer writeDB.Close() //nolint:errcheck
	if err := internaldb.RunMigrations(writeDB); err != nil {
		return fmt.Errorf("migrate audit store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	application, err := app.New(ctx, app.Deps{
		Cfg:        cfg,
		WriteDB:    writeDB,
		ReadDB:     readDB,
		Logger:     logger,
		Registerer: reg,
	})
	if err != nil {
		return err
	}
	defer application.Close() //nolint:errcheck

	if cfg.SeedDemo {
		n, err := app.SeedDemo(ctx, application.Repo, time.Now())
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("seeded demo audit entries", "count", n)
		}
	}

	h := api.NewHandler(application.Services.Audit, application.Services.Rollback, cfg.MisfireThreshold, logger)
	router := api.NewRouter(ctx, h, api.RouterConfig{
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		Gatherer: reg,
		Health:   readDB.PingContext,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Rollback requests wait for the executor.
		WriteTimeout: cfg.Planner.Timeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "tls", cfg.TLSCertFile != "", "planner", cfg.Planner.Addr)
		scheme := "http"
		if cfg.TLSCertFile != "" {
			scheme = "https"
		}
		logger.Info(fmt.Sprintf("try: curl %s://%s/v1/audit", scheme, curlHostForListenAddr(cfg.ListenAddr)))
		if cfg.TLSCertFile != "" {
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Planner.Timeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// curlHostForListenAddr turns a listen address into a host:port a local
// client can reach.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
