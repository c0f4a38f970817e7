// Package main runs hemoledgerd, the custody ledger daemon. It opens the
// environment-selected persistent store, wires audit, metrics, and tracing
// into the custody service, and serves the trail export HTTP API alongside
// /metrics and /debug/vars.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hemoledger/docs/schema/openapi"
	"hemoledger/internal/adapters/trailexport"
	"hemoledger/internal/blob"
	"hemoledger/internal/core"
)

const (
	defaultHTTPAddr = ":8080"
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		logger.Error("hemoledgerd exited", "error", err)
		os.Exit(1)
	}
}

// config carries the daemon settings read from the environment. Storage and
// blob driver selection stay inside core.OpenPersistentStore and blob.Open,
// which read their own HEMOLEDGER_* variables.
type config struct {
	httpAddr       string
	tokenSecret    string
	cancelCooldown time.Duration
	traceLogPath   string
}

func loadConfig() (config, error) {
	cfg := config{httpAddr: defaultHTTPAddr}
	if addr := os.Getenv("HEMOLEDGER_HTTP_ADDR"); addr != "" {
		cfg.httpAddr = addr
	}
	cfg.tokenSecret = os.Getenv("HEMOLEDGER_EXPORT_TOKEN_SECRET")
	if cfg.tokenSecret == "" {
		return config{}, errors.New("HEMOLEDGER_EXPORT_TOKEN_SECRET must be set")
	}
	if raw := os.Getenv("HEMOLEDGER_CANCEL_COOLDOWN"); raw != "" {
		cooldown, err := time.ParseDuration(raw)
		if err != nil {
			return config{}, fmt.Errorf("parse HEMOLEDGER_CANCEL_COOLDOWN: %w", err)
		}
		if cooldown <= 0 {
			return config{}, fmt.Errorf("HEMOLEDGER_CANCEL_COOLDOWN must be positive, got %q", raw)
		}
		cfg.cancelCooldown = cooldown
	}
	cfg.traceLogPath = os.Getenv("HEMOLEDGER_TRACE_LOG")
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger) error {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded environment overrides from .env")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open persistent store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close persistent store", "error", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	promMetrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return fmt.Errorf("register prometheus collectors: %w", err)
	}
	expvarMetrics := core.NewExpvarMetricsRecorder("hemoledger_service_metrics")

	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithAuditRecorder(serviceAuditLog{logger: logger}),
		core.WithMetricsRecorder(fanoutMetrics{promMetrics, expvarMetrics}),
	}
	if cfg.cancelCooldown > 0 {
		opts = append(opts, core.WithCancelCooldown(cfg.cancelCooldown))
	}
	if cfg.traceLogPath != "" {
		traceFile, err := os.OpenFile(cfg.traceLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open trace log: %w", err)
		}
		defer func() { _ = traceFile.Close() }()
		opts = append(opts, core.WithTracer(core.NewJSONTracer(traceFile)))
	}

	svc := core.NewService(store, opts...)

	artifacts, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	worker := trailexport.NewWorker(svc, artifacts, exportAuditLog{logger: logger})
	worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := worker.Stop(stopCtx); err != nil {
			logger.Warn("stop export worker", "error", err)
		}
	}()

	verifier := trailexport.NewTokenVerifier([]byte(cfg.tokenSecret))
	exports := trailexport.NewHandler(worker, worker, verifier)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapi.Spec())
	})
	mux.Handle("/", exports)

	server := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("hemoledgerd listening", "addr", cfg.httpAddr, "artifact_driver", string(artifacts.Driver()))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// fanoutMetrics forwards every observation to all configured recorders.
type fanoutMetrics []core.MetricsRecorder

func (f fanoutMetrics) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, rec := range f {
		rec.Observe(ctx, operation, success, duration)
	}
}

// serviceAuditLog mirrors custody service audit entries into the structured log.
type serviceAuditLog struct {
	logger *slog.Logger
}

func (l serviceAuditLog) Record(_ context.Context, entry core.AuditEntry) {
	args := []any{
		"operation", entry.Operation,
		"entity", string(entry.Entity),
		"action", string(entry.Action),
		"status", string(entry.Status),
		"duration", entry.Duration.String(),
	}
	if entry.EntityID != "" {
		args = append(args, "entity_id", entry.EntityID)
	}
	if entry.Error != "" {
		args = append(args, "error", entry.Error)
	}
	l.logger.Info("custody audit", args...)
}

// exportAuditLog mirrors export job audit entries into the structured log.
type exportAuditLog struct {
	logger *slog.Logger
}

func (l exportAuditLog) Record(_ context.Context, entry trailexport.AuditEntry) {
	args := []any{
		"action", entry.Action,
		"export_id", entry.ExportID,
		"unit_id", entry.UnitID,
		"status", string(entry.Status),
		"actor", entry.Actor,
	}
	if entry.Note != "" {
		args = append(args, "note", entry.Note)
	}
	l.logger.Info("export audit", args...)
}
