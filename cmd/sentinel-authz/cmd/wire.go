package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/inbound/http"
	fileaudit "github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/outbound/audit"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/outbound/file"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/config"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
)

// parseLogLevel converts a config log level string to slog.Level.
// Unknown values fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildLogger returns a text logger writing to w at the configured level.
// DevMode always forces debug.
func buildLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// backend is the configured policy adapter plus what the server needs around it.
type backend struct {
	adapter persist.Adapter
	// storage is set for adapters with a health check.
	storage http.Pinger
	// watchPath is the file to watch for changes, if any.
	watchPath string
	close     func() error
}

// openBackend creates the policy adapter named by cfg.Policy.Adapter.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	mode := persist.Permissive
	if cfg.Policy.Strict {
		mode = persist.Strict
	}
	noClose := func() error { return nil }

	switch cfg.Policy.Adapter {
	case config.AdapterMemory, "":
		a := memory.NewPolicyAdapter(cfg.Policy.Text, memory.WithMode(mode), memory.WithLogger(logger))
		return &backend{adapter: a, close: noClose}, nil

	case config.AdapterFile:
		a := file.NewAdapter(cfg.Policy.Path, file.WithMode(mode), file.WithLogger(logger))
		b := &backend{adapter: a, close: noClose}
		if cfg.Policy.Watch {
			b.watchPath = cfg.Policy.Path
		}
		return b, nil

	case config.AdapterSQLite:
		a, err := sqlite.NewAdapter(ctx, cfg.Policy.DSN, sqlite.WithMode(mode), sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite policy store: %w", err)
		}
		return &backend{adapter: a, storage: a, close: a.Close}, nil

	default:
		return nil, fmt.Errorf("unknown policy adapter %q", cfg.Policy.Adapter)
	}
}

// enforcerFactory builds enforcers from the configured model and adapter.
// The model is re-read on every call so reloads pick up model file edits.
func enforcerFactory(cfg *config.Config, a persist.Adapter, logger *slog.Logger) service.EnforcerFactory {
	return func(_ context.Context) (*service.Enforcer, error) {
		m, err := cfg.Model.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
		return service.NewEnforcer(m, a, logger,
			service.WithMaxHierarchyLevel(cfg.Enforcer.MaxHierarchyLevel),
			service.WithAutoSave(cfg.Enforcer.AutoSave),
		)
	}
}

// telemetry holds the OpenTelemetry providers for the service.
type telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdown       func(context.Context) error
}

// setupTelemetry builds stdout exporters for the enabled signals.
// Disabled signals get no-op providers.
func setupTelemetry(cfg config.TelemetryConfig) (*telemetry, error) {
	t := &telemetry{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		shutdown:       func(context.Context) error { return nil },
	}
	if !cfg.Tracing && !cfg.Metrics {
		return t, nil
	}

	w, closeOutput, err := telemetryWriter(cfg.Output)
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", "sentinel-authz"),
		attribute.String("service.version", Version),
	)

	var shutdowns []func(context.Context) error
	if cfg.Tracing {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			_ = closeOutput()
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		t.tracerProvider = tp
		shutdowns = append(shutdowns, tp.Shutdown)
	}
	if cfg.Metrics {
		interval, err := time.ParseDuration(cfg.MetricsInterval)
		if err != nil || interval <= 0 {
			interval = 30 * time.Second
		}
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			_ = closeOutput()
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		t.meterProvider = mp
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	t.shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		errs = append(errs, closeOutput())
		return errors.Join(errs...)
	}
	return t, nil
}

// auditLog is the running audit pipeline: an async writer over a store that
// also serves recent records.
type auditLog struct {
	svc    *service.AuditService
	store  audit.Store
	reader audit.RecentReader
}

// openAuditLog builds and starts the audit pipeline, or returns nil when the
// audit log is disabled.
func openAuditLog(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (*auditLog, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		store  audit.Store
		reader audit.RecentReader
	)
	switch cfg.Output {
	case config.AuditOutputStdout:
		s := memory.NewAuditStore(os.Stdout, cfg.RecentSize)
		store, reader = s, s
	case config.AuditOutputMemory:
		s := memory.NewAuditStore(nil, cfg.RecentSize)
		store, reader = s, s
	default:
		s, err := fileaudit.NewFileStore(fileaudit.FileConfig{
			Dir:           cfg.FileDir(),
			RetentionDays: cfg.RetentionDays,
			MaxFileSizeMB: cfg.MaxFileSizeMB,
			RecentSize:    cfg.RecentSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		store, reader = s, s
	}

	svc := service.NewAuditService(store, logger)
	svc.Start(ctx)
	logger.Info("audit log enabled", "output", cfg.Output)
	return &auditLog{svc: svc, store: store, reader: reader}, nil
}

// close drains queued records, then closes the store.
func (a *auditLog) close() error {
	a.svc.Stop()
	return a.store.Close()
}

// telemetryWriter opens the exporter destination: "stdout" or "file://<path>".
func telemetryWriter(output string) (io.Writer, func() error, error) {
	path, ok := strings.CutPrefix(output, "file://")
	if !ok {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open telemetry output: %w", err)
	}
	return f, f.Close, nil
}
