package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/outbound/file"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/config"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP decision API",
	Long: `Start the sentinel-authz HTTP server.

The server loads the configured model and policy, then answers decision
requests on POST /v1/enforce and manages policy rows under /v1/policies.
Prometheus metrics are served on /metrics and health on /health.

The policy is reloaded on POST /v1/reload, on SIGHUP, and, with
policy.watch enabled, whenever the policy file changes.

Examples:
  # Start with config file settings
  sentinel-authz serve

  # Start an allow-all demo server with debug logging
  sentinel-authz serve --dev

  # Listen on all interfaces
  sentinel-authz serve --addr 0.0.0.0:8080`,
	RunE: runServe,
}

var (
	devMode   bool
	serveAddr string
)

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, allow-all model when none is configured)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.http_addr)")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the configuration, lets override adjust it, then applies
// dev defaults and validates.
func loadConfig(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if override != nil {
		override(cfg)
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(func(c *config.Config) {
		if devMode {
			c.DevMode = true
		}
		if serveAddr != "" {
			c.Server.HTTPAddr = serveAddr
		}
	})
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := buildLogger(cfg, os.Stderr)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled")
	}

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("sentinel-authz stopped")
	return nil
}

// serve wires the policy backend, the authz service and the HTTP server,
// and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, serverOpts ...http.Option) error {
	tel, err := setupTelemetry(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			logger.Warn("failed to close policy store", "error", err)
		}
	}()

	al, err := openAuditLog(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	if al != nil {
		defer func() {
			if err := al.close(); err != nil {
				logger.Warn("failed to close audit log", "error", err)
			}
		}()
	}

	authzOpts := []service.AuthzServiceOption{
		service.WithCacheSize(cfg.Enforcer.CacheSize),
		service.WithTracerProvider(tel.tracerProvider),
		service.WithMeterProvider(tel.meterProvider),
	}
	if al != nil {
		authzOpts = append(authzOpts, service.WithAuditor(al.svc))
	}
	authz, err := service.NewAuthzService(ctx, enforcerFactory(cfg, b.adapter, logger), logger, authzOpts...)
	if err != nil {
		return err
	}

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithHealthChecker(http.NewHealthChecker(authz, b.storage, Version)),
	}
	if al != nil {
		opts = append(opts, http.WithAuditLog(al.reader), http.WithAuditQueue(al.svc))
	}
	opts = append(opts, serverOpts...)
	srv := http.NewServer(authz, opts...)

	reload := func(source string) {
		err := authz.Reload(ctx)
		srv.Metrics().RecordReload(err)
		if err != nil {
			logger.Error("policy reload failed, keeping current policy", "source", source, "error", err)
		}
	}

	if b.watchPath != "" {
		debounce, err := time.ParseDuration(cfg.Policy.WatchDebounce)
		if err != nil {
			debounce = file.DefaultDebounce
		}
		w, err := file.NewWatcher(ctx, b.watchPath, debounce, func() { reload("watch") }, logger)
		if err != nil {
			return fmt.Errorf("failed to watch policy file: %w", err)
		}
		defer w.Close()
	}

	if sigs := reloadSignals(); len(sigs) > 0 {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, sigs...)
		done := make(chan struct{})
		defer func() {
			signal.Stop(hup)
			close(done)
		}()
		go func() {
			for {
				select {
				case <-done:
					return
				case <-hup:
					reload("signal")
				}
			}
		}()
	}

	return srv.Start(ctx)
}
