package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/assistant"
	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/cache"
	"fitcoach-gateway/internal/config"
	"fitcoach-gateway/internal/handlers"
	"fitcoach-gateway/internal/httpserver"
	"fitcoach-gateway/internal/jobs"
	"fitcoach-gateway/internal/llm"
	"fitcoach-gateway/internal/metrics"
	"fitcoach-gateway/internal/quota"
	"fitcoach-gateway/internal/relay"
	"fitcoach-gateway/pkg/logging/logging"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// ----- Logger -----
	logger := logging.NewLoggerWith(logging.Options{Service: "fitcoach-gateway"})
	defer func() { _ = logger.Sync() }()

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("listen", cfg.Listen),
		zap.String("version_id", cfg.VersionID),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("quota_backend", cfg.Quota.Backend),
		zap.String("entitlements_backend", cfg.Entitlements.Backend),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
		zap.String("llm_model", cfg.LLM.Model),
	)

	// ----- Shared connections -----
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(context.Background()); err != nil {
			logger.Warn("closing backends", zap.Error(err))
		}
	}()

	// ----- Response cache -----
	exact, err := cache.NewExactCache(cache.Config{
		Backend:       cfg.Cache.Backend,
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
		Prefix:        cfg.Cache.Prefix,
	}, b.redis, b.db)
	if err != nil {
		return err
	}
	exactCache := cache.NewLoggingExactCache(exact)
	defer exactCache.Close()
	responseCache := cache.NewResponseCache(exactCache, cfg.LLM.Model, cfg.VersionID, cfg.Cache.TTL)

	// ----- Quota gate -----
	usage, err := newUsageStore(cfg, b)
	if err != nil {
		return err
	}
	entitlements, err := newEntitlementStore(cfg, b)
	if err != nil {
		return err
	}
	gate := quota.NewGate(entitlements, usage, quota.Config{
		DailyLimit: cfg.Quota.DailyLimit,
		AdminIDs:   cfg.Quota.AdminIDs,
	}, logger)

	// ----- LLM client -----
	llmClient, err := llm.NewClient(llm.Config{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	svc := assistant.New(llmClient, responseCache, gate, assistant.Config{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Retry: llm.RetryPolicy{
			MaxAttempts: cfg.LLM.MaxAttempts,
			BaseDelay:   cfg.LLM.BaseBackoff,
			MaxDelay:    cfg.LLM.MaxBackoff,
		},
		CacheTTL: cfg.Cache.TTL,
	}, logger)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	// ----- Background jobs -----
	// the memory cache sweeps itself; sqlite rows need the job
	var sweeper cache.Sweeper
	if cfg.Cache.Backend == "sqlite" {
		sweeper = exactCache
	}
	var pruner quota.UsagePruner
	if p, ok := usage.(quota.UsagePruner); ok {
		pruner = p
	}
	scheduler, err := jobs.New(jobs.Config{
		SweepInterval:      cfg.Cache.SweepInterval,
		UsageRetentionDays: cfg.Jobs.UsageRetentionDays,
	}, sweeper, pruner, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", zap.Error(err))
		}
	}()

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.Deps{
		Logger:         logger,
		Verifier:       verifier,
		Assistant:      handlers.NewAssistantHandler(svc, relay.New(svc, gate)),
		Usage:          handlers.NewUsageHandler(gate),
		HealthChecks:   b.healthChecks(),
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// streams stay open for the whole request budget
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("version", version),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	select {
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
