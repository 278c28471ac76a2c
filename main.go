package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/auth"
	"github.com/Kocoro-lab/deepresearch/internal/bootstrap"
	"github.com/Kocoro-lab/deepresearch/internal/config"
	"github.com/Kocoro-lab/deepresearch/internal/health"
	"github.com/Kocoro-lab/deepresearch/internal/httpapi"
	"github.com/Kocoro-lab/deepresearch/internal/report"
	"github.com/Kocoro-lab/deepresearch/internal/temporal"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
	"github.com/Kocoro-lab/deepresearch/internal/workflows"
)

func main() {
	log.SetFlags(0)
	configPath := flag.String("config", "", "path to config.yaml (default: $"+config.PathEnv+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize config manager", zap.Error(err))
	}
	cfg = cfgManager.Current()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Observability.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	deps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize research runner", zap.Error(err))
	}
	defer deps.Close()

	cfgManager.RegisterHandler(func(ev config.ChangeEvent) error {
		if err := deps.ApplyConfig(ev.Config); err != nil {
			return fmt.Errorf("apply prompts: %w", err)
		}
		logger.Info("Configuration change applied", zap.String("file", ev.File), zap.String("action", ev.Action))
		return nil
	})
	cfgManager.Start()

	if cfg.Observability.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Observability.Metrics.Port)
			logger.Info("Metrics server listening", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	tClient, err := dialTemporal(ctx, cfg.Temporal, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tClient.Close()

	var reportPaths workflows.ReportPathRecorder
	if deps.Runs != nil {
		reportPaths = deps.Runs
	}
	acts := workflows.NewActivities(deps.Runner, report.NewWriter(cfg.Report.OutputDir), cfg.Report.AppendSources, reportPaths, logger)
	w := worker.New(tClient, cfg.Temporal.TaskQueue, worker.Options{})
	workflows.Register(w, acts)
	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	logger.Info("Temporal worker started", zap.String("queue", cfg.Temporal.TaskQueue))

	healthMgr := health.NewManager(5*time.Second, logger)
	_ = healthMgr.Register(health.TemporalChecker{Client: tClient})
	if deps.Redis != nil {
		_ = healthMgr.Register(health.RedisChecker{Client: deps.Redis, Critical: cfg.State.Backend == "redis"})
	}
	if deps.DB != nil {
		_ = healthMgr.Register(health.DatabaseChecker{DB: deps.DB})
	}

	mux := http.NewServeMux()
	health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(mux)
	apiOpts := []httpapi.Option{}
	if deps.Runs != nil {
		apiOpts = append(apiOpts, httpapi.WithRunReader(deps.Runs))
	}
	if cfg.Auth.Enabled {
		jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Hour)
		apiOpts = append(apiOpts, httpapi.WithAuth(auth.NewMiddleware(jwtManager, false, logger)))
	}
	submitter := workflows.NewSubmitter(tClient, cfg.Temporal.TaskQueue, true)
	httpapi.NewHandler(submitter, deps.Events, logger, apiOpts...).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("address", server.Addr), zap.Bool("auth", cfg.Auth.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down deep research service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	w.Stop()
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown", zap.Error(err))
		}
	}
}

// dialTemporal waits for the frontend to accept TCP connections, then dials
// the SDK client with a capped linear backoff.
func dialTemporal(ctx context.Context, cfg config.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", cfg.HostPort, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", cfg.HostPort), zap.Int("attempt", i))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	for attempt := 1; ; attempt++ {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.HostPort,
			Namespace: cfg.Namespace,
			Logger:    temporal.NewZapAdapter(logger),
		})
		if err == nil {
			return c, nil
		}
		delay := time.Duration(min(attempt, 15)) * time.Second
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", cfg.HostPort),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
