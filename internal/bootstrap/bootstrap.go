// Package bootstrap assembles the research runner and its infrastructure from
// configuration. It is shared by the worker service and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/deepresearch/internal/config"
	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/prompts"
	"github.com/Kocoro-lab/deepresearch/internal/ratecontrol"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/state"
	"github.com/Kocoro-lab/deepresearch/internal/streaming"
)

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Observability.Logging.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if lvl := cfg.Observability.Logging.Level; lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("observability.logging.level: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// Deps is everything a research run needs. Optional parts are nil when
// disabled in configuration.
type Deps struct {
	Redis   redis.UniversalClient
	DB      *sqlx.DB
	Runs    *db.RunStore
	Events  *streaming.Manager
	Prompts *prompts.Registry
	Limiter *ratecontrol.Limiter
	Runner  *research.Runner

	logger *zap.Logger
}

// Option adjusts how Build assembles dependencies.
type Option func(*buildOptions)

type buildOptions struct {
	caps *research.Capabilities
}

// WithCapabilities replaces the Anthropic-backed capabilities.
func WithCapabilities(c research.Capabilities) Option {
	return func(o *buildOptions) { o.caps = &c }
}

// Build connects infrastructure and assembles the runner. On error every
// connection opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (d *Deps, err error) {
	var bo buildOptions
	for _, o := range opts {
		o(&bo)
	}
	d = &Deps{logger: logger}
	defer func() {
		if err != nil {
			d.Close()
			d = nil
		}
	}()

	if cfg.State.Backend == "redis" || cfg.Streaming.RedisMirror {
		ropts, perr := redis.ParseURL(cfg.State.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse state.redis_url: %w", perr)
		}
		d.Redis = redis.NewClient(ropts)
		if perr := d.Redis.Ping(ctx).Err(); perr != nil {
			return nil, fmt.Errorf("connect redis: %w", perr)
		}
		logger.Info("Connected to Redis", zap.String("addr", ropts.Addr))
	}

	if cfg.Database.Enabled {
		d.DB, err = db.Open(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		d.Runs = db.NewRunStore(d.DB)
		if err = d.Runs.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	var streamOpts []streaming.Option
	if cfg.Streaming.RedisMirror {
		streamOpts = append(streamOpts, streaming.WithRedisMirror(d.Redis, cfg.State.TTL))
	}
	d.Events = streaming.NewManager(cfg.Streaming.RingCapacity, logger, streamOpts...)

	d.Prompts, err = prompts.NewRegistry(cfg.Prompts.Path, logger)
	if err != nil {
		return nil, err
	}

	caps, err := d.capabilities(cfg, bo)
	if err != nil {
		return nil, err
	}

	stages, err := research.NewStages(caps, research.Options{
		MaxIterations: cfg.Workflow.MaxIterations,
		Retry:         cfg.Workflow.Retry,
		Fanout:        cfg.Workflow.Fanout,
	}, logger)
	if err != nil {
		return nil, err
	}

	runnerOpts := []research.RunnerOption{
		research.WithLogger(logger),
		research.WithEvents(d.Events),
		research.WithMaxSteps(cfg.MaxSteps(research.StepBudget(cfg.Workflow.MaxIterations))),
	}
	if d.Redis != nil && cfg.State.Backend == "redis" {
		client, ttl := d.Redis, cfg.State.TTL
		runnerOpts = append(runnerOpts, research.WithStores(func(runID string) state.Store {
			return state.NewRedisStore(client, runID, ttl)
		}))
	}
	if d.Runs != nil {
		runnerOpts = append(runnerOpts, research.WithRunRecorder(d.Runs))
	}
	d.Runner, err = research.NewRunner(stages, runnerOpts...)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Deps) capabilities(cfg *config.Config, bo buildOptions) (research.Capabilities, error) {
	var caps research.Capabilities
	if bo.caps != nil {
		caps = *bo.caps
	} else {
		client, err := llm.NewClient(cfg.LLM, d.Prompts, d.logger)
		if err != nil {
			return caps, err
		}
		caps = llm.NewCapabilities(client)
		d.logger.Info("Language model client ready",
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", string(client.Model())),
		)
	}
	d.Limiter = ratecontrol.NewLimiter(ratecontrol.Resolve(cfg.LLM.Provider, cfg.LLM.RequestsPerMinute))
	caps = llm.RateLimited(caps, d.Limiter)
	return research.Instrument(caps, d.logger), nil
}

// ApplyConfig applies the hot-reloadable parts of a changed configuration.
// The prompt catalog is re-read even when its path is unchanged.
func (d *Deps) ApplyConfig(cfg *config.Config) error {
	if d.Prompts == nil {
		return nil
	}
	return d.Prompts.SetPath(cfg.Prompts.Path)
}

// Close releases connections.
func (d *Deps) Close() {
	var errs []error
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if err := errors.Join(errs...); err != nil && d.logger != nil {
		d.logger.Warn("Error closing dependencies", zap.Error(err))
	}
}
