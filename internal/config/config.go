// Package config loads service configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/fanout"
	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/report"
	"github.com/Kocoro-lab/deepresearch/internal/retry"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
)

// EnvPrefix prefixes every environment override, e.g. DEEPRESEARCH_LLM_MODEL.
const EnvPrefix = "DEEPRESEARCH"

// PathEnv names the variable holding the config file path.
const PathEnv = "DEEPRESEARCH_CONFIG"

type WorkflowConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	MaxSteps      int           `mapstructure:"max_steps"`
	Fanout        fanout.Config `mapstructure:"fanout"`
	Retry         retry.Policy  `mapstructure:"retry"`
}

type StateConfig struct {
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type StreamingConfig struct {
	RingCapacity int  `mapstructure:"ring_capacity"`
	RedisMirror  bool `mapstructure:"redis_mirror"`
}

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type PromptsConfig struct {
	Path string `mapstructure:"path"`
}

// Config is the full service configuration.
type Config struct {
	LLM           llm.Config          `mapstructure:"llm"`
	Prompts       PromptsConfig       `mapstructure:"prompts"`
	Workflow      WorkflowConfig      `mapstructure:"workflow"`
	State         StateConfig         `mapstructure:"state"`
	Report        report.Config       `mapstructure:"report"`
	Database      db.Config           `mapstructure:"database"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Streaming     StreamingConfig     `mapstructure:"streaming"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.requests_per_minute", 0)
	v.SetDefault("llm.search_max_uses", 5)

	v.SetDefault("prompts.path", "")

	v.SetDefault("workflow.max_iterations", 2)
	v.SetDefault("workflow.max_steps", 64)
	v.SetDefault("workflow.fanout.max_concurrency", 0)
	v.SetDefault("workflow.retry.max_retries", 2)
	v.SetDefault("workflow.retry.initial_delay", "1s")
	v.SetDefault("workflow.retry.backoff_factor", 2.0)

	v.SetDefault("state.backend", "memory")
	v.SetDefault("state.redis_url", "redis://localhost:6379/0")
	v.SetDefault("state.ttl", "24h")

	v.SetDefault("report.output_dir", ".")
	v.SetDefault("report.append_sources", false)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", db.DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "deepresearch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "deepresearch")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.idle_connections", 2)
	v.SetDefault("database.max_lifetime", "30m")

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "deep-research")

	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("streaming.redis_mirror", false)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "deep-research")
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "deep-research")

	v.SetDefault("http.port", 8081)
}

// newViper prepares a viper instance with defaults and env overrides. An
// empty path falls back to DEEPRESEARCH_CONFIG; with neither, only defaults
// and environment apply.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads configuration from path (or DEEPRESEARCH_CONFIG), applying
// defaults and DEEPRESEARCH_* environment overrides.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Workflow.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("workflow.max_iterations must be >= 0, got %d", c.Workflow.MaxIterations))
	}
	if c.Workflow.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("workflow.max_steps must be >= 0, got %d", c.Workflow.MaxSteps))
	}
	if c.Workflow.Fanout.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("workflow.fanout.max_concurrency must be >= 0, got %d", c.Workflow.Fanout.MaxConcurrency))
	}
	if err := c.Workflow.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("workflow.retry: %w", err))
	}
	switch c.State.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("state.backend must be memory or redis, got %q", c.State.Backend))
	}
	if c.State.Backend == "redis" && c.State.RedisURL == "" {
		errs = append(errs, errors.New("state.redis_url is required for the redis backend"))
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case db.DriverPostgres, db.DriverSQLite:
		default:
			errs = append(errs, fmt.Errorf("database.driver must be %s or %s, got %q", db.DriverPostgres, db.DriverSQLite, c.Database.Driver))
		}
	}
	if c.Streaming.RingCapacity <= 0 {
		errs = append(errs, fmt.Errorf("streaming.ring_capacity must be > 0, got %d", c.Streaming.RingCapacity))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth is enabled"))
	}
	return errors.Join(errs...)
}

// MaxSteps returns the configured step limit, never below what maxIterations
// needs.
func (c *Config) MaxSteps(required int) int {
	if c.Workflow.MaxSteps > required {
		return c.Workflow.MaxSteps
	}
	return required
}
