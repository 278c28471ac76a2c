// Package llm implements the research capabilities on the Anthropic Messages API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/prompts"
)

// ErrNoAPIKey is returned when neither the config nor the environment carries a key.
var ErrNoAPIKey = errors.New("ANTHROPIC_API_KEY environment variable is not set")

// Config selects the model and request shape.
type Config struct {
	Provider          string `mapstructure:"provider"`
	Model             string `mapstructure:"model"`
	MaxTokens         int64  `mapstructure:"max_tokens"`
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	SearchMaxUses     int64  `mapstructure:"search_max_uses"`
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Provider:      "anthropic",
		Model:         "claude-sonnet-4-5",
		MaxTokens:     8192,
		SearchMaxUses: 5,
	}
}

// Client wraps the Anthropic SDK client with the role instructions catalog.
type Client struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	maxUses   int64
	prompts   *prompts.Registry
	logger    *zap.Logger
}

// NewClient creates a client. SDK-level retries are disabled; callers retry
// through the workflow's own policy.
func NewClient(cfg Config, catalog *prompts.Registry, logger *zap.Logger, extra ...option.RequestOption) (*Client, error) {
	if catalog == nil {
		return nil, errors.New("llm: prompt catalog is required")
	}
	if p := strings.ToLower(cfg.Provider); p != "" && p != "anthropic" {
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	def := DefaultConfig()
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.Model(def.Model)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = def.MaxTokens
	}
	maxUses := cfg.SearchMaxUses
	if maxUses <= 0 {
		maxUses = def.SearchMaxUses
	}

	return &Client{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		maxUses:   maxUses,
		prompts:   catalog,
		logger:    logger,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() anthropic.Model { return c.model }

// completion is the flattened result of one Messages call.
type completion struct {
	text      string
	citations []citation
}

type citation struct {
	title string
	url   string
}

func (c *Client) complete(ctx context.Context, capability string, role prompts.Role, prompt string, tools []anthropic.ToolUnionParam) (completion, error) {
	system, err := c.prompts.System(role)
	if err != nil {
		return completion{}, err
	}

	start := time.Now()
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: tools,
	})
	if err != nil {
		return completion{}, fmt.Errorf("anthropic %s call failed: %w", role, err)
	}
	metrics.RecordTokens(capability, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var out completion
	var text strings.Builder
	for _, block := range resp.Content {
		tb, ok := block.AsAny().(anthropic.TextBlock)
		if !ok {
			continue
		}
		text.WriteString(tb.Text)
		for _, cit := range tb.Citations {
			if loc, ok := cit.AsAny().(anthropic.CitationsWebSearchResultLocation); ok {
				out.citations = append(out.citations, citation{title: loc.Title, url: loc.URL})
			}
		}
	}
	out.text = text.String()

	c.logger.Debug("Anthropic call completed",
		zap.String("role", string(role)),
		zap.String("model", string(c.model)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.String("stop_reason", string(resp.StopReason)),
		zap.Duration("duration", time.Since(start)),
	)
	if strings.TrimSpace(out.text) == "" {
		return out, fmt.Errorf("anthropic %s call returned no text (stop reason %q)", role, resp.StopReason)
	}
	return out, nil
}
