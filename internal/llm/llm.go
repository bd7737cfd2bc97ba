package llm

import (
	"context"
	"fmt"
	"time"

	"sqlagent/internal/config"

	"github.com/sirupsen/logrus"
)

// GenerateOptions controls a single completion request.
type GenerateOptions struct {
	// MaxNewTokens limits the completion length. Zero means provider default.
	MaxNewTokens int
	// OutputField, when set, asks the provider for a structured response with a
	// single string field of that name and returns its value.
	OutputField string
	// Stage names the pipeline stage making the call. Used for metrics only.
	Stage string
}

// Client is the boundary to the language model provider. It receives fully
// formatted prompts and returns raw completion text; it never sees result
// rows beyond what callers put into the prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Config holds provider settings.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// FromAppConfig builds an llm.Config from the application configuration.
func FromAppConfig(cfg config.Config) Config {
	return Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Endpoint: cfg.LLM.Endpoint,
		Timeout:  cfg.LLMTimeout(),
	}
}

// NewClient creates a client for the configured provider.
func NewClient(cfg Config, logger *logrus.Logger) (Client, error) {
	switch cfg.Provider {
	case "lamini":
		return NewLamini(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
