package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sqlagent/internal/metrics"

	"github.com/sirupsen/logrus"
)

const defaultLaminiEndpoint = "https://api.lamini.ai"

// LaminiClient implements Client over the Lamini completions REST API.
type LaminiClient struct {
	config Config
	client *http.Client
	logger *logrus.Logger
}

// NewLamini creates a new Lamini client.
func NewLamini(cfg Config, logger *logrus.Logger) *LaminiClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultLaminiEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &LaminiClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// laminiRequest is the completions request body.
type laminiRequest struct {
	ModelName    string            `json:"model_name"`
	Prompt       string            `json:"prompt"`
	OutputType   map[string]string `json:"output_type,omitempty"`
	MaxNewTokens int               `json:"max_new_tokens,omitempty"`
}

// laminiError is the error response body.
type laminiError struct {
	Detail string `json:"detail"`
}

// Generate sends a prompt to the completions endpoint and returns the text
// response. When opts.OutputField is set, the provider returns a JSON object
// with that single field and its value is extracted here.
func (c *LaminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	stage := opts.Stage
	if stage == "" {
		stage = "unknown"
	}

	start := time.Now()
	text, err := c.generate(ctx, prompt, opts)
	metrics.LLMCallDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCalls.WithLabelValues(stage, "error").Inc()
		return "", err
	}
	metrics.LLMCalls.WithLabelValues(stage, "ok").Inc()
	return text, nil
}

func (c *LaminiClient) generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	reqBody := laminiRequest{
		ModelName:    c.config.Model,
		Prompt:       prompt,
		MaxNewTokens: opts.MaxNewTokens,
	}
	if opts.OutputField != "" {
		reqBody.OutputType = map[string]string{opts.OutputField: "str"}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.config.Endpoint + "/v1/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr laminiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
			return "", fmt.Errorf("lamini API returned %d: %s", resp.StatusCode, apiErr.Detail)
		}
		return "", fmt.Errorf("lamini API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return extractText(body, opts.OutputField)
}

// extractText pulls the completion text out of the response body. Structured
// responses carry the requested field directly; plain completions come back
// either as a bare string or under "output".
func extractText(body []byte, outputField string) (string, error) {
	var asString string
	if err := json.Unmarshal(body, &asString); err == nil {
		return asString, nil
	}

	var asObject map[string]interface{}
	if err := json.Unmarshal(body, &asObject); err != nil {
		return "", fmt.Errorf("failed to parse lamini response: %w (response: %.200s)", err, string(body))
	}

	if outputField != "" {
		if v, ok := asObject[outputField].(string); ok {
			return v, nil
		}
		return "", fmt.Errorf("lamini response missing field %q (response: %.200s)", outputField, string(body))
	}

	if v, ok := asObject["output"].(string); ok {
		return v, nil
	}

	// Single-field object: take the only string value.
	if len(asObject) == 1 {
		for _, val := range asObject {
			if s, ok := val.(string); ok {
				return s, nil
			}
		}
	}

	return "", fmt.Errorf("lamini returned no usable text (response: %.200s)", string(body))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
