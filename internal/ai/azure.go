package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sage/internal/httpclient"
	"sage/internal/logging"
)

const responseLimit = 4 << 20

// AzureConfig configures the Azure OpenAI chat-completions client.
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
	MaxTokens  int
	Timeout    time.Duration
}

// AzureClient speaks the Azure OpenAI chat completions API.
type AzureClient struct {
	cfg    AzureConfig
	http   *http.Client
	logger logging.Logger
}

// NewAzureClient validates the config and builds a client.
func NewAzureClient(cfg AzureConfig, logger logging.Logger) (*AzureClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure openai endpoint is required")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure openai deployment is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	logger = logging.OrNop(logger)
	return &AzureClient{
		cfg:    cfg,
		http:   httpclient.New(timeout, logger),
		logger: logger,
	}, nil
}

// Compose sends the assembled transcript to the deployment and returns the
// trimmed completion text.
func (c *AzureClient) Compose(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	payload := map[string]any{
		"messages":    buildMessages(req),
		"temperature": req.Temperature,
		"max_tokens":  maxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.cfg.Endpoint, url.PathEscape(c.cfg.Deployment), url.QueryEscape(c.cfg.APIVersion))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := httpclient.ReadAllWithLimit(resp.Body, 2048)
		c.logger.Warn("azure openai status %d: %s", resp.StatusCode, string(raw))
		return "", fmt.Errorf("chat completion: status %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := httpclient.DecodeJSON(resp.Body, responseLimit, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
