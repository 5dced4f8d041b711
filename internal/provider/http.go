package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	lexerrors "github.com/seolha-lab/lexcache/pkg/errors"
)

// HTTPClient calls the upstream completion endpoint over HTTP. Non-2xx
// responses are classified by status code into retryable and terminal
// provider errors; transport failures stay unclassified and default to
// retryable.
type HTTPClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Endpoint string        // completion URL, required
	APIKey   string        // bearer token, optional
	Model    string        // model identifier sent with every request
	Timeout  time.Duration // per-request bound, default 60s
}

// NewHTTPClient creates an HTTP completion backend.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("provider: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// completionPayload is the wire form of a completion call.
type completionPayload struct {
	Model        string   `json:"model"`
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
}

// Complete posts the request and decodes the completion.
func (c *HTTPClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	body, err := json.Marshal(completionPayload{
		Model:        c.model,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, lexerrors.FromStatusCode(resp.StatusCode, c.model, readErrorMessage(resp.Body))
	}

	var comp Completion
	if err := json.NewDecoder(resp.Body).Decode(&comp); err != nil {
		return nil, fmt.Errorf("provider: decode response: %w", err)
	}
	if comp.ModelID == "" {
		comp.ModelID = c.model
	}
	return &comp, nil
}

// readErrorMessage pulls the message out of an error body of the shape
// {"error": {"message": "..."}}, falling back to the raw body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "provider request failed"
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return string(raw)
}
