// Package provider defines the boundary to the AI completion service.
// The completion call itself is an external collaborator; everything in this
// repository treats it as a black box that returns text or fails with a
// classified error.
package provider

import (
	"context"
)

// Request describes a single completion request.
type Request struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"` // nil means provider default
	MaxTokens    int      `json:"max_tokens,omitempty"`
}

// Usage reports token consumption for a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the result of a successful completion call.
type Completion struct {
	Content string `json:"content"`
	ModelID string `json:"model_id"`
	Usage   Usage  `json:"usage"`
}

// Client is the interface every completion backend implements.
// Complete blocks until the provider answers or the context is cancelled;
// failures are returned as *errors.ProviderError where classifiable.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Func adapts a plain function to the Client interface.
type Func func(ctx context.Context, req *Request) (*Completion, error)

// Complete implements Client.
func (f Func) Complete(ctx context.Context, req *Request) (*Completion, error) {
	return f(ctx, req)
}
