package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// StubClient is a deterministic offline backend used when no upstream
// provider is configured. It echoes a digest of the prompt so that cache
// behavior can be exercised end to end without network access.
type StubClient struct {
	ModelID string
}

// NewStubClient creates a stub backend.
func NewStubClient(modelID string) *StubClient {
	if modelID == "" {
		modelID = "lexcache-stub"
	}
	return &StubClient{ModelID: modelID}
}

// Complete returns a synthetic completion derived from the request.
func (s *StubClient) Complete(_ context.Context, req *Request) (*Completion, error) {
	sum := sha256.Sum256([]byte(req.SystemPrompt + "\n" + req.Prompt))
	return &Completion{
		Content: fmt.Sprintf("stub analysis %s", hex.EncodeToString(sum[:8])),
		ModelID: s.ModelID,
		Usage: Usage{
			InputTokens:  len(req.Prompt) / 4,
			OutputTokens: 16,
		},
	}, nil
}
