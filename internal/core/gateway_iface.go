package core

import (
	"context"
	"time"
)

// GatewayOptions mirrors llmgateway.Options without core importing the
// infrastructure package directly — the composition root adapts the
// concrete gateway to this interface, keeping it a leaf dependency.
type GatewayOptions struct {
	Model        string
	MaxTurns     int
	OutputFormat string
	JSONSchema   string
	Timeout      time.Duration
	AllowedTools []string
}

// Gateway is the subset of llmgateway.Gateway the core needs: a single
// semaphore-gated call into the external LLM CLI.
type Gateway interface {
	CallGated(ctx context.Context, prompt string, opts GatewayOptions) (string, error)
}
