package app

import (
	"context"

	"github.com/bradmccloskey/one-claude/internal/core"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/llmgateway"
)

// gatewayAdapter narrows *llmgateway.Gateway to the core.Gateway leaf
// interface, translating core.GatewayOptions to llmgateway.Options so
// internal/core never imports the infrastructure package directly.
type gatewayAdapter struct {
	gw *llmgateway.Gateway
}

func (a *gatewayAdapter) CallGated(ctx context.Context, prompt string, opts core.GatewayOptions) (string, error) {
	return a.gw.CallGated(ctx, prompt, llmgateway.Options{
		Model:        opts.Model,
		MaxTurns:     opts.MaxTurns,
		OutputFormat: opts.OutputFormat,
		JSONSchema:   opts.JSONSchema,
		Timeout:      opts.Timeout,
		AllowedTools: opts.AllowedTools,
	})
}
