package core

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

// thinkSchema is THINK_SCHEMA from spec section 4.3: a strict JSON Schema
// constraining the LLM's structured reply to one think cycle.
const thinkSchema = `{
  "type": "object",
  "required": ["recommendations", "summary"],
  "properties": {
    "recommendations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["project", "action", "reason"],
        "properties": {
          "project": {"type": "string"},
          "action": {"type": "string", "enum": ["start", "stop", "restart", "notify", "skip"]},
          "reason": {"type": "string"},
          "priority": {"type": "integer", "minimum": 1, "maximum": 5},
          "message": {"type": "string"},
          "prompt": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "notificationTier": {"type": "integer", "minimum": 1, "maximum": 4}
        }
      }
    },
    "summary": {"type": "string"},
    "nextThinkIn": {"type": "integer", "minimum": 60, "maximum": 1800}
  }
}`

const (
	minNextThinkIn = 60 * time.Second
	maxNextThinkIn = 1800 * time.Second
	thinkTimeout   = 30 * time.Second
	digestTimeout  = 30 * time.Second
)

// thinkResponse is the shape thinkSchema constrains the LLM's reply to.
type thinkResponse struct {
	Recommendations []domain.Recommendation `json:"recommendations"`
	Summary         string                  `json:"summary"`
	NextThinkIn     *int                    `json:"nextThinkIn"`
}

// ThinkEngineConfig carries the tunables spec sections 4.3/6 name.
type ThinkEngineConfig struct {
	Model           string
	MinFreeMemoryMB int
}

// ThinkEngine owns the per-tick Idle->Thinking->Idle state machine that
// assembles context, calls the gated LLM gateway, parses and evaluates its
// reply, and appends the resulting Decision (spec section 4.3).
type ThinkEngine struct {
	assembler *ContextAssembler
	gateway   Gateway
	executor  *DecisionExecutor
	notifier  NotificationSender
	store     StateStore
	resource  ResourceProbe
	cfg       ThinkEngineConfig
	logger    *zap.Logger

	inFlight atomic.Bool
}

// ResourceProbe is the minimal host-resource check ThinkEngine needs before
// entering Thinking; satisfied structurally by capability.ResourceProbe.
type ResourceProbe interface {
	FreeMemoryMB(ctx context.Context) (int, error)
}

func NewThinkEngine(
	assembler *ContextAssembler,
	gateway Gateway,
	executor *DecisionExecutor,
	notifier NotificationSender,
	store StateStore,
	resource ResourceProbe,
	cfg ThinkEngineConfig,
	logger *zap.Logger,
) *ThinkEngine {
	return &ThinkEngine{
		assembler: assembler, gateway: gateway, executor: executor,
		notifier: notifier, store: store, resource: resource, cfg: cfg,
		logger: logger.With(zap.String("component", "think-engine")),
	}
}

// Think runs one cycle if none is already in flight; a concurrent call is
// dropped, never queued (spec section 5's single-flight ordering guarantee).
// Returns the next think delay, or 0 to keep the configured default.
func (te *ThinkEngine) Think(ctx context.Context) time.Duration {
	if !te.inFlight.CompareAndSwap(false, true) {
		te.logger.Debug("think cycle already in flight, dropping")
		return 0
	}
	defer te.inFlight.Store(false)

	if te.resource != nil {
		free, err := te.resource.FreeMemoryMB(ctx)
		if err == nil && free < te.cfg.MinFreeMemoryMB {
			te.logger.Warn("skipping think cycle: below free-memory floor", zap.Int("freeMB", free))
			return 0
		}
	}

	start := time.Now()
	prompt, err := te.assembler.Assemble(ctx)
	if err != nil {
		te.logger.Error("context assembly failed", zap.Error(err))
		te.appendFailedDecision(len(prompt), "", "assembly_error: "+err.Error(), start)
		return 0
	}

	raw, err := te.gateway.CallGated(ctx, prompt, GatewayOptions{
		Model:        te.cfg.Model,
		MaxTurns:     1,
		OutputFormat: "json",
		JSONSchema:   thinkSchema,
		Timeout:      thinkTimeout,
	})
	if err != nil {
		te.logger.Error("think gateway call failed", zap.Error(err))
		te.appendFailedDecision(len(prompt), "", classifyGatewayError(err), start)
		return 0
	}

	parsed, parseErr := parseThinkResponse(raw)
	if parseErr != nil {
		te.logger.Error("think response parse failure", zap.Error(parseErr))
		te.appendFailedDecision(len(prompt), rawPrefix(raw), "parse_error", start)
		return 0
	}

	evaluated := te.executor.Evaluate(parsed.Recommendations)

	te.store.AppendDecision(domain.Decision{
		Timestamp:         start,
		PromptLength:      len(prompt),
		ResponseRawPrefix: rawPrefix(raw),
		Recommendations:   parsed.Recommendations,
		Summary:           parsed.Summary,
		DurationMs:        time.Since(start).Milliseconds(),
		Evaluated:         evaluated,
	})

	if msg := te.executor.FormatForSMS(evaluated, parsed.Summary); msg != nil {
		te.notifier.Notify(*msg, 3)
	}

	for _, rec := range evaluated {
		if rec.Validated {
			te.executor.Execute(ctx, rec)
		}
	}

	if parsed.NextThinkIn != nil {
		d := time.Duration(*parsed.NextThinkIn) * time.Second
		if d < minNextThinkIn {
			d = minNextThinkIn
		}
		if d > maxNextThinkIn {
			d = maxNextThinkIn
		}
		return d
	}
	return 0
}

func (te *ThinkEngine) appendFailedDecision(promptLen int, rawPrefixStr, errMsg string, start time.Time) {
	te.store.AppendDecision(domain.Decision{
		Timestamp:         start,
		PromptLength:      promptLen,
		ResponseRawPrefix: rawPrefixStr,
		Recommendations:   nil,
		Summary:           "No summary",
		DurationMs:        time.Since(start).Milliseconds(),
		Error:             errMsg,
	})
}

func parseThinkResponse(raw string) (*thinkResponse, error) {
	var resp thinkResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, apperrors.NewParseFailure("think response did not decode: " + err.Error())
	}
	return &resp, nil
}

func rawPrefix(raw string) string {
	const n = 200
	if len(raw) <= n {
		return raw
	}
	return raw[:n]
}

// classifyGatewayError maps a gateway error to the timeout|exit_code_N|
// exec_error taxonomy spec section 4.3 names.
func classifyGatewayError(err error) string {
	if apperrors.Is(err, apperrors.CodeTimeout) {
		return "timeout"
	}
	msg := err.Error()
	if idx := strings.Index(msg, "EXIT_"); idx >= 0 {
		rest := msg[idx:]
		if end := strings.IndexAny(rest, ":] "); end > 0 {
			return "exit_code_" + rest[len("EXIT_"):end]
		}
		return strings.ToLower(rest)
	}
	return "exec_error"
}

// GenerateDigest produces a plain-text overnight summary for a single SMS,
// mutually exclusive with Think() via the same single-flight flag.
func (te *ThinkEngine) GenerateDigest(ctx context.Context) (string, error) {
	if !te.inFlight.CompareAndSwap(false, true) {
		return "", apperrors.NewPrecondition("think cycle in flight")
	}
	defer te.inFlight.Store(false)

	prompt, err := te.assembler.Assemble(ctx)
	if err != nil {
		return "", err
	}

	digestPrompt := "Write a concise overnight digest of project activity for the operator, plain text, no markdown.\n\n" + prompt

	raw, err := te.gateway.CallGated(ctx, digestPrompt, GatewayOptions{
		Model:        te.cfg.Model,
		MaxTurns:     1,
		OutputFormat: "text",
		Timeout:      digestTimeout,
	})
	if err != nil {
		return "", err
	}

	digest := strings.TrimSpace(raw)
	if len(digest) > smsHardLimit {
		digest = digest[:smsHardLimit-len("[truncated]")] + "[truncated]"
	}
	return digest, nil
}
