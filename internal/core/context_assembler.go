package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/capability"
	"github.com/bradmccloskey/one-claude/internal/domain"
)

const (
	contextSeparator       = "\n\n---\n\n"
	defaultMaxPromptLength = 8000
	truncatedMarker        = "\n[Context truncated]"
)

// Priorities carries the operator's standing instructions: projects to
// focus on, block, or skip, plus freeform notes.
type Priorities struct {
	Focus []string
	Block []string
	Skip  []string
	Notes string
}

// QuietHoursPredicate reports whether `at` falls in the configured quiet
// window; shared with NotificationPipeline so the two never disagree.
type QuietHoursPredicate interface {
	IsQuiet(at time.Time) bool
}

// ContextAssembler gathers project/session/resource/health/trust/decision
// snapshots into one compact prompt for the LLM, never exceeding
// maxPromptLength (spec section 4.2).
type ContextAssembler struct {
	scanner    capability.ProjectScanner
	mux        capability.MuxDriver
	resource   capability.ResourceProbe
	health     *HealthController
	autonomy   *AutonomyState
	store      StateStore
	quiet      QuietHoursPredicate
	priorities func() Priorities

	maxPromptLength int
	logger          *zap.Logger
}

func NewContextAssembler(
	scanner capability.ProjectScanner,
	mux capability.MuxDriver,
	resource capability.ResourceProbe,
	health *HealthController,
	autonomy *AutonomyState,
	store StateStore,
	quiet QuietHoursPredicate,
	priorities func() Priorities,
	maxPromptLength int,
	logger *zap.Logger,
) *ContextAssembler {
	if maxPromptLength <= 0 {
		maxPromptLength = defaultMaxPromptLength
	}
	return &ContextAssembler{
		scanner: scanner, mux: mux, resource: resource, health: health,
		autonomy: autonomy, store: store, quiet: quiet, priorities: priorities,
		maxPromptLength: maxPromptLength,
		logger:          logger.With(zap.String("component", "context-assembler")),
	}
}

// Assemble builds the prompt string for one think cycle.
func (c *ContextAssembler) Assemble(ctx context.Context) (string, error) {
	projects, err := c.scanner.Scan(ctx)
	if err != nil {
		return "", err
	}
	active, err := c.mux.ListActive(ctx)
	if err != nil {
		active = nil
	}
	activeSet := make(map[string]bool, len(active))
	for _, p := range active {
		activeSet[p] = true
	}

	sections := []string{
		c.preamble(projects, active),
		c.timeSection(),
	}

	if p := c.priorities(); p.Focus != nil || p.Block != nil || p.Skip != nil || p.Notes != "" {
		sections = append(sections, c.prioritiesSection(p))
	}

	sections = append(sections, c.activeSessionsSection(active))
	sections = append(sections, c.resourceHealthSection(ctx))
	sections = append(sections, c.projectsSection(projects, activeSet))
	sections = append(sections, c.recentDecisionsSection())
	sections = append(sections, c.outputContractSection())

	prompt := strings.Join(sections, contextSeparator)
	if len(prompt) > c.maxPromptLength {
		cut := c.maxPromptLength - len(truncatedMarker)
		if cut < 0 {
			cut = 0
		}
		prompt = prompt[:cut] + truncatedMarker
	}
	return prompt, nil
}

func (c *ContextAssembler) preamble(projects []capability.ProjectStatus, active []string) string {
	needsAttention := 0
	for _, p := range projects {
		if p.NeedsAttention {
			needsAttention++
		}
	}
	return fmt.Sprintf("%d projects tracked, %d sessions active, %d need attention, autonomy=%s",
		len(projects), len(active), needsAttention, c.autonomy.Level())
}

func (c *ContextAssembler) timeSection() string {
	now := time.Now()
	quiet := c.quiet != nil && c.quiet.IsQuiet(now)
	return fmt.Sprintf("time=%s quietHours=%t", now.Format(time.RFC3339), quiet)
}

func (c *ContextAssembler) prioritiesSection(p Priorities) string {
	var b strings.Builder
	b.WriteString("Priorities:\n")
	if len(p.Focus) > 0 {
		fmt.Fprintf(&b, "focus: %s\n", strings.Join(p.Focus, ", "))
	}
	if len(p.Block) > 0 {
		fmt.Fprintf(&b, "block: %s\n", strings.Join(p.Block, ", "))
	}
	if len(p.Skip) > 0 {
		fmt.Fprintf(&b, "skip: %s\n", strings.Join(p.Skip, ", "))
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "notes: %s\n", p.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *ContextAssembler) activeSessionsSection(active []string) string {
	if len(active) == 0 {
		return "Active sessions: none"
	}
	return "Active sessions: " + strings.Join(active, ", ")
}

func (c *ContextAssembler) projectsSection(projects []capability.ProjectStatus, active map[string]bool) string {
	sorted := make([]capability.ProjectStatus, len(projects))
	copy(sorted, projects)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Focus != sorted[j].Focus {
			return sorted[i].Focus
		}
		if sorted[i].NeedsAttention != sorted[j].NeedsAttention {
			return sorted[i].NeedsAttention
		}
		return sorted[i].Name < sorted[j].Name
	})

	var b strings.Builder
	for _, p := range sorted {
		fmt.Fprintf(&b, "%s: %s/%s", p.Name, p.Phase, p.Progress)
		if active[p.Name] {
			b.WriteString(" [SESSION ACTIVE]")
		}
		b.WriteString("\n")
		if p.NeedsAttention {
			b.WriteString("  ATTENTION\n")
		}
		if len(p.Blockers) > 0 {
			fmt.Fprintf(&b, "  Blockers: %s\n", strings.Join(p.Blockers, "; "))
		}
		if p.UserNote != "" {
			fmt.Fprintf(&b, "  Note: %s\n", p.UserNote)
		}
		if !p.LastActivity.IsZero() {
			fmt.Fprintf(&b, "  Last activity: %s\n", p.LastActivity.Format(time.RFC3339))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// resourceHealthSection reports free memory and per-service health so the
// think pass can factor current resource pressure and service status into
// its recommendations (spec section 4.3).
func (c *ContextAssembler) resourceHealthSection(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("Resources:\n")

	if c.resource == nil {
		b.WriteString("free memory: unknown\n")
	} else if freeMB, err := c.resource.FreeMemoryMB(ctx); err != nil {
		fmt.Fprintf(&b, "free memory: unknown (%v)\n", err)
	} else {
		fmt.Fprintf(&b, "free memory: %d MB\n", freeMB)
	}

	if c.health == nil {
		b.WriteString("health: not monitored")
		return strings.TrimRight(b.String(), "\n")
	}

	results := c.health.Results()
	if len(results) == 0 {
		b.WriteString("health: no services configured")
		return strings.TrimRight(b.String(), "\n")
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("health:\n")
	for _, name := range names {
		r := results[name]
		fmt.Fprintf(&b, "  %s: %s (consecutive fails=%d)\n", name, r.Status, r.ConsecutiveFails)
	}
	used, cap := c.health.RestartBudgetSnapshot()
	fmt.Fprintf(&b, "restart budget: %d/%d this hour\n", used, cap)

	return strings.TrimRight(b.String(), "\n")
}

func (c *ContextAssembler) recentDecisionsSection() string {
	decisions := c.store.RecentDecisions(5)
	if len(decisions) == 0 {
		return "Recent decisions: none"
	}
	var b strings.Builder
	b.WriteString("Recent decisions:\n")
	for _, d := range decisions {
		fmt.Fprintf(&b, "- %s: %s\n", d.Timestamp.Format(time.RFC3339), d.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *ContextAssembler) outputContractSection() string {
	return `Respond with JSON: {"recommendations":[{"project","action","reason","priority?","message?","prompt?","confidence?","notificationTier?"}],"summary","nextThinkIn?"}`
}
