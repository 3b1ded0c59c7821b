package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/capability"
	"github.com/bradmccloskey/one-claude/internal/domain"
)

const conversationSlotIdle = 30 * time.Minute

var readOnlyTools = []string{"Read", "Glob", "Grep", "git-log", "git-show", "git-diff", "ls", "tail"}

// ConversationStore is the credential-redacted append-only chat log
// CommandRouter reads/writes; the concrete store lives under internal/store.
type ConversationStore interface {
	Push(entry domain.ConversationEntry)
	GetRecent(n int) []domain.ConversationEntry
}

// ReminderStore is the deferred-notification surface CommandRouter and the
// scan loop use; the concrete store lives under internal/store.
type ReminderStore interface {
	SetReminder(text string, fireAt time.Time, sourceMessage string) string
	ListPending() []domain.Reminder
	CancelByText(query string) int
}

// DecisionReader is the narrow slice of StateStore "ai explain" needs, kept
// separate so CommandRouter doesn't have to depend on the full StateStore
// surface for one read.
type DecisionReader interface {
	RecentDecisions(n int) []domain.Decision
}

// conversationSlot is the router's single pending-context carry-over, set
// by every notified event and most handlers, expiring after idle (spec
// section 4.8).
type conversationSlot struct {
	project   string
	kind      string // command | needs-input | completed | error
	updatedAt time.Time
}

// CommandRouterConfig carries the non-collaborator tunables CommandRouter
// needs (the AI-enabled flag is read live through isAIEnabled).
type CommandRouterConfig struct {
	Model string
}

// CommandRouter is the entry point for operator messages: it recognizes the
// kill-switch, AI sub-commands, and deterministic action commands
// synchronously, and falls back to a natural-language LLM path otherwise
// (spec section 4.8).
type CommandRouter struct {
	mux          capability.MuxDriver
	scanner      capability.ProjectScanner
	gateway      Gateway
	think        *ThinkEngine
	autonomy     *AutonomyState
	executor     *DecisionExecutor
	notifier     NotificationSender
	convos       ConversationStore
	reminders    ReminderStore
	decisions    DecisionReader
	assembler    *ContextAssembler
	cfg          CommandRouterConfig
	isAIEnabled  func() bool
	setAIEnabled func(bool)
	logger       *zap.Logger

	slot conversationSlot
}

func NewCommandRouter(
	mux capability.MuxDriver,
	scanner capability.ProjectScanner,
	gateway Gateway,
	think *ThinkEngine,
	autonomy *AutonomyState,
	executor *DecisionExecutor,
	notifier NotificationSender,
	convos ConversationStore,
	reminders ReminderStore,
	decisions DecisionReader,
	assembler *ContextAssembler,
	cfg CommandRouterConfig,
	isAIEnabled func() bool,
	setAIEnabled func(bool),
	logger *zap.Logger,
) *CommandRouter {
	return &CommandRouter{
		mux: mux, scanner: scanner, gateway: gateway, think: think,
		autonomy: autonomy, executor: executor, notifier: notifier,
		convos: convos, reminders: reminders, decisions: decisions, assembler: assembler, cfg: cfg,
		isAIEnabled: isAIEnabled, setAIEnabled: setAIEnabled,
		logger: logger.With(zap.String("component", "command-router")),
	}
}

// NotifySlot records the router's conversation context, called whenever an
// event (signal, handler) should become the target of a bare follow-up
// command like "go"/"stop".
func (r *CommandRouter) NotifySlot(project, kind string) {
	r.slot = conversationSlot{project: project, kind: kind, updatedAt: time.Now()}
}

func (r *CommandRouter) slotProject() (string, bool) {
	if r.slot.project == "" {
		return "", false
	}
	if time.Since(r.slot.updatedAt) > conversationSlotIdle {
		return "", false
	}
	return r.slot.project, true
}

// Route parses and dispatches one operator message, returning the text
// reply to send back (empty means nothing more to say synchronously — a
// natural-language reply is sent asynchronously by the caller once the
// gateway call returns).
func (r *CommandRouter) Route(ctx context.Context, message string) string {
	msg := strings.ToLower(strings.TrimSpace(message))

	if reply, handled := r.handleKillSwitch(msg); handled {
		return reply
	}

	if reply, handled := r.handleAISubcommand(ctx, msg); handled {
		return reply
	}

	if reply, handled := r.handleDeterministic(ctx, msg); handled {
		return reply
	}

	if r.isAIEnabled() {
		reply, err := r.handleNaturalLanguage(ctx, message)
		if err != nil {
			r.logger.Error("natural language handling failed", zap.Error(err))
			return "Sorry, I couldn't process that."
		}
		return reply
	}

	return "AI is off. Use deterministic commands, or 'ai on' to re-enable."
}

func (r *CommandRouter) handleKillSwitch(msg string) (string, bool) {
	switch msg {
	case "ai off":
		r.setAIEnabled(false)
		return "AI disabled.", true
	case "ai on":
		r.setAIEnabled(true)
		return "AI enabled.", true
	}
	return "", false
}

func (r *CommandRouter) handleAISubcommand(ctx context.Context, msg string) (string, bool) {
	fields := strings.Fields(msg)
	if len(fields) == 0 || fields[0] != "ai" {
		return "", false
	}
	if len(fields) < 2 {
		return "", false
	}

	switch fields[1] {
	case "status":
		return r.aiStatus(), true
	case "think":
		r.think.Think(ctx)
		return "Think cycle triggered.", true
	case "explain":
		return r.aiExplain(), true
	case "help":
		return "ai status|think|explain|help|level [observe|cautious|moderate|full]", true
	case "level":
		if len(fields) < 3 {
			return fmt.Sprintf("Current autonomy level: %s", r.autonomy.Level()), true
		}
		level := domain.AutonomyLevel(fields[2])
		if err := r.autonomy.SetLevel(level); err != nil {
			return "Invalid level: " + err.Error(), true
		}
		return "Autonomy level set to " + string(level), true
	}
	return "", false
}

func (r *CommandRouter) aiStatus() string {
	return fmt.Sprintf("autonomy=%s enabled=%t", r.autonomy.Level(), r.isAIEnabled())
}

func (r *CommandRouter) aiExplain() string {
	if r.decisions == nil {
		return "No recent think-cycle decisions."
	}
	decisions := r.decisions.RecentDecisions(1)
	if len(decisions) == 0 {
		return "No recent think-cycle decisions."
	}
	last := decisions[len(decisions)-1]
	return fmt.Sprintf("Last think at %s: %s", last.Timestamp.Format(time.RFC3339), last.Summary)
}

func (r *CommandRouter) handleDeterministic(ctx context.Context, msg string) (string, bool) {
	fields := strings.Fields(msg)
	if len(fields) == 0 {
		return "", false
	}

	switch fields[0] {
	case "help", "?":
		return "start|stop|restart|sessions|startall|stopall|status|priority|list|pause|unpause|shh|wake|quiet on|quiet off|reply <project>: <msg>", true
	case "sessions", "list":
		return r.listSessions(ctx), true
	case "status":
		if len(fields) > 1 {
			return r.projectStatus(ctx, strings.Join(fields[1:], " ")), true
		}
		return r.listSessions(ctx), true
	case "start":
		return r.dispatchProjectAction(ctx, fields[1:], domain.ActionStart), true
	case "stop":
		if len(fields) == 1 {
			if proj, ok := r.slotProject(); ok {
				return r.dispatchProjectAction(ctx, []string{proj}, domain.ActionStop), true
			}
			return "No active session context to stop.", true
		}
		return r.dispatchProjectAction(ctx, fields[1:], domain.ActionStop), true
	case "restart":
		return r.dispatchProjectAction(ctx, fields[1:], domain.ActionRestart), true
	case "startall", "stopall":
		return r.bulkAction(ctx, fields[0] == "startall"), true
	case "pause", "shh", "quiet":
		if fields[0] == "quiet" && len(fields) > 1 && fields[1] == "off" {
			return "Quiet hours override disabled.", true
		}
		return "Notifications paused.", true
	case "unpause", "wake":
		return "Notifications resumed.", true
	case "go", "continue", "yes", "ok":
		return r.actOnSlot(ctx), true
	case "priority":
		return "Priorities: see config.", true
	case "reply":
		return r.handleReply(ctx, msg), true
	}
	return "", false
}

func (r *CommandRouter) dispatchProjectAction(ctx context.Context, args []string, action domain.Action) string {
	if len(args) == 0 {
		return "Usage: " + string(action) + " <project>"
	}
	name := strings.Join(args, " ")
	project, ok := r.matchProject(ctx, name)
	if !ok {
		return "No matching project: " + name
	}

	rec := domain.Recommendation{Project: project, Action: action, Reason: "operator command", Validated: true, AutonomyLevel: r.autonomy.Level()}
	result := r.executor.Execute(ctx, rec)
	r.NotifySlot(project, "command")
	if result.Executed {
		return fmt.Sprintf("%s: %s", project, result.Outcome.Msg)
	}
	return fmt.Sprintf("%s: rejected (%s)", project, result.Rejected)
}

func (r *CommandRouter) actOnSlot(ctx context.Context) string {
	proj, ok := r.slotProject()
	if !ok {
		return "Nothing pending to continue."
	}
	return r.dispatchProjectAction(ctx, []string{proj}, domain.ActionStart)
}

func (r *CommandRouter) bulkAction(ctx context.Context, start bool) string {
	projects, err := r.scanner.Scan(ctx)
	if err != nil {
		return "Failed to list projects."
	}
	action := domain.ActionStop
	if start {
		action = domain.ActionStart
	}
	var results []string
	for _, p := range projects {
		rec := domain.Recommendation{Project: p.Name, Action: action, Reason: "bulk operator command", Validated: true, AutonomyLevel: r.autonomy.Level()}
		result := r.executor.Execute(ctx, rec)
		status := "ok"
		if !result.Executed {
			status = result.Rejected
		}
		results = append(results, p.Name+": "+status)
	}
	return strings.Join(results, "\n")
}

func (r *CommandRouter) listSessions(ctx context.Context) string {
	active, err := r.mux.ListActive(ctx)
	if err != nil || len(active) == 0 {
		return "No active sessions."
	}
	return "Active: " + strings.Join(active, ", ")
}

func (r *CommandRouter) projectStatus(ctx context.Context, name string) string {
	project, ok := r.matchProject(ctx, name)
	if !ok {
		return "No matching project: " + name
	}
	projects, _ := r.scanner.Scan(ctx)
	for _, p := range projects {
		if p.Name == project {
			return fmt.Sprintf("%s: %s/%s", p.Name, p.Phase, p.Progress)
		}
	}
	return project + ": unknown"
}

var replyPattern = regexp.MustCompile(`^reply\s+(.+?)\s*:\s*(.+)$`)

func (r *CommandRouter) handleReply(ctx context.Context, msg string) string {
	m := replyPattern.FindStringSubmatch(msg)
	if m == nil {
		return "Usage: reply <project>: <message>"
	}
	project, ok := r.matchProject(ctx, m[1])
	if !ok {
		return "No matching project: " + m[1]
	}
	if err := r.mux.SendInput(ctx, project, m[2]); err != nil {
		return "Failed to send input to " + project
	}
	r.NotifySlot(project, "command")
	return "Sent."
}

// matchProject resolves a (possibly fuzzy) project name against the
// scanner's catalog, per spec section 4.8: exact -> prefix -> substring ->
// Levenshtein <= 2 against the full name or a hyphen-split part. Ties
// within a tier are broken by lexicographically earliest name.
func (r *CommandRouter) matchProject(ctx context.Context, query string) (string, bool) {
	projects, err := r.scanner.Scan(ctx)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
	}
	return matchProjectName(query, names)
}

func matchProjectName(query string, names []string) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	for _, n := range sorted {
		if strings.ToLower(n) == q {
			return n, true
		}
	}
	for _, n := range sorted {
		if strings.HasPrefix(strings.ToLower(n), q) {
			return n, true
		}
	}
	for _, n := range sorted {
		if strings.Contains(strings.ToLower(n), q) {
			return n, true
		}
	}
	for _, n := range sorted {
		lower := strings.ToLower(n)
		if levenshtein(q, lower) <= 2 {
			return n, true
		}
		for _, part := range strings.Split(lower, "-") {
			if levenshtein(q, part) <= 2 {
				return n, true
			}
		}
	}
	return "", false
}

// levenshtein is the classic two-row dynamic-programming edit distance.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minOf3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minOf3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`),
	regexp.MustCompile(`[A-Za-z0-9_-]{32,}\.[A-Za-z0-9_-]{6,}\.[A-Za-z0-9_-]{20,}`), // JWT-shaped
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
}

// redactCredentials replaces common API-key/token shapes with a fixed
// marker before persisting a conversation entry.
func redactCredentials(s string) string {
	for _, p := range credentialPatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

var markdownStripPattern = regexp.MustCompile("(\\*\\*|__|\\*|_|`|#+\\s?)")

func stripMarkdown(s string) string {
	return strings.TrimSpace(markdownStripPattern.ReplaceAllString(s, ""))
}

var reminderSentinel = regexp.MustCompile(`(?s)REMINDER_JSON:\s*(\{.*\})\s*$`)

// handleNaturalLanguage builds a context-rich prompt and routes it through
// the gated LLM call with a read-only tool allowlist, per spec section 4.8.
func (r *CommandRouter) handleNaturalLanguage(ctx context.Context, rawMessage string) (string, error) {
	r.convos.Push(domain.ConversationEntry{Role: "user", Text: redactCredentials(rawMessage), TS: time.Now()})

	assembled, _ := r.assembler.Assemble(ctx)
	history := r.convos.GetRecent(10)

	var b strings.Builder
	fmt.Fprintf(&b, "Autonomy level: %s\n", r.autonomy.Level())
	b.WriteString("Recent conversation:\n")
	for _, h := range history {
		fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Text)
	}
	b.WriteString("\nContext:\n")
	b.WriteString(assembled)
	fmt.Fprintf(&b, "\n\nOperator message: %s\n", rawMessage)
	b.WriteString("\nIf the operator asked to be reminded of something, end your reply with a line: REMINDER_JSON:{\"text\":...,\"fireAt\":\"RFC3339\"}")

	raw, err := r.gateway.CallGated(ctx, b.String(), GatewayOptions{
		Model: r.cfg.Model, MaxTurns: 8, OutputFormat: "text",
		Timeout: 120 * time.Second, AllowedTools: readOnlyTools,
	})
	if err != nil {
		return "", err
	}

	reminderText := ""
	if m := reminderSentinel.FindStringSubmatch(raw); m != nil {
		reminderText = m[0]
		raw = strings.TrimSpace(raw[:len(raw)-len(m[0])])
	}

	reply := stripMarkdown(raw)
	r.handleReminderIntent(rawMessage, reminderText)

	r.convos.Push(domain.ConversationEntry{Role: "assistant", Text: redactCredentials(truncate(reply, 2000)), TS: time.Now()})
	return reply, nil
}

var listRemindersPattern = regexp.MustCompile(`(?i)(list|show)\s+reminders?`)
var cancelReminderPattern = regexp.MustCompile(`(?i)cancel\s+reminder\s*(.*)$`)

func (r *CommandRouter) handleReminderIntent(rawMessage, sentinel string) {
	lower := strings.ToLower(rawMessage)

	if listRemindersPattern.MatchString(lower) {
		return // listing is answered by the LLM reply itself; nothing to persist
	}
	if m := cancelReminderPattern.FindStringSubmatch(lower); m != nil {
		r.reminders.CancelByText(strings.TrimSpace(m[1]))
		return
	}
	if sentinel == "" {
		return
	}
	fireAt, text, ok := parseReminderSentinel(sentinel)
	if ok {
		r.reminders.SetReminder(text, fireAt, rawMessage)
	}
}

type reminderSentinelPayload struct {
	Text   string `json:"text"`
	FireAt string `json:"fireAt"`
}

func parseReminderSentinel(sentinel string) (time.Time, string, bool) {
	jsonStart := strings.IndexByte(sentinel, '{')
	if jsonStart < 0 {
		return time.Time{}, "", false
	}
	var payload reminderSentinelPayload
	if err := json.Unmarshal([]byte(sentinel[jsonStart:]), &payload); err != nil {
		return time.Time{}, "", false
	}
	fireAt, err := time.Parse(time.RFC3339, payload.FireAt)
	if err != nil || payload.Text == "" {
		return time.Time{}, "", false
	}
	return fireAt, payload.Text, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
