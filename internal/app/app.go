// Package app is the composition root: it owns every collaborator's
// lifetime, wires the leaf interfaces declared in internal/core to their
// concrete internal/store and internal/infrastructure implementations, and
// drives the three timer loops plus the cron schedule. Built around a
// phased constructor (initStores -> initInfrastructure ->
// initDomainServices -> initInterfaces) so each phase's collaborators are
// fully wired before the next phase needs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bradmccloskey/one-claude/internal/capability"
	"github.com/bradmccloskey/one-claude/internal/core"
	"github.com/bradmccloskey/one-claude/internal/domain"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/config"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/eventbus"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/llmgateway"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/monitoring"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/mux"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/procmon"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/projectscan"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/telegram"
	"github.com/bradmccloskey/one-claude/internal/store"
	"github.com/bradmccloskey/one-claude/pkg/safego"
)

const (
	scanInterval         = 60 * time.Second
	defaultThinkInterval = 5 * time.Minute
	shutdownGraceTimeout = 2 * time.Second
	digestTimeout        = 30 * time.Second
	eventBusBufferSize   = 256
)

// App holds every wired collaborator plus the loop-control state needed to
// start and gracefully stop the daemon.
type App struct {
	cfg    *config.Store
	logger *zap.Logger
	db     *gorm.DB

	state     *store.JSONStateStore
	convos    *store.GormConversationStore
	reminders *store.GormReminderStore
	archive   *store.EvaluationArchive

	gateway    *llmgateway.Gateway
	muxDriver  *mux.Driver
	procFinder *procmon.ProcessFinder
	resource   *procmon.HostResourceProbe
	containers *procmon.DockerRuntime
	sms        capability.SMSTransport

	scanner *projectscan.Scanner
	git     *projectscan.GitIntrospector
	signals *projectscan.SignalReader
	quiet   *quietHours

	autonomy  *core.AutonomyState
	cooldown  *core.CooldownMap
	dedup     *core.RecommendationHashMap
	executor  *core.DecisionExecutor
	assembler *core.ContextAssembler
	think     *core.ThinkEngine
	health    *core.HealthController
	notifier  *core.NotificationPipeline
	router    *core.CommandRouter
	evaluator *core.SessionEvaluator

	bus           *eventbus.InMemoryBus
	cron          *cron.Cron
	monitor       *monitoring.Monitor
	metricsServer *http.Server

	aiEnabled atomic.Bool
	lastSMSID atomic.Int64

	sessionsMu    sync.Mutex
	activeBefore  map[string]bool
	sessionStarts map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewApp builds every collaborator and wires it to its leaf interfaces. No
// loop is started yet; call Start to begin the daemon's timers.
func NewApp(cfg *config.Store, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("bootstrap failed (non-fatal)", zap.Error(err))
	}

	a := &App{
		cfg:           cfg,
		logger:        logger,
		stopCh:        make(chan struct{}),
		activeBefore:  make(map[string]bool),
		sessionStarts: make(map[string]time.Time),
	}
	a.aiEnabled.Store(cfg.Get().AI.Enabled)

	if err := a.initStores(); err != nil {
		return nil, fmt.Errorf("failed to init stores: %w", err)
	}
	if err := a.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := a.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}
	if err := a.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}

	return a, nil
}

func (a *App) projectsRoot() string {
	if root := a.cfg.Get().Runtime.ProjectsRoot; root != "" {
		return root
	}
	return config.HomeDir() + "/projects"
}

func (a *App) statePath() string {
	if p := a.cfg.Get().Runtime.StatePath; p != "" {
		return p
	}
	return config.HomeDir() + "/state/state.json"
}

// initStores wires the durable-state surfaces: the hand-rolled JSON
// document store and the GORM/sqlite-backed repositories.
func (a *App) initStores() error {
	cfg := a.cfg.Get()

	state, err := store.Open(a.statePath(), a.logger)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	a.state = state

	db, err := store.NewDBConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	a.db = db

	convos, err := store.NewGormConversationStore(db)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}
	a.convos = convos
	a.reminders = store.NewGormReminderStore(db)
	a.archive = store.NewEvaluationArchive(db)

	return nil
}

// initInfrastructure wires the external-collaborator capabilities: the LLM
// gateway, the mux session driver, process/resource/container probes, the
// SMS transport, and the project-scanning trio.
func (a *App) initInfrastructure() error {
	cfg := a.cfg.Get()

	a.bus = eventbus.NewInMemoryBus(a.logger, eventBusBufferSize)
	a.monitor = monitoring.NewMonitor(a.logger)

	a.gateway = llmgateway.New(cfg.Runtime.GatewayBinary, cfg.Runtime.GatewayCapacity, a.logger)
	a.muxDriver = mux.New(cfg.Runtime.MuxCLIBinary, func(project string) string {
		return a.scanner.ProjectDir(project)
	}, a.logger)

	a.procFinder = procmon.NewProcessFinder(cfg.Runtime.KickstartCommands, a.logger)
	a.resource = procmon.NewHostResourceProbe()

	containers, err := procmon.NewDockerRuntime(a.logger)
	if err != nil {
		a.logger.Warn("docker runtime unavailable, container health probes disabled", zap.Error(err))
	} else {
		a.containers = containers
	}

	a.scanner = projectscan.NewScanner(a.projectsRoot(), a.logger)
	a.git = projectscan.NewGitIntrospector(a.logger)
	a.signals = projectscan.NewSignalReader(a.projectsRoot(), a.logger)
	a.quiet = newQuietHours(a.cfg)

	if cfg.Telegram.BotToken != "" {
		sms, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.AllowIDs, a.logger)
		if err != nil {
			return fmt.Errorf("telegram transport: %w", err)
		}
		a.sms = sms
	} else {
		a.logger.Warn("telegram.bot_token is empty; operator SMS transport disabled")
	}

	return nil
}

// initDomainServices wires the core decision-making components: autonomy,
// cooldown/dedup gates, the decision executor, context assembly, the think
// engine, health monitoring, the notification waist, and the session
// evaluator.
func (a *App) initDomainServices() error {
	cfg := a.cfg.Get()

	trust := core.TrustConfig{
		CautiousToModerate: core.TrustThreshold(cfg.Trust.Thresholds.CautiousToModerate),
		ModerateToFull:     core.TrustThreshold(cfg.Trust.Thresholds.ModerateToFull),
	}
	a.autonomy = core.NewAutonomyState(a.state, trust, a.logger)
	if err := a.autonomy.SetLevel(domain.AutonomyLevel(cfg.AI.AutonomyLevel)); err != nil {
		a.logger.Warn("configured autonomy_level rejected, keeping persisted value", zap.Error(err))
	}

	a.cooldown = core.NewCooldownMap(cfg.AI.Cooldowns.SameActionMs, cfg.AI.Cooldowns.SameProjectMs)
	a.dedup = core.NewRecommendationHashMap(cfg.AI.DedupTTLMs)

	a.notifier = core.NewNotificationPipeline(a.sendSMS, a.quiet, core.NotificationPipelineConfig{
		DailyBudget:       cfg.AI.Notifications.DailyBudget,
		BatchInterval:     time.Duration(cfg.AI.Notifications.BatchIntervalMs) * time.Millisecond,
		UrgentBypassQuiet: cfg.AI.Notifications.UrgentBypassQuiet,
	}, a.logger)

	a.executor = core.NewDecisionExecutor(a.state, a.autonomy, a.cooldown, a.dedup, a.muxDriver, a.notifier,
		a.resource, core.DecisionExecutorConfig{
			ProtectedProjects:     cfg.AI.ProtectedProjects,
			MaxConcurrentSessions: cfg.MaxConcurrentSessions,
			MaxErrorRetries:       cfg.AI.MaxErrorRetries,
			MinFreeMemoryMB:       cfg.AI.ResourceLimits.MinFreeMemoryMB,
		}, a.logger)

	services := make([]core.ServiceProbeConfig, 0, len(cfg.Health.Services))
	for _, s := range cfg.Health.Services {
		services = append(services, core.ServiceProbeConfig{
			Name: s.Name, Type: s.Type, Target: s.Target,
			Interval:       time.Duration(s.IntervalMs) * time.Millisecond,
			Timeout:        time.Duration(s.TimeoutMs) * time.Millisecond,
			ContainerNames: s.ContainerNames, RestartCmd: s.RestartCmd,
		})
	}
	// a.containers is a *procmon.DockerRuntime that may be nil when the
	// docker client failed to initialize; pass it through an explicit
	// untyped-nil check so HealthController sees a true nil interface
	// rather than an interface wrapping a nil pointer.
	var containers capability.ContainerRuntime
	if a.containers != nil {
		containers = a.containers
	}
	a.health = core.NewHealthController(core.HealthControllerConfig{
		Services:                    services,
		ConsecutiveFailsBeforeAlert: cfg.Health.ConsecutiveFailsBeforeAlert,
		CorrelatedFailureThreshold:  cfg.Health.CorrelatedFailureThreshold,
		RestartBudgetMaxPerHour:     cfg.Health.RestartBudget.MaxPerHour,
	}, a.state, a.autonomy, a.notifier, a.procFinder, containers, a.logger)

	a.assembler = core.NewContextAssembler(a.scanner, a.muxDriver, a.resource, a.health, a.autonomy, a.state,
		a.quiet, func() core.Priorities { return core.Priorities{} }, cfg.AI.MaxPromptLength, a.logger)

	a.think = core.NewThinkEngine(a.assembler, &gatewayAdapter{a.gateway}, a.executor, a.notifier, a.state,
		a.resource, core.ThinkEngineConfig{Model: cfg.AI.Model, MinFreeMemoryMB: cfg.AI.ResourceLimits.MinFreeMemoryMB}, a.logger)

	a.evaluator = core.NewSessionEvaluator(a.muxDriver, a.git, &gatewayAdapter{a.gateway}, a.state, a.archive,
		a.scanner, a.scanner.ProjectDir, core.SessionEvaluatorConfig{Model: cfg.AI.Model}, a.logger)

	return nil
}

// initInterfaces wires the operator-facing command router, the one
// remaining piece every inbound SMS and deterministic command passes
// through.
func (a *App) initInterfaces() error {
	cfg := a.cfg.Get()

	a.router = core.NewCommandRouter(a.muxDriver, a.scanner, &gatewayAdapter{a.gateway}, a.think, a.autonomy,
		a.executor, a.notifier, a.convos, a.reminders, a.state, a.assembler,
		core.CommandRouterConfig{Model: cfg.AI.Model}, a.aiEnabled.Load, a.aiEnabled.Store, a.logger)

	a.subscribeEvents()

	return nil
}

// subscribeEvents wires the judge pass to the session-ended event instead of
// calling SessionEvaluator directly from the scan loop, so a slow judge call
// never blocks the next signal in the same poll. A wildcard handler keeps a
// debug trail of everything that crosses the bus.
func (a *App) subscribeEvents() {
	a.bus.Subscribe(eventbus.EventTypeSessionEnded, func(ctx context.Context, ev eventbus.Event) {
		payload, ok := ev.Payload().(eventbus.SessionEndedPayload)
		if !ok {
			return
		}
		eval := a.evaluator.Evaluate(ctx, payload.SessionID, payload.Project, payload.StartedAt)
		tier := core.TierSummary
		if payload.Kind == "error" || eval.Recommendation == domain.EvalEscalate {
			tier = core.TierUrgent
		}
		a.monitor.IncNotificationSent(int(tier))
		a.notifier.Notify(fmt.Sprintf("%s %s (score %d/5): %s", payload.Project, payload.Kind, eval.Score, eval.Reasoning), int(tier))
	})

	a.bus.Subscribe("*", func(_ context.Context, ev eventbus.Event) {
		a.logger.Debug("event", zap.String("type", ev.Type()))
	})
}

func (a *App) sendSMS(text string) error {
	if a.sms == nil {
		a.logger.Debug("no SMS transport configured, dropping notification", zap.String("text", text))
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.sms.Send(ctx, text)
}

// Logger exposes the daemon's root logger for other entry points (e.g. the
// CLI) that need to log before or after the app's own lifetime.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config exposes the live configuration snapshot.
func (a *App) Config() *config.Store { return a.cfg }

// Start wires the cron schedule and launches the scan, think, and
// notification-flush loops. It returns once every loop goroutine has been
// launched; the loops themselves run until Stop is called.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting overseer")

	if err := a.startCron(); err != nil {
		return fmt.Errorf("failed to start cron schedule: %w", err)
	}

	if a.cfg.Get().Metrics.Enabled {
		a.startMetricsServer()
	}

	a.wg.Add(3)
	safego.Go(a.logger, "scan-loop", func() { a.scanLoop(ctx) })
	safego.Go(a.logger, "think-loop", func() { a.thinkLoop(ctx) })
	safego.Go(a.logger, "notify-flush-loop", func() { a.notifyFlushLoop(ctx) })

	a.logger.Info("overseer started")
	return nil
}

// Stop signals every loop to exit, waits for them to drain (bounded by
// shutdownGraceTimeout), stops the cron schedule and any pending health
// restart-verification timers, flushes queued notifications, kills active
// mux sessions, and closes the database connection. mux.Driver.Stop kills
// a session's terminal-multiplexer window immediately rather than
// signalling it to wind down, so there is no separate interrupt-then-kill
// phase here — just a bounded deadline per session.
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("stopping overseer")

	a.stopOnce.Do(func() { close(a.stopCh) })

	drained := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownGraceTimeout):
		a.logger.Warn("loops did not drain before shutdown grace period elapsed")
	}

	if a.cron != nil {
		cronCtx := a.cron.Stop()
		<-cronCtx.Done()
	}
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		cancel()
	}
	a.health.Shutdown()
	a.notifier.Flush()
	a.bus.Close()

	if active, err := a.muxDriver.ListActive(ctx); err != nil {
		a.logger.Warn("failed to list active sessions during shutdown", zap.Error(err))
	} else {
		for _, project := range active {
			if _, err := a.muxDriver.Stop(ctx, project); err != nil {
				a.logger.Warn("failed to stop session during shutdown", zap.String("project", project), zap.Error(err))
			}
		}
	}

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.logger.Error("failed to close database connection", zap.Error(err))
			}
		}
	}

	a.logger.Info("overseer stopped")
	return nil
}

// startMetricsServer mounts the monitor's Prometheus-text handler on a
// loopback-only listener. A bind failure here is logged, not fatal — the
// daemon's supervisory loops don't depend on the debug endpoint.
func (a *App) startMetricsServer() {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", a.monitor.PrometheusHandler())
	a.metricsServer = &http.Server{Addr: a.cfg.Get().Metrics.Addr, Handler: metricsMux}

	safego.Go(a.logger, "metrics-server", func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	})
}

// startCron registers the morning/evening digest and weekly-revenue jobs
// named in spec section 6, each gated by its own enabled flag.
func (a *App) startCron() error {
	a.cron = cron.New()
	cfg := a.cfg.Get()

	jobs := []struct {
		name string
		job  config.CronJob
	}{
		{"morning_digest", cfg.MorningDigest},
		{"evening_digest", cfg.EveningDigest},
		{"weekly_revenue", cfg.WeeklyRevenue},
	}
	for _, j := range jobs {
		if !j.job.Enabled {
			continue
		}
		name := j.name
		if _, err := a.cron.AddFunc(j.job.Cron, func() { a.runDigest(name) }); err != nil {
			return fmt.Errorf("%s cron entry %q: %w", name, j.job.Cron, err)
		}
	}

	a.cron.Start()
	return nil
}

func (a *App) runDigest(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), digestTimeout)
	defer cancel()

	digest, err := a.think.GenerateDigest(ctx)
	if err != nil {
		a.logger.Warn("digest generation failed", zap.String("job", name), zap.Error(err))
		return
	}
	a.monitor.IncNotificationSent(int(core.TierSummary))
	a.notifier.Notify(digest, int(core.TierSummary))
}

// scanLoop polls the project scanner, the mux driver, and the filesystem
// signal protocol on a fixed interval, diffing active sessions against the
// previous tick to track start times, evaluating sessions that report
// completion or error, and carrying the command router's conversation slot
// forward so a bare operator follow-up targets the right project.
func (a *App) scanLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.scanOnce(ctx)
		}
	}
}

func (a *App) scanOnce(ctx context.Context) {
	a.health.Tick(ctx)

	active, err := a.muxDriver.ListActive(ctx)
	if err != nil {
		a.logger.Warn("list active sessions failed", zap.Error(err))
	} else {
		a.trackSessionStarts(active)
		a.monitor.SetActiveSessions(int64(len(active)))
	}

	events, err := a.signals.Poll(ctx)
	if err != nil {
		a.logger.Warn("signal poll failed", zap.Error(err))
	}
	for _, ev := range events {
		a.handleSignal(ctx, ev)
	}

	if a.sms != nil {
		a.pollOperatorMessages(ctx)
	}

	a.fireDueReminders()
	a.syncAutonomyPromotion()
}

// fireDueReminders notifies the operator of every pending reminder whose
// fire time has passed and marks it fired so it is not sent again.
func (a *App) fireDueReminders() {
	now := time.Now()
	for _, r := range a.reminders.ListPending() {
		if r.FireAt.After(now) {
			continue
		}
		a.monitor.IncNotificationSent(int(core.TierAction))
		a.notifier.Notify("Reminder: "+r.Text, int(core.TierAction))
		if err := a.reminders.MarkFired(r.ID); err != nil {
			a.logger.Warn("failed to mark reminder fired", zap.String("id", r.ID), zap.Error(err))
		}
	}
}

// syncAutonomyPromotion folds the latest execution/evaluation history into
// the trust tracker and surfaces an advisory promotion message once the
// current level qualifies, per the autonomy ladder's trust thresholds.
func (a *App) syncAutonomyPromotion() {
	a.autonomy.SyncTrustCounters()
	if rec := a.autonomy.CheckPromotion(); rec != nil {
		a.monitor.IncNotificationSent(int(core.TierSummary))
		a.notifier.Notify(rec.Text, int(core.TierSummary))
	}
}

func (a *App) trackSessionStarts(active []string) {
	now := time.Now()
	activeSet := make(map[string]bool, len(active))
	for _, project := range active {
		activeSet[project] = true
	}

	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	for project := range activeSet {
		if !a.activeBefore[project] {
			a.sessionStarts[project] = now
		}
	}
	for project := range a.activeBefore {
		if !activeSet[project] {
			delete(a.sessionStarts, project)
		}
	}
	a.activeBefore = activeSet
}

func (a *App) sessionStartedAt(project string) time.Time {
	a.sessionsMu.Lock()
	defer a.sessionsMu.Unlock()
	if t, ok := a.sessionStarts[project]; ok {
		return t
	}
	return time.Now().Add(-scanInterval)
}

func (a *App) handleSignal(ctx context.Context, ev capability.SignalEvent) {
	a.router.NotifySlot(ev.Project, ev.Kind)

	switch ev.Kind {
	case "needs-input":
		a.monitor.IncNotificationSent(int(core.TierAction))
		a.notifier.Notify(fmt.Sprintf("%s needs input", ev.Project), int(core.TierAction))
	case "completed", "error":
		startedAt := a.sessionStartedAt(ev.Project)
		a.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeSessionEnded, eventbus.SessionEndedPayload{
			Project:   ev.Project,
			SessionID: ev.Project,
			Kind:      ev.Kind,
			StartedAt: startedAt,
			StoppedAt: time.Now(),
		}))
	}
}

func (a *App) pollOperatorMessages(ctx context.Context) {
	lastID := a.lastSMSID.Load()
	msgs, err := a.sms.Poll(ctx, lastID)
	if err != nil {
		a.logger.Warn("operator message poll failed", zap.Error(err))
		return
	}
	for _, m := range msgs {
		reply := a.router.Route(ctx, m.Text)
		if reply != "" {
			if err := a.sendSMS(reply); err != nil {
				a.logger.Warn("failed to send router reply", zap.Error(err))
			}
		}
		if m.ID > a.lastSMSID.Load() {
			a.lastSMSID.Store(m.ID)
		}
	}
}

// thinkLoop drives the Idle->Thinking->Idle cycle on a fixed default
// interval, honoring a one-shot override returned by Think (e.g. to back
// off after an error) for exactly the next tick.
func (a *App) thinkLoop(ctx context.Context) {
	defer a.wg.Done()
	timer := time.NewTimer(defaultThinkInterval)
	defer timer.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			a.monitor.IncThinkCycleRun()
			next := a.think.Think(ctx)
			if next <= 0 {
				next = defaultThinkInterval
			}
			timer.Reset(next)
		}
	}
}

// notifyFlushLoop flushes the notification pipeline's batched low-tier
// messages on the configured interval.
func (a *App) notifyFlushLoop(ctx context.Context) {
	defer a.wg.Done()
	interval := time.Duration(a.cfg.Get().AI.Notifications.BatchIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 4 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.notifier.Flush()
		}
	}
}
