package core

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/capability"
	"github.com/bradmccloskey/one-claude/internal/domain"
)

// ServiceProbeConfig is one configured health target (spec section 6's
// health.services[]).
type ServiceProbeConfig struct {
	Name           string
	Type           string // "http" | "tcp" | "process" | "container"
	Target         string
	Interval       time.Duration
	Timeout        time.Duration
	ContainerNames []string
	RestartCmd     string
}

// HealthControllerConfig carries the tunables spec section 6 names.
type HealthControllerConfig struct {
	Services                    []ServiceProbeConfig
	ConsecutiveFailsBeforeAlert int
	CorrelatedFailureThreshold  int
	RestartBudgetMaxPerHour     int
	VerifyDelay                 time.Duration // default 30s
}

// HealthController polls configured services, applies the correlated-
// failure guard, and issues budget-limited auto-remediation restarts with
// a post-restart verification re-check (spec section 4.6).
type HealthController struct {
	cfg        HealthControllerConfig
	store      StateStore
	autonomy   *AutonomyState
	notifier   NotificationSender
	procs      capability.ProcessManager
	containers capability.ContainerRuntime
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	results map[string]domain.HealthResult

	verifyMu  sync.Mutex
	verifiers map[string]*time.Timer
}

func NewHealthController(
	cfg HealthControllerConfig,
	store StateStore,
	autonomy *AutonomyState,
	notifier NotificationSender,
	procs capability.ProcessManager,
	containers capability.ContainerRuntime,
	logger *zap.Logger,
) *HealthController {
	if cfg.VerifyDelay == 0 {
		cfg.VerifyDelay = 30 * time.Second
	}
	return &HealthController{
		cfg: cfg, store: store, autonomy: autonomy, notifier: notifier,
		procs: procs, containers: containers,
		httpClient: &http.Client{},
		results:    make(map[string]domain.HealthResult),
		verifiers:  make(map[string]*time.Timer),
		logger:     logger.With(zap.String("component", "health-controller")),
	}
}

// Results returns a copy of the current per-service health snapshot.
func (h *HealthController) Results() map[string]domain.HealthResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]domain.HealthResult, len(h.results))
	for k, v := range h.results {
		out[k] = v
	}
	return out
}

// RestartBudgetSnapshot exposes the trailing-hour restart count and cap,
// surfaced via `ai status` (recovered feature, grounded on claude-ops's
// cooldown.json visibility pattern).
func (h *HealthController) RestartBudgetSnapshot() (used, cap int) {
	budget := h.store.RestartBudget()
	return budget.CountSince(time.Now().Add(-time.Hour)), h.cfg.RestartBudgetMaxPerHour
}

// Tick runs one scan step: probes every service whose last-check age
// exceeds its configured interval, then processes the results.
func (h *HealthController) Tick(ctx context.Context) {
	due := h.dueServices()
	if len(due) == 0 {
		return
	}

	var httpTCP, processContainer []ServiceProbeConfig
	for _, s := range due {
		if s.Type == "http" || s.Type == "tcp" {
			httpTCP = append(httpTCP, s)
		} else {
			processContainer = append(processContainer, s)
		}
	}

	var wg sync.WaitGroup
	for _, s := range httpTCP {
		wg.Add(1)
		go func(s ServiceProbeConfig) {
			defer wg.Done()
			h.probeAndRecord(ctx, s)
		}(s)
	}
	wg.Wait()

	// process/container probes invoke external commands that don't tolerate
	// fanout; run them sequentially.
	for _, s := range processContainer {
		h.probeAndRecord(ctx, s)
	}

	h.processResults(ctx)
}

func (h *HealthController) dueServices() []ServiceProbeConfig {
	h.mu.Lock()
	defer h.mu.Unlock()

	var due []ServiceProbeConfig
	for _, s := range h.cfg.Services {
		last, ok := h.results[s.Name]
		if !ok || time.Since(last.LastChecked) >= s.Interval {
			due = append(due, s)
		}
	}
	return due
}

func (h *HealthController) probeAndRecord(ctx context.Context, s ServiceProbeConfig) {
	start := time.Now()
	status, detail, probeErr := h.probe(ctx, s)
	latency := time.Since(start)

	h.mu.Lock()
	prev := h.results[s.Name]
	result := domain.HealthResult{
		Name: s.Name, Type: s.Type, Status: status,
		LatencyMs:   latency.Milliseconds(),
		LastChecked: time.Now(),
		Details:     detail,
	}
	if probeErr != nil {
		result.Error = probeErr.Error()
	}
	if status == domain.StatusUp {
		result.ConsecutiveFails = 0
	} else {
		result.ConsecutiveFails = prev.ConsecutiveFails + 1
	}
	h.results[s.Name] = result
	h.mu.Unlock()
}

func (h *HealthController) probe(ctx context.Context, s ServiceProbeConfig) (domain.HealthStatus, string, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch s.Type {
	case "http":
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, s.Target, nil)
		if err != nil {
			return domain.StatusDown, "", err
		}
		resp, err := h.httpClient.Do(req)
		if err != nil {
			return domain.StatusDown, "", err
		}
		defer resp.Body.Close()
		// Any response at all — including 4xx/5xx — counts as up.
		return domain.StatusUp, fmt.Sprintf("status %d", resp.StatusCode), nil

	case "tcp":
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(probeCtx, "tcp", s.Target)
		if err != nil {
			return domain.StatusDown, "", err
		}
		conn.Close()
		return domain.StatusUp, "", nil

	case "process":
		if h.procs == nil {
			return domain.StatusDown, "", fmt.Errorf("no process manager configured")
		}
		pid, ok, err := h.procs.Find(probeCtx, s.Target)
		if err != nil || !ok {
			return domain.StatusDown, "", err
		}
		return domain.StatusUp, fmt.Sprintf("pid %d", pid), nil

	case "container":
		if h.containers == nil {
			return domain.StatusDown, "", fmt.Errorf("no container runtime configured")
		}
		running, err := h.containers.ListRunning(probeCtx)
		if err != nil {
			return domain.StatusDown, "", err
		}
		for _, name := range s.ContainerNames {
			if !running[name] {
				return domain.StatusDown, fmt.Sprintf("%s not running", name), nil
			}
		}
		return domain.StatusUp, "", nil
	}

	return domain.StatusDown, "", fmt.Errorf("unknown probe type %q", s.Type)
}

// processResults applies the correlated-failure guard then, absent a
// correlated event, the per-service edge-triggered restart decision.
func (h *HealthController) processResults(ctx context.Context) {
	h.mu.Lock()
	var correlated []string
	var edgeTriggered []string
	for name, r := range h.results {
		if r.Status == domain.StatusDown && r.ConsecutiveFails >= h.cfg.ConsecutiveFailsBeforeAlert {
			correlated = append(correlated, name)
		}
		if r.Status == domain.StatusDown && r.ConsecutiveFails == h.cfg.ConsecutiveFailsBeforeAlert {
			edgeTriggered = append(edgeTriggered, name)
		}
	}
	h.mu.Unlock()

	if len(correlated) >= h.cfg.CorrelatedFailureThreshold {
		h.notifier.Notify(fmt.Sprintf("INFRASTRUCTURE EVENT: %d services down: %s",
			len(correlated), strings.Join(correlated, ", ")), 1)
		return
	}

	for _, name := range edgeTriggered {
		h.handleEdgeTriggeredFailure(ctx, name)
	}
}

func (h *HealthController) handleEdgeTriggeredFailure(ctx context.Context, name string) {
	level := h.autonomy.Level()
	var svc *ServiceProbeConfig
	for i := range h.cfg.Services {
		if h.cfg.Services[i].Name == name {
			svc = &h.cfg.Services[i]
			break
		}
	}
	if svc == nil {
		return
	}

	canAutoRestart := level == domain.LevelModerate || level == domain.LevelFull
	budget := h.store.RestartBudget()
	withinBudget := budget.CountSince(time.Now().Add(-time.Hour)) < h.cfg.RestartBudgetMaxPerHour
	knowHowToRestart := (svc.Type == "process" && h.procs != nil) ||
		(svc.Type == "container" && h.containers != nil) ||
		svc.RestartCmd != ""

	if canAutoRestart && withinBudget && knowHowToRestart {
		h.restart(ctx, *svc)
		return
	}

	reason := "autonomy level too low"
	if !withinBudget {
		reason = "restart budget exhausted"
	} else if !knowHowToRestart {
		reason = "no restart method configured"
	}
	h.notifier.Notify(fmt.Sprintf("%s is down (%s) — refusing to restart: %s", name, svc.Type, reason), 1)
}

func (h *HealthController) restart(ctx context.Context, svc ServiceProbeConfig) {
	var err error
	switch svc.Type {
	case "process":
		err = h.procs.Kickstart(ctx, svc.Target)
	case "container":
		name := svc.ContainerNames[0]
		err = h.containers.Restart(ctx, name)
	}
	if err != nil {
		h.notifier.Notify(fmt.Sprintf("restart of %s failed: %v", svc.Name, err), 1)
		return
	}

	h.store.RecordRestart(time.Now().UnixMilli())
	h.logger.Info("restart issued", zap.String("service", svc.Name))
	h.scheduleVerify(svc.Name)
}

// scheduleVerify expresses spec's "set a timer in 30s to re-verify" as an
// explicit deferred task with a cancel handle so daemon shutdown can cancel
// pending verifications instead of leaking timers.
func (h *HealthController) scheduleVerify(serviceName string) {
	h.verifyMu.Lock()
	defer h.verifyMu.Unlock()

	if existing, ok := h.verifiers[serviceName]; ok {
		existing.Stop()
	}
	h.verifiers[serviceName] = time.AfterFunc(h.cfg.VerifyDelay, func() {
		h.verify(serviceName)
	})
}

func (h *HealthController) verify(serviceName string) {
	h.mu.Lock()
	result, ok := h.results[serviceName]
	h.mu.Unlock()
	if !ok {
		return
	}

	if result.Status == domain.StatusDown {
		h.notifier.Notify(fmt.Sprintf("%s still down after restart — escalating", serviceName), 1)
	} else {
		h.notifier.Notify(fmt.Sprintf("SERVICE RECOVERED: %s is back up", serviceName), 3)
	}
}

// Shutdown cancels any pending post-restart verification timers.
func (h *HealthController) Shutdown() {
	h.verifyMu.Lock()
	defer h.verifyMu.Unlock()
	for _, t := range h.verifiers {
		t.Stop()
	}
}
