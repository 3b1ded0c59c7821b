package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics holds the daemon's atomic counters. Every field is updated via
// sync/atomic so components on different timer loops never need a lock to
// report into it.
type Metrics struct {
	ThinkCyclesRun    uint64
	ThinkCyclesFailed uint64

	ActionsStarted   uint64
	ActionsStopped   uint64
	ActionsRestarted uint64
	ActionsNotified  uint64
	ActionsSkipped   uint64
	ActionsRejected  uint64

	NotificationsTier1 uint64
	NotificationsTier2 uint64
	NotificationsTier3 uint64
	NotificationsTier4 uint64

	HealthProbesUp   uint64
	HealthProbesDown uint64
	RestartsIssued   uint64

	ActiveSessions int64

	GatewayCallsTotal  uint64
	GatewayCallsFailed uint64

	StartTime time.Time
}

// Monitor is the daemon's in-process metrics collector: atomic counters plus
// a bounded ring of periodic snapshots, exposed to an internal /metrics
// debug endpoint (not a public API surface).
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.RWMutex

	history      []MetricsSnapshot
	historyLimit int
}

// MetricsSnapshot is a point-in-time rollup suitable for charting.
type MetricsSnapshot struct {
	Timestamp         time.Time
	ThinkCyclesRun    uint64
	ActionsTotal      uint64
	NotificationsSent uint64
	ActiveSessions    int64
	MemoryMB          float64
	Goroutines        int
}

func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics:      &Metrics{StartTime: time.Now()},
		logger:       logger.With(zap.String("component", "monitor")),
		history:      make([]MetricsSnapshot, 0, 100),
		historyLimit: 100,
	}
}

func (m *Monitor) IncThinkCycleRun()    { atomic.AddUint64(&m.metrics.ThinkCyclesRun, 1) }
func (m *Monitor) IncThinkCycleFailed() { atomic.AddUint64(&m.metrics.ThinkCyclesFailed, 1) }

// IncActionExecuted records one successfully dispatched action by kind.
func (m *Monitor) IncActionExecuted(action string) {
	switch action {
	case "start":
		atomic.AddUint64(&m.metrics.ActionsStarted, 1)
	case "stop":
		atomic.AddUint64(&m.metrics.ActionsStopped, 1)
	case "restart":
		atomic.AddUint64(&m.metrics.ActionsRestarted, 1)
	case "notify":
		atomic.AddUint64(&m.metrics.ActionsNotified, 1)
	case "skip":
		atomic.AddUint64(&m.metrics.ActionsSkipped, 1)
	}
}

func (m *Monitor) IncActionRejected() { atomic.AddUint64(&m.metrics.ActionsRejected, 1) }

// IncNotificationSent records one outbound SMS by tier (1..4).
func (m *Monitor) IncNotificationSent(tier int) {
	switch tier {
	case 1:
		atomic.AddUint64(&m.metrics.NotificationsTier1, 1)
	case 2:
		atomic.AddUint64(&m.metrics.NotificationsTier2, 1)
	case 3:
		atomic.AddUint64(&m.metrics.NotificationsTier3, 1)
	case 4:
		atomic.AddUint64(&m.metrics.NotificationsTier4, 1)
	}
}

func (m *Monitor) IncHealthProbe(up bool) {
	if up {
		atomic.AddUint64(&m.metrics.HealthProbesUp, 1)
	} else {
		atomic.AddUint64(&m.metrics.HealthProbesDown, 1)
	}
}

func (m *Monitor) IncRestartIssued() { atomic.AddUint64(&m.metrics.RestartsIssued, 1) }

func (m *Monitor) SetActiveSessions(n int64) { atomic.StoreInt64(&m.metrics.ActiveSessions, n) }

func (m *Monitor) IncGatewayCall(failed bool) {
	atomic.AddUint64(&m.metrics.GatewayCallsTotal, 1)
	if failed {
		atomic.AddUint64(&m.metrics.GatewayCallsFailed, 1)
	}
}

// GetStats returns a flat snapshot suitable for JSON or Prometheus rendering.
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)

	return map[string]interface{}{
		"uptime_seconds":       uptime.Seconds(),
		"think_cycles_run":     atomic.LoadUint64(&m.metrics.ThinkCyclesRun),
		"think_cycles_failed":  atomic.LoadUint64(&m.metrics.ThinkCyclesFailed),
		"actions_started":      atomic.LoadUint64(&m.metrics.ActionsStarted),
		"actions_stopped":      atomic.LoadUint64(&m.metrics.ActionsStopped),
		"actions_restarted":    atomic.LoadUint64(&m.metrics.ActionsRestarted),
		"actions_notified":     atomic.LoadUint64(&m.metrics.ActionsNotified),
		"actions_skipped":      atomic.LoadUint64(&m.metrics.ActionsSkipped),
		"actions_rejected":     atomic.LoadUint64(&m.metrics.ActionsRejected),
		"notifications_tier1":  atomic.LoadUint64(&m.metrics.NotificationsTier1),
		"notifications_tier2":  atomic.LoadUint64(&m.metrics.NotificationsTier2),
		"notifications_tier3":  atomic.LoadUint64(&m.metrics.NotificationsTier3),
		"notifications_tier4":  atomic.LoadUint64(&m.metrics.NotificationsTier4),
		"health_probes_up":     atomic.LoadUint64(&m.metrics.HealthProbesUp),
		"health_probes_down":   atomic.LoadUint64(&m.metrics.HealthProbesDown),
		"restarts_issued":      atomic.LoadUint64(&m.metrics.RestartsIssued),
		"active_sessions":      atomic.LoadInt64(&m.metrics.ActiveSessions),
		"gateway_calls_total":  atomic.LoadUint64(&m.metrics.GatewayCallsTotal),
		"gateway_calls_failed": atomic.LoadUint64(&m.metrics.GatewayCallsFailed),
		"memory_mb":            float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":           runtime.NumGoroutine(),
	}
}

// Snapshot captures the current rollup and appends it to the bounded history.
func (m *Monitor) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	notifications := atomic.LoadUint64(&m.metrics.NotificationsTier1) +
		atomic.LoadUint64(&m.metrics.NotificationsTier2) +
		atomic.LoadUint64(&m.metrics.NotificationsTier3) +
		atomic.LoadUint64(&m.metrics.NotificationsTier4)

	actions := atomic.LoadUint64(&m.metrics.ActionsStarted) +
		atomic.LoadUint64(&m.metrics.ActionsStopped) +
		atomic.LoadUint64(&m.metrics.ActionsRestarted) +
		atomic.LoadUint64(&m.metrics.ActionsNotified) +
		atomic.LoadUint64(&m.metrics.ActionsSkipped)

	snapshot := MetricsSnapshot{
		Timestamp:         time.Now(),
		ThinkCyclesRun:    atomic.LoadUint64(&m.metrics.ThinkCyclesRun),
		ActionsTotal:      actions,
		NotificationsSent: notifications,
		ActiveSessions:    atomic.LoadInt64(&m.metrics.ActiveSessions),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snapshot
}

func (m *Monitor) GetHistory() []MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]MetricsSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// StartCollector periodically snapshots until ctx is canceled.
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Snapshot()
		}
	}
}

// DashboardData bundles the current stats with history, for `ai status`.
type DashboardData struct {
	Stats   map[string]interface{} `json:"stats"`
	History []MetricsSnapshot      `json:"history"`
}

func (m *Monitor) GetDashboardData() *DashboardData {
	return &DashboardData{
		Stats:   m.GetStats(),
		History: m.GetHistory(),
	}
}
