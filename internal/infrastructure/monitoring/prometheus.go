package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text
// format metrics, avoiding a full prometheus/client_golang dependency for a
// single internal debug endpoint. Mount at "/metrics"; this is an
// ops-visibility endpoint, not a public control-plane API.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			{"overseer_think_cycles_run_total", "Total think cycles completed", "counter", atomic.LoadUint64(&m.metrics.ThinkCyclesRun)},
			{"overseer_think_cycles_failed_total", "Total think cycles that errored", "counter", atomic.LoadUint64(&m.metrics.ThinkCyclesFailed)},

			{"overseer_actions_started_total", "Total start actions dispatched", "counter", atomic.LoadUint64(&m.metrics.ActionsStarted)},
			{"overseer_actions_stopped_total", "Total stop actions dispatched", "counter", atomic.LoadUint64(&m.metrics.ActionsStopped)},
			{"overseer_actions_restarted_total", "Total restart actions dispatched", "counter", atomic.LoadUint64(&m.metrics.ActionsRestarted)},
			{"overseer_actions_notified_total", "Total notify actions dispatched", "counter", atomic.LoadUint64(&m.metrics.ActionsNotified)},
			{"overseer_actions_skipped_total", "Total skip actions dispatched", "counter", atomic.LoadUint64(&m.metrics.ActionsSkipped)},
			{"overseer_actions_rejected_total", "Total recommendations rejected at gating", "counter", atomic.LoadUint64(&m.metrics.ActionsRejected)},

			{"overseer_notifications_tier1_total", "Total URGENT notifications sent", "counter", atomic.LoadUint64(&m.metrics.NotificationsTier1)},
			{"overseer_notifications_tier2_total", "Total ACTION notifications sent", "counter", atomic.LoadUint64(&m.metrics.NotificationsTier2)},
			{"overseer_notifications_tier3_total", "Total SUMMARY notifications sent", "counter", atomic.LoadUint64(&m.metrics.NotificationsTier3)},
			{"overseer_notifications_tier4_total", "Total DEBUG notifications logged", "counter", atomic.LoadUint64(&m.metrics.NotificationsTier4)},

			{"overseer_health_probes_up_total", "Total health probes that reported up", "counter", atomic.LoadUint64(&m.metrics.HealthProbesUp)},
			{"overseer_health_probes_down_total", "Total health probes that reported down", "counter", atomic.LoadUint64(&m.metrics.HealthProbesDown)},
			{"overseer_restarts_issued_total", "Total auto-remediation restarts issued", "counter", atomic.LoadUint64(&m.metrics.RestartsIssued)},

			{"overseer_gateway_calls_total", "Total LLM subprocess calls", "counter", atomic.LoadUint64(&m.metrics.GatewayCallsTotal)},
			{"overseer_gateway_calls_failed_total", "Total LLM subprocess calls that errored", "counter", atomic.LoadUint64(&m.metrics.GatewayCallsFailed)},

			{"overseer_active_sessions", "Number of active mux sessions", "gauge", atomic.LoadInt64(&m.metrics.ActiveSessions)},
			{"overseer_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			{"overseer_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"overseer_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"overseer_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"overseer_gc_pause_total_ns", "Total GC pause time in nanoseconds", "counter", memStats.PauseTotalNs},
			{"overseer_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}
	})
}
