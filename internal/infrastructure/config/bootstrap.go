package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name.
const AppName = "overseer"

// WorkspaceDirName is the directory name used for workspace-level config.
// Place .overseer/ in a project root for project-specific overrides.
const WorkspaceDirName = "." + AppName

// HomeDir returns the daemon's configuration home: ~/.overseer
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.overseer directory exists with default content.
// Called once at startup. Safe to call multiple times — only creates missing items.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	dirs := []string{
		root,
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
		filepath.Join(root, "projects"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	defaults := map[string]string{
		filepath.Join(root, "config.yaml"): defaultConfig,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue // Already exists, skip
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			logger.Warn("failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("overseer bootstrap complete",
			zap.String("home", root),
			zap.Int("files_created", created),
		)
	} else {
		logger.Debug("overseer home directory OK", zap.String("home", root))
	}

	return nil
}

// ──────────────────────────────────────────────────────────────
// Embedded default file content
// ──────────────────────────────────────────────────────────────

const defaultConfig = `# ═══════════════════════════════════════════════════════════════
# Overseer daemon configuration
# Auto-generated on first launch — feel free to edit.
# Cooldowns, quiet hours, and autonomy_level reload live without a restart.
# ═══════════════════════════════════════════════════════════════

ai:
  enabled: true
  model: sonnet
  autonomy_level: observe        # observe | cautious | moderate | full
  protected_projects: []
  cooldowns:
    same_action_ms: 300000       # 5m — don't repeat the identical action sooner
    same_project_ms: 600000      # 10m — don't act on the same project sooner
  dedup_ttl_ms: 3600000          # 1h — suppress identical recommendations
  resource_limits:
    min_free_memory_mb: 512
  max_error_retries: 3
  max_prompt_length: 8000
  notifications:
    daily_budget: 20
    batch_interval_ms: 14400000  # 4h
    urgent_bypass_quiet: true

max_concurrent_sessions: 4

quiet_hours:
  enabled: true
  start: "22:00"
  end: "07:00"
  timezone: Local

morning_digest:
  enabled: true
  cron: "0 8 * * *"

evening_digest:
  enabled: true
  cron: "0 20 * * *"

weekly_revenue:
  enabled: false
  cron: "0 9 * * 1"

health:
  enabled: true
  consecutive_fails_before_alert: 3
  correlated_failure_threshold: 3
  restart_budget:
    max_per_hour: 2
  services: []
  # Example:
  # services:
  #   - name: api
  #     type: http
  #     target: "http://localhost:8080/healthz"
  #     interval_ms: 30000
  #     timeout_ms: 5000
  #     restart_cmd: "systemctl restart api"

trust:
  thresholds:
    cautious_to_moderate:
      min_sessions: 20
      min_avg_score: 3.5
      min_days_at_level: 7
    moderate_to_full:
      min_sessions: 50
      min_avg_score: 4.0
      min_days_at_level: 21

telegram:
  bot_token: ""                  # from @BotFather; empty disables the transport
  allow_ids: []

database:
  type: sqlite
  dsn: overseer.db

runtime:
  projects_root: ""             # empty -> ~/.overseer/projects
  state_path: ""                # empty -> ~/.overseer/state/state.json
  mux_cli_binary: claude
  gateway_binary: claude
  gateway_capacity: 2
  kickstart_commands: {}

log:
  level: info
  format: json

metrics:
  enabled: true
  addr: "127.0.0.1:9090"   # internal Prometheus-text debug endpoint, not a public API
`
