// Package config loads the orchestrator's configuration document (spec
// section 6) via viper, with mapstructure tags mirroring the well-known
// keys, and exposes a small hot-reload wrapper so components read a live
// snapshot rather than a struct captured once at startup.
package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the orchestrator's full configuration document.
type Config struct {
	AI                    AIConfig       `mapstructure:"ai"`
	MaxConcurrentSessions int            `mapstructure:"max_concurrent_sessions"`
	QuietHours            QuietHours     `mapstructure:"quiet_hours"`
	MorningDigest         CronJob        `mapstructure:"morning_digest"`
	EveningDigest         CronJob        `mapstructure:"evening_digest"`
	WeeklyRevenue         CronJob        `mapstructure:"weekly_revenue"`
	Health                HealthConfig   `mapstructure:"health"`
	Trust                 TrustConfig    `mapstructure:"trust"`
	Telegram              TelegramConfig `mapstructure:"telegram"`
	Database              DatabaseConfig `mapstructure:"database"`
	Log                   LogConfig      `mapstructure:"log"`
	Runtime               RuntimeConfig  `mapstructure:"runtime"`
	Metrics               MetricsConfig  `mapstructure:"metrics"`
}

// MetricsConfig controls the internal Prometheus-text debug endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RuntimeConfig carries the filesystem/process-shape tunables the
// configuration keys spec section 6 enumerates don't cover: where managed
// projects live on disk, where the durable JSON state document is kept, and
// which binaries the mux driver and LLM gateway shell out to.
type RuntimeConfig struct {
	ProjectsRoot      string            `mapstructure:"projects_root"`
	StatePath         string            `mapstructure:"state_path"`
	MuxCLIBinary      string            `mapstructure:"mux_cli_binary"`
	GatewayBinary     string            `mapstructure:"gateway_binary"`
	GatewayCapacity   int               `mapstructure:"gateway_capacity"`
	KickstartCommands map[string]string `mapstructure:"kickstart_commands"`
}

type AIConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Model             string   `mapstructure:"model"`
	AutonomyLevel     string   `mapstructure:"autonomy_level"`
	ProtectedProjects []string `mapstructure:"protected_projects"`
	Cooldowns         struct {
		SameActionMs  int64 `mapstructure:"same_action_ms"`
		SameProjectMs int64 `mapstructure:"same_project_ms"`
	} `mapstructure:"cooldowns"`
	DedupTTLMs     int64 `mapstructure:"dedup_ttl_ms"`
	ResourceLimits struct {
		MinFreeMemoryMB int `mapstructure:"min_free_memory_mb"`
	} `mapstructure:"resource_limits"`
	MaxErrorRetries int `mapstructure:"max_error_retries"`
	MaxPromptLength int `mapstructure:"max_prompt_length"`
	Notifications   struct {
		DailyBudget       int   `mapstructure:"daily_budget"`
		BatchIntervalMs   int64 `mapstructure:"batch_interval_ms"`
		UrgentBypassQuiet bool  `mapstructure:"urgent_bypass_quiet"`
	} `mapstructure:"notifications"`
}

type QuietHours struct {
	Enabled  bool   `mapstructure:"enabled"`
	Start    string `mapstructure:"start"` // HH:MM
	End      string `mapstructure:"end"`   // HH:MM
	Timezone string `mapstructure:"timezone"`
}

type CronJob struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

type HealthConfig struct {
	Enabled                     bool           `mapstructure:"enabled"`
	Services                    []ServiceProbe `mapstructure:"services"`
	ConsecutiveFailsBeforeAlert int            `mapstructure:"consecutive_fails_before_alert"`
	CorrelatedFailureThreshold  int            `mapstructure:"correlated_failure_threshold"`
	RestartBudget               struct {
		MaxPerHour int `mapstructure:"max_per_hour"`
	} `mapstructure:"restart_budget"`
}

type ServiceProbe struct {
	Name           string   `mapstructure:"name"`
	Type           string   `mapstructure:"type"` // http, tcp, process, container
	Target         string   `mapstructure:"target"`
	IntervalMs     int64    `mapstructure:"interval_ms"`
	TimeoutMs      int64    `mapstructure:"timeout_ms"`
	ContainerNames []string `mapstructure:"container_names"`
	RestartCmd     string   `mapstructure:"restart_cmd"`
}

type TrustThreshold struct {
	MinSessions    int     `mapstructure:"min_sessions"`
	MinAvgScore    float64 `mapstructure:"min_avg_score"`
	MinDaysAtLevel float64 `mapstructure:"min_days_at_level"`
}

type TrustConfig struct {
	Thresholds struct {
		CautiousToModerate TrustThreshold `mapstructure:"cautious_to_moderate"`
		ModerateToFull     TrustThreshold `mapstructure:"moderate_to_full"`
	} `mapstructure:"thresholds"`
}

type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token"`
	AllowIDs []int64 `mapstructure:"allow_ids"`
}

type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite
	DSN  string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults applies the defaults named in spec section 6 before the
// file/env layers are read.
func setDefaults(v *viper.Viper) {
	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.model", "sonnet")
	v.SetDefault("ai.autonomy_level", "observe")
	v.SetDefault("ai.protected_projects", []string{})
	v.SetDefault("ai.cooldowns.same_action_ms", 300_000)
	v.SetDefault("ai.cooldowns.same_project_ms", 600_000)
	v.SetDefault("ai.dedup_ttl_ms", 3_600_000)
	v.SetDefault("ai.resource_limits.min_free_memory_mb", 512)
	v.SetDefault("ai.max_error_retries", 3)
	v.SetDefault("ai.max_prompt_length", 8000)
	v.SetDefault("ai.notifications.daily_budget", 20)
	v.SetDefault("ai.notifications.batch_interval_ms", int64(4*time.Hour/time.Millisecond))
	v.SetDefault("ai.notifications.urgent_bypass_quiet", true)

	v.SetDefault("max_concurrent_sessions", 4)

	v.SetDefault("quiet_hours.enabled", true)
	v.SetDefault("quiet_hours.start", "22:00")
	v.SetDefault("quiet_hours.end", "07:00")
	v.SetDefault("quiet_hours.timezone", "Local")

	v.SetDefault("morning_digest.enabled", true)
	v.SetDefault("morning_digest.cron", "0 8 * * *")
	v.SetDefault("evening_digest.enabled", true)
	v.SetDefault("evening_digest.cron", "0 20 * * *")
	v.SetDefault("weekly_revenue.enabled", false)
	v.SetDefault("weekly_revenue.cron", "0 9 * * 1")

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.consecutive_fails_before_alert", 3)
	v.SetDefault("health.correlated_failure_threshold", 3)
	v.SetDefault("health.restart_budget.max_per_hour", 2)

	v.SetDefault("trust.thresholds.cautious_to_moderate.min_sessions", 20)
	v.SetDefault("trust.thresholds.cautious_to_moderate.min_avg_score", 3.5)
	v.SetDefault("trust.thresholds.cautious_to_moderate.min_days_at_level", 7.0)
	v.SetDefault("trust.thresholds.moderate_to_full.min_sessions", 50)
	v.SetDefault("trust.thresholds.moderate_to_full.min_avg_score", 4.0)
	v.SetDefault("trust.thresholds.moderate_to_full.min_days_at_level", 21.0)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "overseer.db")

	v.SetDefault("runtime.projects_root", "")
	v.SetDefault("runtime.state_path", "")
	v.SetDefault("runtime.mux_cli_binary", "claude")
	v.SetDefault("runtime.gateway_binary", "claude")
	v.SetDefault("runtime.gateway_capacity", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", "127.0.0.1:9090")
}

// Store holds the current configuration snapshot and updates it in place
// when viper reports a file change, so long-lived components (loaded at
// startup via a *Store) observe operator edits without a restart.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
	v   *viper.Viper
}

// Load reads the configuration document from path (or ~/.overseer/config.yaml
// if path is empty), applying defaults first and environment overrides
// (OVERSEER_*) last, and starts watching the file for changes.
func Load(path string) (*Store, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(HomeDir())
	}

	v.SetEnvPrefix("OVERSEER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	s := &Store{cfg: cfg, v: v}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var reloaded Config
		if err := v.Unmarshal(&reloaded); err != nil {
			return
		}
		s.mu.Lock()
		s.cfg = &reloaded
		s.mu.Unlock()
	})
	v.WatchConfig()

	return s, nil
}

// Get returns the current configuration snapshot. Callers must not mutate
// the returned value; treat it as a read-only copy-on-write snapshot.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}
