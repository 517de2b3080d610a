// Package config loads Zorox's runtime configuration from the environment
// (via caarlos0/env) with an optional YAML file overlay. Env values always
// win over the file, matching the precedence the teacher's channel configs
// assume (env-first, file as a checked-in default).
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// StoreConfig configures the persistence layer (C1).
type StoreConfig struct {
	DSN            string `env:"STORE_DSN" yaml:"dsn" envDefault:"zorox.db"`
	BackupDir      string `env:"STORE_BACKUP_DIR" yaml:"backup_dir" envDefault:"./backups"`
}

// DispatcherConfig configures the priority queue and worker pool (C5).
type DispatcherConfig struct {
	MaxWorkers          int           `env:"MAX_WORKERS" yaml:"max_workers" envDefault:"50"`
	QueueCapacity        int           `env:"QUEUE_CAPACITY" yaml:"queue_capacity" envDefault:"50000"`
	RetryBaseSeconds     float64       `env:"RETRY_BASE_SECONDS" yaml:"retry_base_seconds" envDefault:"0.3"`
	RetryCapSeconds      float64       `env:"RETRY_CAP_SECONDS" yaml:"retry_cap_seconds" envDefault:"60"`
	MaxAttempts          int           `env:"MAX_ATTEMPTS" yaml:"max_attempts" envDefault:"3"`
	DrainTimeout         time.Duration `env:"DRAIN_TIMEOUT" yaml:"drain_timeout" envDefault:"15s"`
	CircuitOpenThreshold float64       `env:"CIRCUIT_OPEN_THRESHOLD" yaml:"circuit_open_threshold" envDefault:"0.25"`
	CircuitCloseThreshold float64      `env:"CIRCUIT_CLOSE_THRESHOLD" yaml:"circuit_close_threshold" envDefault:"0.10"`
}

// SenderPoolConfig configures sender health and eligibility (C4).
type SenderPoolConfig struct {
	MaxConsecutiveFailures int           `env:"SENDER_MAX_CONSECUTIVE_FAILURES" yaml:"max_consecutive_failures" envDefault:"5"`
	ProbeInterval          time.Duration `env:"SENDER_PROBE_INTERVAL" yaml:"probe_interval" envDefault:"30s"`
	EMAAlpha               float64       `env:"SENDER_EMA_ALPHA" yaml:"ema_alpha" envDefault:"0.2"`

	// Default per-sender token bucket applied to every row loaded from
	// ListSenders at startup; 0 rate means unlimited.
	DefaultRatePerSecond float64 `env:"SENDER_DEFAULT_RATE_PER_SECOND" yaml:"default_rate_per_second" envDefault:"1"`
	DefaultBurst         int     `env:"SENDER_DEFAULT_BURST" yaml:"default_burst" envDefault:"1"`
}

// ImageGuardConfig configures pHash blocking and watermarking (C3).
type ImageGuardConfig struct {
	SimilarityThreshold    int   `env:"SIMILARITY_THRESHOLD" yaml:"similarity_threshold" envDefault:"5"`
	MaxConcurrentDownloads int   `env:"MAX_CONCURRENT_DOWNLOADS" yaml:"max_concurrent_downloads" envDefault:"25"`
	MaxMediaBytes          int64 `env:"MAX_MEDIA_BYTES" yaml:"max_media_bytes" envDefault:"20971520"`
}

// FilterConfig seeds the global word-block list (C2).
type FilterConfig struct {
	GlobalBlockedWords []string `env:"GLOBAL_BLOCKED_WORDS" yaml:"global_blocked_words" envSeparator:","`
}

// HealthConfig configures alert thresholds and the sweeper schedule (C7).
type HealthConfig struct {
	ErrorRateElevated  float64       `env:"HEALTH_ERROR_RATE_ELEVATED" yaml:"error_rate_elevated" envDefault:"0.25"`
	ErrorRateCritical  float64       `env:"HEALTH_ERROR_RATE_CRITICAL" yaml:"error_rate_critical" envDefault:"0.50"`
	ErrorRateWindow    time.Duration `env:"HEALTH_ERROR_RATE_WINDOW" yaml:"error_rate_window" envDefault:"60s"`
	QueueDepthAlertPct float64       `env:"HEALTH_QUEUE_DEPTH_ALERT_PCT" yaml:"queue_depth_alert_pct" envDefault:"0.80"`
	SweepCron          string        `env:"SUBSCRIPTION_SWEEP_CRON" yaml:"sweep_cron" envDefault:"0 * * * *"`
	SweepChatDelay     time.Duration `env:"SWEEP_CHAT_DELAY" yaml:"sweep_chat_delay" envDefault:"200ms"`
	BackupCron         string        `env:"BACKUP_CRON" yaml:"backup_cron" envDefault:"0 3 * * *"`
}

// AdminConfig lists the principals allowed to invoke the admin command
// surface described in spec §6. The surface itself lives outside this
// module; Zorox only enforces who may call into it.
type AdminConfig struct {
	AdminUsers []string `env:"ADMIN_USERS" yaml:"admin_users" envSeparator:","`
}

type Config struct {
	Store       StoreConfig      `yaml:"store"`
	Dispatcher  DispatcherConfig `yaml:"dispatcher"`
	SenderPool  SenderPoolConfig `yaml:"sender_pool"`
	ImageGuard  ImageGuardConfig `yaml:"image_guard"`
	Filter      FilterConfig     `yaml:"filter"`
	Health      HealthConfig     `yaml:"health"`
	Admin       AdminConfig      `yaml:"admin"`

	TelegramToken string `env:"TELEGRAM_TOKEN" yaml:"telegram_token"`
	DiscordToken  string `env:"DISCORD_TOKEN" yaml:"discord_token"`
	SlackBotToken string `env:"SLACK_BOT_TOKEN" yaml:"slack_bot_token"`
	SlackAppToken string `env:"SLACK_APP_TOKEN" yaml:"slack_app_token"`

	// Per-platform allow-lists gating which senders' messages get relayed
	// (identity.MatchAllowed entries: bare ID, "@handle", or "id|handle").
	// Empty means "allow everyone" on that platform.
	TelegramAllowList []string `env:"TELEGRAM_ALLOW_LIST" yaml:"telegram_allow_list" envSeparator:","`
	DiscordAllowList  []string `env:"DISCORD_ALLOW_LIST" yaml:"discord_allow_list" envSeparator:","`
	SlackAllowList    []string `env:"SLACK_ALLOW_LIST" yaml:"slack_allow_list" envSeparator:","`
}

// Load reads defaults, overlays an optional YAML file at path (ignored if
// path is empty or missing), then applies environment variables on top.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
