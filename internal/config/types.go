package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "30s", "15m"). Empty values
// fall back to component defaults, resolved in internal/app.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Bot       BotConfig       `json:"bot"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Wizard    WizardConfig    `json:"wizard"`
	Storage   StorageConfig   `json:"storage"`
	Messaging MessagingConfig `json:"messaging"`
	Receipts  ReceiptsConfig  `json:"receipts"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// BotConfig holds chat-facing knobs.
type BotConfig struct {
	// OwnerContactURL is shown in /start as the "contact the owner" link,
	// e.g. "https://wa.me/628123456789".
	OwnerContactURL string `json:"owner_contact_url,omitempty"`

	// AllowedUserIDs restricts the scheduling wizards. Empty means everyone.
	// Owners are always allowed.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
}

// SchedulerConfig controls the dispatch loop.
//
// Enabled is a pointer so an omitted key keeps dispatch on.
type SchedulerConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Timezone       string `json:"timezone,omitempty"`      // default Asia/Makassar
	DispatchSpec   string `json:"dispatch_spec,omitempty"` // cron spec, default "@every 1m"
	SendTimeout    string `json:"send_timeout,omitempty"`  // default 30s
	MinLeadTime    string `json:"min_lead_time,omitempty"` // default 60s
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty"`
}

type WizardConfig struct {
	SessionTTL string `json:"session_ttl,omitempty"` // default 15m
	MaxChoices int    `json:"max_choices,omitempty"` // default 5
}

// StorageConfig selects the scheduled-entry store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/wasched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`                 // file | sqlite | postgres
	Path        string `json:"path,omitempty"`         // file, sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// MessagingConfig selects the WhatsApp backend.
type MessagingConfig struct {
	Driver       string `json:"driver"` // gateway | memory
	BaseURL      string `json:"base_url,omitempty"`
	Token        string `json:"token,omitempty"` // do not log
	Timeout      string `json:"timeout,omitempty"`
	DirectoryTTL string `json:"directory_ttl,omitempty"`
}

type ReceiptsConfig struct {
	Redis RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"` // do not log
	DB        int    `json:"db,omitempty"`
	TTL       string `json:"ttl,omitempty"` // default 72h
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// MetricsConfig controls the HTTP server exposing /metrics and /healthz.
//
// Prefer binding to localhost. A non-loopback address requires a token
// unless allow_insecure is set.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:9090
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// DispatchEnabled reports the effective scheduler.enabled value.
func (c *Config) DispatchEnabled() bool {
	if c == nil || c.Scheduler.Enabled == nil {
		return true
	}
	return *c.Scheduler.Enabled
}
