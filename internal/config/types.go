package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Engine controls the scheduled broadcast dispatcher.
	Engine EngineConfig `json:"engine"`

	Metrics MetricsConfig `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs may use configuration commands (set channel, policy, enable).
	// Adding questions is open to everyone, matching the original command split.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the tenant queue store driver.
//
// Driver values: "memory", "file", "sqlite", "postgres".
// Path is used by file/sqlite; DSN by postgres.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls tick cadence and delivery behavior.
//
// All durations are Go duration strings (e.g. "1m", "10s").
type EngineConfig struct {
	Enabled bool `json:"enabled"`

	// TickEvery is the evaluation cadence; triggers themselves are per-tenant.
	// Default "1m".
	TickEvery string `json:"tick_every,omitempty"`

	// DeliverTimeout bounds a single gateway send. Default "10s".
	DeliverTimeout string `json:"deliver_timeout,omitempty"`

	// RatePerSec limits deliveries across all tenants. Default 5.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// Prefix is inserted between the tag text and the item body.
	// Default "**Question of the Day:**".
	Prefix string `json:"prefix,omitempty"`

	// Timezone is the fallback IANA zone for daily policies that don't set one.
	Timezone string `json:"timezone,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
}
