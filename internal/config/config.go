package config

import "time"

// MonitorConfig is the root configuration for a monitor instance.
type MonitorConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	API           APIConfig           `yaml:"api"`
	Leaderboard   LeaderboardConfig   `yaml:"leaderboard"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Dedup         DedupConfig         `yaml:"dedup"`
	Journal       JournalConfig       `yaml:"journal"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// InstanceConfig identifies this monitor.
type InstanceConfig struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"` // Source tag stamped on every alert record
}

// APIConfig holds venue REST and WebSocket endpoints.
type APIConfig struct {
	InfoURL    string        `yaml:"info_url"` // POST endpoint for position snapshots
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// LeaderboardConfig holds the external ranking source settings.
type LeaderboardConfig struct {
	URL             string        `yaml:"url"`
	TopN            int           `yaml:"top_n"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ThresholdsConfig holds position qualification thresholds.
type ThresholdsConfig struct {
	MinValueUSD float64 `yaml:"min_value_usd"`
	MinLeverage float64 `yaml:"min_leverage"`
}

// SubscriptionsConfig holds subscription churn and transport settings.
type SubscriptionsConfig struct {
	BatchSize      int           `yaml:"batch_size"`      // Addresses per subscribe/unsubscribe batch
	BatchDelay     time.Duration `yaml:"batch_delay"`     // Delay between batches
	ReconnectDelay time.Duration `yaml:"reconnect_delay"` // Fixed wait before reconnect attempts
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
}

// DedupConfig holds the alert dedup cache bounds.
type DedupConfig struct {
	Cap    int `yaml:"cap"`    // Eviction trigger
	Retain int `yaml:"retain"` // Signatures kept after eviction
}

// JournalConfig holds the optional alert journal database settings.
// The journal is disabled when Database.Host is empty.
type JournalConfig struct {
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
