package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInfoURL        = "https://api.hyperliquid.xyz/info"
	DefaultWSURL          = "wss://api.hyperliquid.xyz/ws"
	DefaultLeaderboardURL = "https://stats-data.hyperliquid.xyz/Mainnet/leaderboard"

	DefaultAPITimeout       = 10 * time.Second
	DefaultMaxRetries       = 3
	DefaultTopN             = 50
	DefaultRefreshInterval  = time.Hour
	DefaultLeaderboardWait  = 15 * time.Second
	DefaultMinValueUSD      = 100_000
	DefaultMinLeverage      = 30
	DefaultBatchSize        = 10
	DefaultBatchDelay       = 100 * time.Millisecond
	DefaultReconnectDelay   = 5 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultBufferSize       = 1000
	DefaultDedupCap         = 1000
	DefaultDedupRetain      = 500
	DefaultSource           = "leaderboard-monitor"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultDBMaxConns       = 4
	DefaultDBMinConns       = 1
	DefaultJournalBatch     = 50
	DefaultJournalFlushTime = time.Second
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
)

func (c *MonitorConfig) applyDefaults() {
	if c.Instance.Source == "" {
		c.Instance.Source = DefaultSource
	}

	// API defaults
	if c.API.InfoURL == "" {
		c.API.InfoURL = DefaultInfoURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Leaderboard defaults
	if c.Leaderboard.URL == "" {
		c.Leaderboard.URL = DefaultLeaderboardURL
	}
	if c.Leaderboard.TopN == 0 {
		c.Leaderboard.TopN = DefaultTopN
	}
	if c.Leaderboard.RefreshInterval == 0 {
		c.Leaderboard.RefreshInterval = DefaultRefreshInterval
	}
	if c.Leaderboard.Timeout == 0 {
		c.Leaderboard.Timeout = DefaultLeaderboardWait
	}

	// Thresholds defaults
	if c.Thresholds.MinValueUSD == 0 {
		c.Thresholds.MinValueUSD = DefaultMinValueUSD
	}
	if c.Thresholds.MinLeverage == 0 {
		c.Thresholds.MinLeverage = DefaultMinLeverage
	}

	// Subscriptions defaults
	if c.Subscriptions.BatchSize == 0 {
		c.Subscriptions.BatchSize = DefaultBatchSize
	}
	if c.Subscriptions.BatchDelay == 0 {
		c.Subscriptions.BatchDelay = DefaultBatchDelay
	}
	if c.Subscriptions.ReconnectDelay == 0 {
		c.Subscriptions.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Subscriptions.WriteTimeout == 0 {
		c.Subscriptions.WriteTimeout = DefaultWriteTimeout
	}
	if c.Subscriptions.PingTimeout == 0 {
		c.Subscriptions.PingTimeout = DefaultPingTimeout
	}
	if c.Subscriptions.BufferSize == 0 {
		c.Subscriptions.BufferSize = DefaultBufferSize
	}

	// Dedup defaults
	if c.Dedup.Cap == 0 {
		c.Dedup.Cap = DefaultDedupCap
	}
	if c.Dedup.Retain == 0 {
		c.Dedup.Retain = DefaultDedupRetain
	}

	// Journal defaults (only meaningful when a database is configured)
	if c.Journal.Database.Host != "" {
		applyDBDefaults(&c.Journal.Database)
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultJournalBatch
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultJournalFlushTime
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultDBMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultDBMinConns
	}
}
