package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	DBPath    string           `json:"db_path"`
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	Store     StoreConfig      `json:"store"`
	Source    SourceConfig     `json:"source"`
	Embed     EmbedConfig      `json:"embed"`
	Sync      SyncConfig       `json:"sync"`
	Search    SearchConfig     `json:"search"`
	Schedule  ScheduleConfig   `json:"schedule"`
	Notify    NotifyConfig     `json:"notify"`
	RateLimit RateLimitConfig  `json:"rate_limit"`
}

// StoreConfig selects the snapshot store backend; Data is passed through to
// the backend factory untouched.
type StoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type SourceConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type EmbedConfig struct {
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	Dimension      int         `json:"dimension"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Retry          RetryConfig `json:"retry"`
	Data           interface{} `json:"data"`
}

type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts"`
	BaseDelayMs int     `json:"base_delay_ms"`
	MaxDelayMs  int     `json:"max_delay_ms"`
	Multiplier  float64 `json:"multiplier"`
}

type SyncConfig struct {
	CheckpointEvery    int    `json:"checkpoint_every"`
	MaxParallel        int    `json:"max_parallel"`
	ListTimeoutSeconds int    `json:"list_timeout_seconds"`
	RunTimeoutSeconds  int    `json:"run_timeout_seconds"`
	ReportDir          string `json:"report_dir"`
}

// SearchConfig tunes the read path. Snapshots and query-text embeddings are
// cached with a TTL; a sync invalidates the tenant's snapshot entry directly.
type SearchConfig struct {
	DefaultTopK             int `json:"default_top_k"`
	SnapshotCacheSize       int `json:"snapshot_cache_size"`
	SnapshotCacheTTLSeconds int `json:"snapshot_cache_ttl_seconds"`
	QueryCacheSize          int `json:"query_cache_size"`
	QueryCacheTTLSeconds    int `json:"query_cache_ttl_seconds"`
}

type ScheduleConfig struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron"`
}

type NotifyConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type RateLimitConfig struct {
	Enabled   bool `json:"enabled"`
	PerMinute int  `json:"per_minute"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Store.Type == "" {
		c.Store.Type = "file"
	}
	if c.Source.Type == "" {
		c.Source.Type = "local"
	}
	if c.Embed.Provider == "" {
		c.Embed.Provider = "stub"
	}
	if c.Embed.Model == "" {
		return fmt.Errorf("embed.model is required")
	}
	if c.Embed.Dimension <= 0 {
		return fmt.Errorf("embed.dimension is required")
	}
	if c.Embed.TimeoutSeconds <= 0 {
		c.Embed.TimeoutSeconds = 30
	}
	if c.Embed.Retry.MaxAttempts <= 0 {
		c.Embed.Retry.MaxAttempts = 3
	}
	if c.Embed.Retry.BaseDelayMs <= 0 {
		c.Embed.Retry.BaseDelayMs = 100
	}
	if c.Embed.Retry.MaxDelayMs <= 0 {
		c.Embed.Retry.MaxDelayMs = 5000
	}
	if c.Embed.Retry.Multiplier <= 1 {
		c.Embed.Retry.Multiplier = 2.0
	}
	if c.Sync.CheckpointEvery <= 0 {
		c.Sync.CheckpointEvery = 5
	}
	if c.Sync.MaxParallel <= 0 {
		c.Sync.MaxParallel = 3
	}
	if c.Sync.ListTimeoutSeconds <= 0 {
		c.Sync.ListTimeoutSeconds = 60
	}
	if c.Sync.RunTimeoutSeconds <= 0 {
		c.Sync.RunTimeoutSeconds = 1800
	}
	if c.Search.DefaultTopK <= 0 {
		c.Search.DefaultTopK = 5
	}
	if c.Search.SnapshotCacheSize <= 0 {
		c.Search.SnapshotCacheSize = 128
	}
	if c.Search.SnapshotCacheTTLSeconds <= 0 {
		c.Search.SnapshotCacheTTLSeconds = 60
	}
	if c.Search.QueryCacheSize <= 0 {
		c.Search.QueryCacheSize = 1024
	}
	if c.Search.QueryCacheTTLSeconds <= 0 {
		c.Search.QueryCacheTTLSeconds = 3600
	}
	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 3 * * *"
	}
	if c.Notify.TimeoutSeconds <= 0 {
		c.Notify.TimeoutSeconds = 10
	}
	if c.RateLimit.Enabled && c.RateLimit.PerMinute <= 0 {
		c.RateLimit.PerMinute = 60
	}
	return nil
}
