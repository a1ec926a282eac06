package config

import "time"

// CacheBackend selects the query cache implementation
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

// Config represents the main configuration structure
type Config struct {
	Host             string         `json:"host"`
	RPCPort          int            `json:"rpcPort"`
	WSPort           int            `json:"wsPort"`
	LogLevel         string         `json:"logLevel"`
	MaxBodySize      int64          `json:"maxBodySize"`
	RequestTimeout   int            `json:"requestTimeout"`   // ms - per remote function call
	StatsLogInterval int            `json:"statsLogInterval"` // ms - 0 disables stats logging
	BatchWindow      int            `json:"batchWindow"`      // ms - how long a batch stays open
	MaxBatchSize     int            `json:"maxBatchSize"`     // distinct keys per batch, 0 means no limit
	DelayScale       *float64       `json:"delayScale,omitempty"`
	Cache            *CacheConfig   `json:"cache,omitempty"`
	Scripts          *ScriptsConfig `json:"scripts,omitempty"`
}

// CacheConfig represents query cache configuration
type CacheConfig struct {
	Enabled           bool         `json:"enabled"`
	Backend           CacheBackend `json:"backend"`
	TTL               int          `json:"ttl"`               // seconds
	Size              int          `json:"size"`              // number of entries (memory backend)
	RedisURL          string       `json:"redisUrl"`          // redis://host:port/db (redis backend)
	DisabledFunctions []string     `json:"disabledFunctions"` // queries to exclude from caching
}

// ScriptsConfig represents scripted function configuration
type ScriptsConfig struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"` // path to scripts directory
	Timeout   int    `json:"timeout"`   // execution timeout in milliseconds
}

// Default values
const (
	DefaultHost             = "localhost"
	DefaultRPCPort          = 8080
	DefaultWSPort           = 8081
	DefaultLogLevel         = "info"
	DefaultMaxBodySize      = int64(1 << 20)
	DefaultRequestTimeout   = 30000 // ms
	DefaultStatsLogInterval = 60000 // ms
	DefaultBatchWindow      = 2     // ms
	DefaultDelayScale       = 1.0
	DefaultCacheTTL         = 30 // seconds
	DefaultCacheSize        = 1000
	DefaultCacheBackend     = CacheBackendMemory
	DefaultScriptsDirectory = "./scripts"
	DefaultScriptsTimeout   = 10000 // ms
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetStatsLogIntervalDuration returns stats log interval as time.Duration
func (c *Config) GetStatsLogIntervalDuration() time.Duration {
	return time.Duration(c.StatsLogInterval) * time.Millisecond
}

// GetBatchWindowDuration returns the batch window as time.Duration
func (c *Config) GetBatchWindowDuration() time.Duration {
	return time.Duration(c.BatchWindow) * time.Millisecond
}

// GetDelayScale returns the multiplier applied to simulated delays
func (c *Config) GetDelayScale() float64 {
	if c.DelayScale == nil {
		return DefaultDelayScale
	}
	return *c.DelayScale
}

// IsCacheEnabled returns true if cache is configured and enabled
func (c *Config) IsCacheEnabled() bool {
	return c.Cache != nil && c.Cache.Enabled
}

// IsScriptsEnabled returns true if scripts are configured and enabled
func (c *Config) IsScriptsEnabled() bool {
	return c.Scripts != nil && c.Scripts.Enabled
}

// GetScriptsDirectory returns the scripts directory path
func (c *Config) GetScriptsDirectory() string {
	if c.Scripts == nil || c.Scripts.Directory == "" {
		return DefaultScriptsDirectory
	}
	return c.Scripts.Directory
}

// GetScriptsTimeoutDuration returns script timeout as time.Duration
func (c *Config) GetScriptsTimeoutDuration() time.Duration {
	if c.Scripts == nil || c.Scripts.Timeout == 0 {
		return time.Duration(DefaultScriptsTimeout) * time.Millisecond
	}
	return time.Duration(c.Scripts.Timeout) * time.Millisecond
}

// GetTTLDuration returns cache TTL as time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}
