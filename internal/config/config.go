package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but falls back to defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse parses configuration from JSON bytes
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every field at its default
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.RPCPort == 0 {
		cfg.RPCPort = DefaultRPCPort
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = DefaultWSPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.StatsLogInterval == 0 {
		cfg.StatsLogInterval = DefaultStatsLogInterval
	}
	if cfg.BatchWindow == 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	if cfg.DelayScale == nil {
		scale := DefaultDelayScale
		cfg.DelayScale = &scale
	}

	if cfg.Cache != nil {
		if cfg.Cache.Backend == "" {
			cfg.Cache.Backend = DefaultCacheBackend
		}
		if cfg.Cache.TTL == 0 {
			cfg.Cache.TTL = DefaultCacheTTL
		}
		if cfg.Cache.Size == 0 {
			cfg.Cache.Size = DefaultCacheSize
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.RPCPort < 1 || cfg.RPCPort > 65535 {
		return fmt.Errorf("rpcPort must be between 1 and 65535")
	}

	if cfg.WSPort < 1 || cfg.WSPort > 65535 {
		return fmt.Errorf("wsPort must be between 1 and 65535")
	}

	if cfg.RPCPort == cfg.WSPort {
		return fmt.Errorf("rpcPort and wsPort must differ")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.MaxBodySize < 0 {
		return fmt.Errorf("maxBodySize must be non-negative")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}

	if cfg.StatsLogInterval < 0 {
		return fmt.Errorf("statsLogInterval must be non-negative")
	}

	if cfg.BatchWindow < 0 {
		return fmt.Errorf("batchWindow must be non-negative")
	}

	if cfg.MaxBatchSize < 0 {
		return fmt.Errorf("maxBatchSize must be non-negative")
	}

	if cfg.GetDelayScale() < 0 {
		return fmt.Errorf("delayScale must be non-negative")
	}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		if cfg.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be positive when cache is enabled")
		}
		switch cfg.Cache.Backend {
		case CacheBackendMemory:
			if cfg.Cache.Size <= 0 {
				return fmt.Errorf("cache.size must be positive when cache is enabled")
			}
		case CacheBackendRedis:
			if cfg.Cache.RedisURL == "" {
				return fmt.Errorf("cache.redisUrl is required for the redis backend")
			}
		default:
			return fmt.Errorf("cache.backend must be 'memory' or 'redis'")
		}
	}

	if cfg.Scripts != nil && cfg.Scripts.Timeout < 0 {
		return fmt.Errorf("scripts.timeout must be non-negative")
	}

	return nil
}
