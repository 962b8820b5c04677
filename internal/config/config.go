// SPDX-License-Identifier: MIT

// Package config loads vidgate configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Store backend names accepted by VIDGATE_STORE_BACKEND.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// Config holds the complete runtime configuration.
type Config struct {
	// ListenAddr is the HTTP listen address (e.g. ":8080").
	ListenAddr string

	// CacheTTL is how long a resolved result stays fresh.
	CacheTTL time.Duration

	// ExtractTimeout bounds a single extraction attempt.
	ExtractTimeout time.Duration

	// YtdlpPath is the extractor binary to invoke.
	YtdlpPath string

	// StoreBackend selects the persistence backend: memory, badger or redis.
	StoreBackend string
	// StorePath is the badger data directory (badger backend only).
	StorePath string
	// RedisAddr, RedisPassword, RedisDB configure the redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AdminSecret gates the counters reset endpoint. Empty disables the endpoint.
	AdminSecret string

	// RateLimitPerMin is the per-IP request budget for /download. 0 disables.
	RateLimitPerMin int

	// AllowedOrigins is the CORS allow list; "*" allows any origin.
	AllowedOrigins []string

	// LogLevel is the zerolog level name.
	LogLevel string
}

// FromEnv builds a Config from VIDGATE_* environment variables.
func FromEnv() Config {
	return Config{
		ListenAddr:      ParseString("VIDGATE_LISTEN", ":8080"),
		CacheTTL:        ParseDuration("VIDGATE_CACHE_TTL", time.Hour),
		ExtractTimeout:  ParseDuration("VIDGATE_EXTRACT_TIMEOUT", 15*time.Second),
		YtdlpPath:       ParseString("VIDGATE_YTDLP_PATH", "yt-dlp"),
		StoreBackend:    ParseString("VIDGATE_STORE_BACKEND", StoreMemory),
		StorePath:       ParseString("VIDGATE_STORE_PATH", "data/vidgate"),
		RedisAddr:       ParseString("VIDGATE_REDIS_ADDR", "localhost:6379"),
		RedisPassword:   ParseString("VIDGATE_REDIS_PASSWORD", ""),
		RedisDB:         ParseInt("VIDGATE_REDIS_DB", 0),
		AdminSecret:     ParseString("VIDGATE_ADMIN_SECRET", ""),
		RateLimitPerMin: ParseInt("VIDGATE_RATE_LIMIT", 30),
		AllowedOrigins:  splitCSV(ParseString("VIDGATE_ALLOWED_ORIGINS", "*")),
		LogLevel:        ParseString("VIDGATE_LOG_LEVEL", "info"),
	}
}

// Validate checks invariants that would otherwise surface as runtime failures.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("extract timeout must be positive, got %s", c.ExtractTimeout)
	}
	switch c.StoreBackend {
	case StoreMemory, StoreBadger, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend: %q", c.StoreBackend)
	}
	if c.StoreBackend == StoreBadger && c.StorePath == "" {
		return fmt.Errorf("store path is required for badger backend")
	}
	if c.StoreBackend == StoreRedis && c.RedisAddr == "" {
		return fmt.Errorf("redis address is required for redis backend")
	}
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
