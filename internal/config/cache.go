package config

import (
	"time"
)

// CacheConfig defines settings for the response cache in front of the
// level catalogue.  Free-spot listings are never cached: occupancy changes
// on every entry and exit.  When Enabled is false or no Redis client is
// configured, caching is disabled.  Prefix namespaces the keys so that
// creating a level can drop every cached catalogue page at once.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_* variables, falling back to defaults.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		TTL:          envDur("CACHE_TTL", 30*time.Second),
		Prefix:       envStr("CACHE_PREFIX", "parking:cache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
}
