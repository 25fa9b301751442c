package profile

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the configuration for the experience and strategy stores.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Version is the current version of the module
	Version string

	// MongoURI is the connection string for the durable tier.
	// Empty disables the durable tier entirely.
	MongoURI string
	// MongoDatabase is the database holding the trajectory/strategy collections.
	MongoDatabase string
	// MongoTimeout bounds every durable-tier call.
	MongoTimeout time.Duration

	// RedisAddr is the address of the streaming cache tier.
	// Empty disables the cache tier entirely.
	RedisAddr string
	// RedisPassword is the optional cache tier password.
	RedisPassword string
	// RedisDB is the cache tier database number.
	RedisDB int
	// RedisTimeout bounds every cache-tier call. Shorter than MongoTimeout
	// since the cache tier is best-effort.
	RedisTimeout time.Duration
	// RedisTTL is the bounded retention for cached records.
	RedisTTL time.Duration
	// RedisRecentLimit bounds the per-collection recent-id list.
	RedisRecentLimit int

	// MemoryCapacity bounds the in-process tier. The oldest record by
	// creation time is evicted when the bound is exceeded.
	MemoryCapacity int

	// ReadCacheTTL is the short TTL for the local read-through cache.
	ReadCacheTTL time.Duration
	// HealthCheckInterval is how often unavailable tiers are re-probed.
	HealthCheckInterval time.Duration
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// MongoEnabled reports whether the durable tier is configured.
func (p *Profile) MongoEnabled() bool {
	return p.MongoURI != ""
}

// RedisEnabled reports whether the streaming cache tier is configured.
func (p *Profile) RedisEnabled() bool {
	return p.RedisAddr != ""
}

// FromEnv loads configuration from SWARMSYNC_* environment variables.
func FromEnv() *Profile {
	v := viper.New()
	v.SetEnvPrefix("swarmsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "swarmsync")
	v.SetDefault("mongo.timeout", 5*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", 2*time.Second)
	v.SetDefault("redis.ttl", 30*time.Minute)
	v.SetDefault("redis.recent_limit", 1000)
	v.SetDefault("memory.capacity", 1000)
	v.SetDefault("read_cache.ttl", 1*time.Minute)
	v.SetDefault("health_check.interval", 30*time.Second)

	return &Profile{
		Mode:                v.GetString("mode"),
		MongoURI:            v.GetString("mongo.uri"),
		MongoDatabase:       v.GetString("mongo.database"),
		MongoTimeout:        v.GetDuration("mongo.timeout"),
		RedisAddr:           v.GetString("redis.addr"),
		RedisPassword:       v.GetString("redis.password"),
		RedisDB:             v.GetInt("redis.db"),
		RedisTimeout:        v.GetDuration("redis.timeout"),
		RedisTTL:            v.GetDuration("redis.ttl"),
		RedisRecentLimit:    v.GetInt("redis.recent_limit"),
		MemoryCapacity:      v.GetInt("memory.capacity"),
		ReadCacheTTL:        v.GetDuration("read_cache.ttl"),
		HealthCheckInterval: v.GetDuration("health_check.interval"),
	}
}

// Validate normalizes the profile and rejects unusable values.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.MemoryCapacity <= 0 {
		return errors.New("memory capacity must be positive")
	}
	if p.MongoEnabled() && p.MongoDatabase == "" {
		return errors.New("mongo database is required when mongo uri is set")
	}
	if p.MongoTimeout <= 0 {
		p.MongoTimeout = 5 * time.Second
	}
	if p.RedisTimeout <= 0 {
		p.RedisTimeout = 2 * time.Second
	}
	if p.RedisTTL <= 0 {
		p.RedisTTL = 30 * time.Minute
	}
	if p.RedisRecentLimit <= 0 {
		p.RedisRecentLimit = 1000
	}
	if p.ReadCacheTTL <= 0 {
		p.ReadCacheTTL = time.Minute
	}
	if p.HealthCheckInterval <= 0 {
		p.HealthCheckInterval = 30 * time.Second
	}
	return nil
}
