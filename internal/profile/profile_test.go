package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	p := FromEnv()
	require.Equal(t, "dev", p.Mode)
	require.False(t, p.MongoEnabled())
	require.False(t, p.RedisEnabled())
	require.Equal(t, "swarmsync", p.MongoDatabase)
	require.Equal(t, 1000, p.MemoryCapacity)
	require.Equal(t, time.Minute, p.ReadCacheTTL)
	require.Equal(t, 30*time.Second, p.HealthCheckInterval)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SWARMSYNC_MODE", "prod")
	t.Setenv("SWARMSYNC_MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("SWARMSYNC_REDIS_ADDR", "localhost:6379")
	t.Setenv("SWARMSYNC_MEMORY_CAPACITY", "50")

	p := FromEnv()
	require.Equal(t, "prod", p.Mode)
	require.False(t, p.IsDev())
	require.True(t, p.MongoEnabled())
	require.True(t, p.RedisEnabled())
	require.Equal(t, 50, p.MemoryCapacity)
}

func TestValidateNormalizes(t *testing.T) {
	p := &Profile{Mode: "staging", MemoryCapacity: 10}
	require.NoError(t, p.Validate())
	require.Equal(t, "demo", p.Mode, "unknown modes collapse to demo")
	require.Equal(t, 5*time.Second, p.MongoTimeout)
	require.Equal(t, 2*time.Second, p.RedisTimeout)
	require.Equal(t, 30*time.Minute, p.RedisTTL)
	require.Equal(t, time.Minute, p.ReadCacheTTL)
	require.Equal(t, 30*time.Second, p.HealthCheckInterval)
}

func TestValidateRejectsUnusable(t *testing.T) {
	p := &Profile{Mode: "dev"}
	require.Error(t, p.Validate(), "zero memory capacity is unusable")

	p = &Profile{Mode: "dev", MemoryCapacity: 10, MongoURI: "mongodb://localhost", MongoDatabase: ""}
	require.Error(t, p.Validate(), "a configured durable tier needs a database name")
}
