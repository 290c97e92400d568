package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.SeatStore)
	assert.Equal(t, BackendMemory, cfg.CatalogStore)
	assert.Equal(t, 2*time.Second, cfg.CallTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, EventsNone, cfg.Events.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Len(t, cfg.Cassandra.Hosts, 3)
	assert.Equal(t, "", cfg.SQLBackend())
}

func TestLoadSQLBackendNeedsUser(t *testing.T) {
	t.Setenv("SEAT_STORE", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_USER")

	t.Setenv("DB_USER", "app")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.CatalogStore)
	assert.Equal(t, "5432", cfg.DB.Port)
	assert.Equal(t, BackendPostgres, cfg.SQLBackend())
}

func TestLoadRejectsWeakCassandraConsistency(t *testing.T) {
	t.Setenv("SEAT_STORE", "cassandra")
	t.Setenv("CASSANDRA_CONSISTENCY", "ONE")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CASSANDRA_CONSISTENCY")
}

func TestLoadReportsAllProblems(t *testing.T) {
	t.Setenv("SEAT_STORE", "etcd")
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")
	t.Setenv("STORE_CALL_TIMEOUT", "0s")
	t.Setenv("EVENTS_BACKEND", "nats")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{"SEAT_STORE", "RETRY_MAX_ATTEMPTS", "STORE_CALL_TIMEOUT", "EVENTS_BACKEND"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedisAddrFromHostPort(t *testing.T) {
	t.Setenv("REDIS_ADDR", "ignored:1")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_MIN_REPLICAS", "2")

	rc := loadRedisConfig()
	assert.Equal(t, "cache:6380", rc.Addr)
	assert.Equal(t, 2, rc.MinReplicas)
}

func TestRateLimitBurstOverride(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")

	rl := LoadRateLimitConfig()
	assert.Equal(t, 5, rl.Capacity)
	assert.Equal(t, 1, rl.RefillTokens)
	assert.Equal(t, 2*time.Second, rl.RefillInterval)
	assert.GreaterOrEqual(t, rl.TTL, 10*time.Second)
}

func TestValidateRejectsMixedSQLDialects(t *testing.T) {
	t.Setenv("SEAT_STORE", "postgres")
	t.Setenv("CATALOG_STORE", "mysql")
	t.Setenv("DB_USER", "app")

	_, err := Load()
	assert.ErrorContains(t, err, "cannot share a database")
}
