package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"STORE_DRIVER", "DB_HOST", "SERVER_PORT", "STORE_TIMEOUT", "MAX_RETRIES", "REDIS_ADDR", "RUN_MIGRATIONS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.True(t, cfg.RunMigrations)
	assert.False(t, cfg.CacheEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("STORE_TIMEOUT", "250ms")
	t.Setenv("MAX_RETRIES", "2")
	t.Setenv("RUN_MIGRATIONS", "false")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CACHE_TTL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.False(t, cfg.RunMigrations)
	assert.True(t, cfg.CacheEnabled())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestGetDBConnectionString(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: "6543", DBUser: "u", DBPassword: "p", DBName: "ledger"}

	assert.Equal(t, "host=db port=6543 user=u password=p dbname=ledger sslmode=disable", cfg.GetDBConnectionString())
}
