package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoad(t *testing.T, files ...string) (*Config, error) {
	t.Helper()
	return loadConfig(aconfig.Config{SkipFlags: true, Files: files})
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORDERS_DATABASE_URL", "postgres://localhost/orders")

	cfg, err := testLoad(t)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "original", cfg.Discount.Stacking)
	assert.Equal(t, 5*time.Minute, cfg.Redis.AnalyticsTTL)
	assert.Equal(t, "orders.events", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadConfig_RequiresDatabase(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORDERS_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")

	_, err := testLoad(t)
	require.ErrorContains(t, err, "database URL is required")
}

func TestLoadConfig_PlatformFallbacks(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORDERS_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://platform/orders")
	t.Setenv("PORT", "9000")

	cfg, err := testLoad(t)
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/orders", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestLoadConfig_DotEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	// Cleared so that godotenv, which never overrides, can set it.
	t.Setenv("ORDERS_DATABASE_URL", "")
	require.NoError(t, os.Unsetenv("ORDERS_DATABASE_URL"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("ORDERS_DATABASE_URL=postgres://dotenv/orders\n"), 0o600))

	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
discount:
  stacking: remaining
  rules_file: rules.yaml
redis:
  addr: localhost:6379
  analytics_ttl: 30s
`), 0o600))

	cfg, err := testLoad(t, file)
	require.NoError(t, err)
	assert.Equal(t, "postgres://dotenv/orders", cfg.DatabaseURL)
	assert.Equal(t, "remaining", cfg.Discount.Stacking)
	assert.Equal(t, "rules.yaml", cfg.Discount.RulesFile)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Redis.AnalyticsTTL)
}
