package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestLoadDefaults(t *testing.T) {
	resetViper()
	t.Cleanup(resetViper)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "sqlite", cfg.Warehouse.Driver)
	assert.Equal(t, 1000, cfg.Warehouse.MaxRows)
	assert.Equal(t, "lamini", cfg.LLM.Provider)
	assert.Equal(t, "sql_queries", cfg.Paths.Queries)
	assert.Equal(t, "output", cfg.Paths.Output)
	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, "sales_data", cfg.Agent.DefaultTable)
}

func TestLoadFromFile(t *testing.T) {
	resetViper()
	t.Cleanup(resetViper)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  address: ":9090"
warehouse:
  driver: postgres
  dsn: "host=localhost user=agent dbname=warehouse"
llm:
  model: "custom-model"
  timeout_seconds: 120
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "postgres", cfg.Warehouse.Driver)
	assert.Equal(t, "custom-model", cfg.LLM.Model)
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout())

	// Untouched sections keep their defaults
	assert.Equal(t, "sqlite", cfg.DB.Driver)
}

func TestEnvironmentOverrides(t *testing.T) {
	resetViper()
	t.Cleanup(resetViper)

	t.Setenv("APP_SERVER_ADDRESS", ":7070")
	t.Setenv("LAMINI_API_KEY", "secret-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "secret-key", cfg.LLM.APIKey)
}

func TestValidateRejectsBadWarehouseDriver(t *testing.T) {
	resetViper()
	t.Cleanup(resetViper)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("warehouse:\n  driver: clickhouse\n"), 0644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse driver")
}

func TestValidateRejectsBadStorageType(t *testing.T) {
	resetViper()
	t.Cleanup(resetViper)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: ftp\n"), 0644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage type")
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL())

	cfg.LLM.TimeoutSeconds = 30
	cfg.Cache.TTLSeconds = 120
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL())
}

func TestStringHidesSecrets(t *testing.T) {
	cfg := Config{}
	cfg.DB.DSN = "user:password@host/db"
	cfg.Warehouse.DSN = "user:password@host/warehouse"

	s := cfg.String()
	assert.NotContains(t, s, "password")
	assert.Contains(t, s, "[HIDDEN]")
}
