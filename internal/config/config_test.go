package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
app:
  name: sla-engine
  env: production
server:
  port: 9090
database:
  type: postgres
  host: db.internal
  password: hunter2
engine:
  check_interval: 45s
  max_concurrent_processing: 16
calendars:
  support:
    file: calendars/support.yaml
`), 0o644))

	require.NoError(t, LoadFromFile(file))
	c := Get()
	require.NotNil(t, c)

	assert.Equal(t, "production", c.App.Env)
	assert.True(t, c.App.IsProduction())
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", c.Server.GetServerAddr())
	assert.Equal(t, 45*time.Second, c.Engine.CheckInterval)
	assert.Equal(t, 16, c.Engine.MaxConcurrentProcessing)
	assert.Equal(t, "calendars/support.yaml", c.Calendars["support"].File)
	assert.Contains(t, c.Database.GetDSN(), "host=db.internal")
	assert.Contains(t, c.Database.GetDSN(), "password=hunter2")
}

func TestLoadFromFileDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("app:\n  name: sla-engine\n"), 0o644))

	require.NoError(t, LoadFromFile(file))
	c := Get()
	require.NotNil(t, c)

	assert.Equal(t, "memory", c.Database.Type)
	assert.Equal(t, 30*time.Second, c.Engine.CheckInterval)
	assert.Equal(t, 8, c.Engine.MaxConcurrentProcessing)
	assert.Equal(t, 24*time.Hour, c.Engine.ScanHorizon)
	assert.Equal(t, 1000, c.Engine.ScanBatchLimit)
	assert.Equal(t, "sla:scan:lock", c.Redis.Lock.Key)
	assert.False(t, c.Redis.Enabled)
}

func TestLoadFromFileMissing(t *testing.T) {
	err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
