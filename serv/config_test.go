package serv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "declarest.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
app_name: test-gw
database:
  connection_string: "sqlite::memory:"
`)
	conf, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test-gw", conf.AppName)
	assert.Equal(t, "0.0.0.0:8080", conf.HostPort)
	assert.Equal(t, "info", conf.LogLevel)
	assert.Equal(t, defaultWorkers, conf.Workers)
	assert.Equal(t, defaultPollInterval, conf.PollInterval)
	assert.Equal(t, defaultPoolSize, conf.Database.PoolSize)
	assert.Equal(t, defaultAdminPool, conf.MetaDB.PoolSize)

	// a default listener is synthesized from host_port
	require.Len(t, conf.Listeners, 1)
	assert.Equal(t, "default", conf.Listeners[0].Name)
	assert.Equal(t, "0.0.0.0:8080", conf.Listeners[0].HostPort)
}

func TestNewConfigFull(t *testing.T) {
	path := writeConfig(t, `
app_name: test-gw
log_level: debug
host_port: 127.0.0.1:9090
spec_file: ./api.json
workers: 4
poll_interval: 30s
max_body_size: 1048576
cors_allowed_origins: ["https://app.example"]
database:
  type: sqlite
  connection_string: "sqlite:/tmp/data.db"
  max_pool_size: 3
listeners:
  - name: public
    host_port: 0.0.0.0:8081
    apis: ["orders-api"]
authenticators:
  - name: keys
    type: key
    enabled: true
    header_name: X-Gateway-Key
consumers:
  - name: alice
    api_key: secret-1
`)
	conf, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, 4, conf.Workers)
	assert.Equal(t, 30*time.Second, conf.PollInterval)
	assert.Equal(t, int64(1048576), conf.MaxBodySize)
	assert.Equal(t, []string{"https://app.example"}, conf.AllowedOrigins)
	assert.Equal(t, 3, conf.Database.PoolSize)

	require.Len(t, conf.Listeners, 1)
	assert.Equal(t, "public", conf.Listeners[0].Name)
	assert.Equal(t, []string{"orders-api"}, conf.Listeners[0].APIs)

	require.Len(t, conf.Authenticators, 1)
	assert.Equal(t, "X-Gateway-Key", conf.Authenticators[0].HeaderName)
	require.Len(t, conf.Consumers, 1)
	assert.Equal(t, "secret-1", conf.Consumers[0].APIKey)
}

func TestNewConfigValidation(t *testing.T) {
	path := writeConfig(t, `
log_level: verbose
`)
	_, err := NewConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}
