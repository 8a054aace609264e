package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/filerelay/internal/config"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.json")
	require.NoError(t, err)
	assert.Equal(t, 2011, cfg.Relay.Port)
	assert.Equal(t, config.StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 30, cfg.StatsInterval)
	assert.Equal(t, 4096, cfg.Relay.ReadBufferSize)
	assert.Equal(t, 256, cfg.Relay.SendQueueSize)
	assert.Equal(t, 10, cfg.Relay.WriteTimeoutSeconds)
	assert.Equal(t, "10MB", cfg.LogMaxSize)
	assert.Equal(t, 14, cfg.LogMaxFiles)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"relay":{"port":3000,"sendQueueSize":32},"store":{"backend":"sqlite","path":"/tmp/v.db"}}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Relay.Port)
	assert.Equal(t, 32, cfg.Relay.SendQueueSize)
	assert.Equal(t, "127.0.0.1", cfg.Relay.Host, "unset fields keep defaults")
	assert.Equal(t, config.StoreSQLite, cfg.Store.Backend)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "websocket:\n  enabled: true\n  port: 9090\n"+
		"notifications:\n  enabled: true\n  webhook: http://example.test/hook\n"+
		"logLevel: debug\nlogMaxSize: 1MB\nlogMaxFiles: 3\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Websocket.Enabled)
	assert.Equal(t, 9090, cfg.Websocket.Port)
	assert.Equal(t, "/ws", cfg.Websocket.Path, "path default lost")
	assert.Equal(t, "http://example.test/hook", cfg.Notifications.Webhook)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "1MB", cfg.LogMaxSize)
	assert.Equal(t, 3, cfg.LogMaxFiles)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "config.json", `{"store":{"backend":"redis"}}`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	path := writeConfig(t, "config.json", `{not json`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidateBoltNeedsPath(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = config.StoreBolt
	require.NoError(t, cfg.Validate(), "default path should satisfy bolt")

	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate())
}
