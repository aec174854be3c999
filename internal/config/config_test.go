package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Server.BaseURL)
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfigValues(t *testing.T) {
	path := writeConfig(t, `
[server]
base-url = "https://training.example.com"
timeout-seconds = 12
requests-per-second = 4.5

[polling]
review-interval-ms = 1500

[log]
level = "debug"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Server.BaseURL)
	assert.Equal(t, "https://training.example.com", *cfg.Server.BaseURL)
	assert.Equal(t, 12, *cfg.Server.TimeoutSeconds)
	assert.Equal(t, 4.5, *cfg.Server.RequestsPerSecond)
	assert.Equal(t, 1500, *cfg.Polling.ReviewIntervalMs)
	assert.Nil(t, cfg.Polling.LessonIntervalMs)
	assert.Equal(t, "debug", *cfg.Log.Level)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for _, body := range []string{
		"[server]\ntimeout-seconds = 0\n",
		"[polling]\nreview-interval-ms = 10\n",
		"[server]\nbase-uri = \"typo\"\n",
		"[server\n",
	} {
		_, err := LoadConfig(writeConfig(t, body))
		assert.Error(t, err, body)
	}
}

func TestXDGPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Setenv("XDG_STATE_HOME", "/state")
	assert.Equal(t, filepath.Join("/cfg", "tradehub", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join("/data", "tradehub", "tradehub.db"), DefaultDBPath())
	assert.Equal(t, filepath.Join("/state", "tradehub", "tradehub.log"), DefaultLogPath())
}
