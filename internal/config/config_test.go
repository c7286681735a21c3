package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	unsetCoreEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.BindAddr)
	assert.Equal(t, "scripted", cfg.AgentMode)
	assert.Equal(t, 1500*time.Millisecond, cfg.AgentStepDelay)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.True(t, cfg.RateLimitEnabled)
	assert.False(t, cfg.DisplayEnabled)
	assert.Equal(t, 512, cfg.TaskEventHistory)
	assert.Zero(t, cfg.TaskRetention)
}

func TestLoadRemoteRequiresURL(t *testing.T) {
	unsetCoreEnv(t)
	t.Setenv("AGENT_MODE", "Remote")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	t.Setenv("AGENT_REMOTE_URL", " ws://worker:9000/agent ")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "remote", cfg.AgentMode)
	assert.Equal(t, "ws://worker:9000/agent", cfg.AgentRemoteURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"AGENT_MODE":               "telepathy",
		"APP_SESSION_IDLE_TIMEOUT": "1s",
		"AGENT_STEP_DELAY":         "soon",
		"TASK_EVENT_HISTORY":       "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			unsetCoreEnv(t)
			t.Setenv(key, val)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			require.Error(t, err)
		})
	}
}

func TestLoadReadsDotEnvWithoutOverridingEnv(t *testing.T) {
	unsetCoreEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_BIND_ADDR=:9999\nDISPLAY_ENABLED=true\n"), 0o600))
	t.Setenv("DISPLAY_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.BindAddr)
	assert.False(t, cfg.DisplayEnabled)
}

func TestLoadClient(t *testing.T) {
	unsetCoreEnv(t)
	t.Setenv("PILOT_API_URL", "http://pilot.local:8000/api/")

	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "http://pilot.local:8000/api", cfg.APIURL)
	assert.Equal(t, time.Second, cfg.ActionFast)
	assert.Equal(t, 3*time.Second, cfg.ActionSlow)

	t.Setenv("PILOT_STATUS_INTERVAL", "0s")
	_, err = LoadClient(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

// unsetCoreEnv clears every key the loaders read; t.Setenv restores them
// after the test.
func unsetCoreEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_IDLE_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_DEV",
		"RATE_LIMIT_ENABLED",
		"RATE_LIMIT_RPS",
		"RATE_LIMIT_BURST",
		"AGENT_MODE",
		"AGENT_REMOTE_URL",
		"AGENT_SCENARIO_PATH",
		"AGENT_STEP_DELAY",
		"AGENT_TASK_TIMEOUT",
		"DISPLAY_ENABLED",
		"DISPLAY_VNC_ADDR",
		"DISPLAY_WS_URL",
		"TASK_EVENT_HISTORY",
		"TASK_RETENTION",
		"PILOT_API_URL",
		"PILOT_REQUEST_TIMEOUT",
		"PILOT_STATUS_INTERVAL",
		"PILOT_ACTION_FAST_INTERVAL",
		"PILOT_ACTION_SLOW_INTERVAL",
		"PILOT_THOUGHT_INTERVAL",
		"PILOT_REVEAL_STEP",
	}
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
