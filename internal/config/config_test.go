package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CROWD_SERVER_URL", "CROWD_ASSISTANT", "CROWD_USER_NAME", "CROWD_LOG_LEVEL", "CROWD_CONFIG"} {
		t.Setenv(k, "")
	}
	t.Setenv("CROWD_STATE_DIR", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Server.URL)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout.Duration)
	assert.Equal(t, "You", cfg.Chat.UserName)
	assert.False(t, cfg.Chat.CancelSuperseded)
	assert.Zero(t, cfg.Stream.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Stream.ReconnectDelay.Duration)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(LogsDir(), "crowd.log"), cfg.LogFile())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
url = "https://chat.example.com"
timeout = "5s"

[chat]
user_name = "Ada"
default_assistant = "claude"
cancel_superseded = true

[stream]
reconnect_attempts = 3
reconnect_delay = "500ms"

[logging]
level = "debug"
file = "~/crowd-test.log"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, "https://chat.example.com", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout.Duration)
	assert.Equal(t, "Ada", cfg.Chat.UserName)
	assert.Equal(t, "claude", cfg.Chat.DefaultAssistant)
	assert.True(t, cfg.Chat.CancelSuperseded)
	assert.Equal(t, 3, cfg.Stream.ReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.ReconnectDelay.Duration)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(home, "crowd-test.log"), cfg.LogFile())
}

func TestLoadFileInvalid(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\ntimeout = \"soon\"\n"), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CROWD_SERVER_URL", "http://env:9000")
	t.Setenv("CROWD_ASSISTANT", "gpt")
	t.Setenv("CROWD_USER_NAME", "Grace")
	t.Setenv("CROWD_LOG_LEVEL", "warn")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "http://env:9000", cfg.Server.URL)
	assert.Equal(t, "gpt", cfg.Chat.DefaultAssistant)
	assert.Equal(t, "Grace", cfg.Chat.UserName)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CROWD_STATE_DIR", dir)
	t.Setenv("CROWD_CONFIG", "")

	assert.Equal(t, filepath.Join(dir, "config.toml"), ConfigPath())
	assert.Equal(t, filepath.Join(dir, "recent"), RecentDir())
	assert.Equal(t, filepath.Join(dir, "logs"), LogsDir())

	t.Setenv("CROWD_CONFIG", "/etc/crowd.toml")
	assert.Equal(t, "/etc/crowd.toml", ConfigPath())

	require.NoError(t, EnsureDirs())
	for _, d := range []string{RecentDir(), LogsDir()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Set("server.url", "http://saved:1234"))
	require.NoError(t, cfg.Set("stream.reconnect_delay", "750ms"))

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, cfg.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://saved:1234", loaded.Server.URL)
	assert.Equal(t, 750*time.Millisecond, loaded.Stream.ReconnectDelay.Duration)
}

func TestGetSet(t *testing.T) {
	cfg := defaultConfig()

	tests := []struct {
		key   string
		value string
		want  any
	}{
		{"server.url", "http://x", "http://x"},
		{"server.timeout", "1m", "1m0s"},
		{"chat.user_name", "Ada", "Ada"},
		{"chat.default_assistant", "claude", "claude"},
		{"chat.cancel_superseded", "true", true},
		{"stream.reconnect_attempts", "4", 4},
		{"stream.reconnect_delay", "3s", "3s"},
		{"logging.level", "debug", "debug"},
		{"logging.file", "/tmp/crowd.log", "/tmp/crowd.log"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.NoError(t, cfg.Set(tt.key, tt.value))
			if got := cfg.Get(tt.key); got != tt.want {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}

	assert.Equal(t, cfg.Server, cfg.Get("server"))
	assert.Nil(t, cfg.Get("server.nope"))
	assert.Nil(t, cfg.Get("nope"))
}

func TestSetErrors(t *testing.T) {
	cfg := defaultConfig()

	tests := []struct {
		key   string
		value string
	}{
		{"server", "x"},
		{"server.url.extra", "x"},
		{"nope.url", "x"},
		{"server.port", "80"},
		{"server.timeout", "soon"},
		{"chat.cancel_superseded", "maybe"},
		{"stream.reconnect_attempts", "-1"},
		{"stream.reconnect_attempts", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			assert.Error(t, cfg.Set(tt.key, tt.value))
		})
	}
}
