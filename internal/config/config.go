// Package config handles configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the crowd configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" json:"server"`
	Chat    ChatConfig    `toml:"chat" json:"chat"`
	Stream  StreamConfig  `toml:"stream" json:"stream"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// ServerConfig holds the backend connection settings.
type ServerConfig struct {
	URL     string   `toml:"url" json:"url"`
	Timeout Duration `toml:"timeout" json:"timeout"`
}

// ChatConfig holds chat behaviour settings.
type ChatConfig struct {
	UserName         string `toml:"user_name" json:"user_name"`
	DefaultAssistant string `toml:"default_assistant" json:"default_assistant"`
	CancelSuperseded bool   `toml:"cancel_superseded" json:"cancel_superseded"`
}

// StreamConfig holds event stream settings.
type StreamConfig struct {
	ReconnectAttempts int      `toml:"reconnect_attempts" json:"reconnect_attempts"`
	ReconnectDelay    Duration `toml:"reconnect_delay" json:"reconnect_delay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file" json:"file"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads configuration from the default path and environment.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads configuration from path and environment. A missing file
// yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnv()

	cfg.expandPaths()

	return cfg, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	if p := os.Getenv("CROWD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(StateDir(), "config.toml")
}

// StateDir returns the crowd state directory.
func StateDir() string {
	if p := os.Getenv("CROWD_STATE_DIR"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".crowd")
}

// RecentDir returns the directory of recently opened chat records.
func RecentDir() string {
	return filepath.Join(StateDir(), "recent")
}

// LogsDir returns the logs directory.
func LogsDir() string {
	return filepath.Join(StateDir(), "logs")
}

// LogFile returns the log file path, defaulting into LogsDir.
func (c *Config) LogFile() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(LogsDir(), "crowd.log")
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     "http://localhost:8000",
			Timeout: Duration{30 * time.Second},
		},
		Chat: ChatConfig{
			UserName: "You",
		},
		Stream: StreamConfig{
			ReconnectAttempts: 0,
			ReconnectDelay:    Duration{2 * time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnv() {
	if url := os.Getenv("CROWD_SERVER_URL"); url != "" {
		c.Server.URL = url
	}
	if assistant := os.Getenv("CROWD_ASSISTANT"); assistant != "" {
		c.Chat.DefaultAssistant = assistant
	}
	if name := os.Getenv("CROWD_USER_NAME"); name != "" {
		c.Chat.UserName = name
	}
	if level := os.Getenv("CROWD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) expandPaths() {
	home, _ := os.UserHomeDir()

	expand := func(p string) string {
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		if strings.HasPrefix(p, "$HOME/") {
			return filepath.Join(home, p[6:])
		}
		return p
	}

	c.Logging.File = expand(c.Logging.File)
}

// Save writes the config to the default path.
func (c *Config) Save() error {
	return c.SaveFile(ConfigPath())
}

// SaveFile writes the config to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// EnsureDirs creates necessary directories.
func EnsureDirs() error {
	dirs := []string{
		StateDir(),
		RecentDir(),
		LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return nil
}
