// Package config loads client and dev server settings from a YAML file,
// an optional .env file and MARKETCHAT_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MARKETCHAT_"

// Roster selects and configures the client-local roster store.
type Roster struct {
	Backend  string `yaml:"backend"` // file|sqlite|redis|pebble|memory
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// Config holds every setting the binaries understand.
type Config struct {
	ParticipantID  string        `yaml:"participant_id"`
	Token          string        `yaml:"token"`
	APIURL         string        `yaml:"api_url"`
	PushURL        string        `yaml:"push_url"`
	Roster         Roster        `yaml:"roster"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	TypingTimeout  time.Duration `yaml:"typing_timeout"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	ListenAddr     string        `yaml:"listen_addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:  "http://localhost:8080",
		PushURL: "ws://localhost:8080/ws/conversations",
		Roster: Roster{
			Backend: "file",
			Path:    filepath.Join(DefaultDir(), "roster"),
		},
		ReconnectDelay: 3 * time.Second,
		TypingTimeout:  2 * time.Second,
		LogLevel:       "info",
		LogFormat:      "console",
		ListenAddr:     ":8080",
	}
}

// DefaultDir returns ~/.marketchat.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".marketchat")
}

// GetConfigPath returns the default config file path.
func GetConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads configuration from path (the default path when empty). A
// missing file yields the defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return DefaultConfig(), errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
	default:
		return DefaultConfig(), errors.Wrapf(err, "read config %s", path)
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// ApplyEnv overrides fields from MARKETCHAT_* variables.
func (c *Config) ApplyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}

	str("PARTICIPANT_ID", &c.ParticipantID)
	str("TOKEN", &c.Token)
	str("API_URL", &c.APIURL)
	str("PUSH_URL", &c.PushURL)
	str("ROSTER_BACKEND", &c.Roster.Backend)
	str("ROSTER_PATH", &c.Roster.Path)
	str("REDIS_URL", &c.Roster.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LISTEN_ADDR", &c.ListenAddr)
	dur("RECONNECT_DELAY", &c.ReconnectDelay)
	dur("TYPING_TIMEOUT", &c.TypingTimeout)
}

// Validate checks values that would otherwise fail deep inside a component.
func (c Config) Validate() error {
	switch c.Roster.Backend {
	case "file", "sqlite", "redis", "pebble", "memory":
	default:
		return errors.Errorf("unknown roster backend %q", c.Roster.Backend)
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("reconnect_delay must be positive")
	}
	if c.TypingTimeout <= 0 {
		return errors.New("typing_timeout must be positive")
	}
	return nil
}

// Save writes configuration to path (the default path when empty).
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return os.WriteFile(path, data, 0o600)
}
