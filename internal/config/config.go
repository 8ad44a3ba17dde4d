package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Storage      StorageConfig      `yaml:"storage"`
	Session      SessionConfig      `yaml:"session"`
	Presets      PresetsConfig      `yaml:"presets"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ControlPlaneConfig struct {
	WSURL              string `yaml:"ws_url"`
	Token              string `yaml:"token"`
	ReconnectBackoffMs []int  `yaml:"reconnect_backoff_ms"`
}

type StorageConfig struct {
	StateDir       string `yaml:"state_dir"`
	JournalMax     int    `yaml:"journal_max"`
	JournalEnabled bool   `yaml:"journal_enabled"`
}

// SessionConfig holds the defaults applied to new sessions.
type SessionConfig struct {
	Tools                   []string `yaml:"tools"`
	WorkingDirectory        string   `yaml:"working_directory"`
	PermissionMode          string   `yaml:"permission_mode"`
	Provider                string   `yaml:"provider"`
	Model                   string   `yaml:"model"`
	HistoryPageSize         int      `yaml:"history_page_size"`
	ContextRefreshTimeoutMs int      `yaml:"context_refresh_timeout_ms"`
	TodoClearDelayMs        int      `yaml:"todo_clear_delay_ms"`
}

type PresetsConfig struct {
	Dir    string `yaml:"dir"`
	APIURL string `yaml:"api_url"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LoggingConfig struct {
	File  string `yaml:"file"`
	Debug bool   `yaml:"debug"`
}

func (c SessionConfig) ContextRefreshTimeout() time.Duration {
	return time.Duration(c.ContextRefreshTimeoutMs) * time.Millisecond
}

func (c SessionConfig) TodoClearDelay() time.Duration {
	return time.Duration(c.TodoClearDelayMs) * time.Millisecond
}

// JournalPath is where inbound frames are journaled.
func (c StorageConfig) JournalPath() string {
	return filepath.Join(c.StateDir, "inbound.jsonl")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ControlPlane.WSURL == "" {
		cfg.ControlPlane.WSURL = "ws://127.0.0.1:3456/ws"
	}
	if len(cfg.ControlPlane.ReconnectBackoffMs) == 0 {
		cfg.ControlPlane.ReconnectBackoffMs = []int{250, 500, 1000, 2000, 5000}
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = defaultStateDir()
	}
	if cfg.Storage.JournalMax == 0 {
		cfg.Storage.JournalMax = 50000
	}
	if len(cfg.Session.Tools) == 0 {
		cfg.Session.Tools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob", "TodoWrite"}
	}
	if cfg.Session.PermissionMode == "" {
		cfg.Session.PermissionMode = "default"
	}
	if cfg.Session.HistoryPageSize == 0 {
		cfg.Session.HistoryPageSize = 50
	}
	if cfg.Session.ContextRefreshTimeoutMs == 0 {
		cfg.Session.ContextRefreshTimeoutMs = 10000
	}
	if cfg.Session.TodoClearDelayMs == 0 {
		cfg.Session.TodoClearDelayMs = 5000
	}
	if cfg.Presets.Dir == "" {
		cfg.Presets.Dir = "~/.claude/agents"
	}
	cfg.Presets.Dir = expandHome(cfg.Presets.Dir)
	cfg.Storage.StateDir = expandHome(cfg.Storage.StateDir)
	if cfg.Presets.APIURL == "" {
		cfg.Presets.APIURL = apiURLFromWS(cfg.ControlPlane.WSURL)
	}
}

// Optional environment overrides for secrets and endpoints.
func applyEnv(cfg *Config) {
	if envToken := os.Getenv("CCT_WS_TOKEN"); envToken != "" {
		cfg.ControlPlane.Token = envToken
	}
	if envURL := os.Getenv("CCT_WS_URL"); envURL != "" {
		cfg.ControlPlane.WSURL = envURL
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ccterm")
	}
	return filepath.Join(os.TempDir(), "ccterm")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// The REST API is served from the same host as the socket under /api.
func apiURLFromWS(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	default:
		return ""
	}
	u.Path = "/api"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
