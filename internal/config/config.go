package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultTimeoutMS bounds the wait for response headers.
	DefaultTimeoutMS = 30000
	// DefaultChatPath is the agent chat endpoint.
	DefaultChatPath = "/api/chat"
	// DefaultJobStreamPath is the job log endpoint; {id} is replaced by the job id.
	DefaultJobStreamPath = "/api/jobs/{id}/stream"
	// DefaultLogLevel is used when neither config nor flags set one.
	DefaultLogLevel = "warn"
)

// Config defines how jobstream connects to the job/agent backend.
type Config struct {
	// APIBaseURL is the backend root URL.
	APIBaseURL string `json:"api_base_url"`
	// APIKey is the optional bearer token used for Authorization.
	APIKey string `json:"api_key"`
	// TimeoutMS bounds the wait for response headers in milliseconds.
	TimeoutMS int `json:"timeout_ms"`
	// IdleTimeoutMS aborts a stream after this long without data; 0 disables it.
	IdleTimeoutMS int `json:"idle_timeout_ms"`
	// ChatPath is the chat endpoint, relative to APIBaseURL.
	ChatPath string `json:"chat_path"`
	// JobStreamPath is the job stream endpoint template.
	JobStreamPath string `json:"job_stream_path"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`
}

var (
	// ErrConfigMissing is returned when the config file does not exist.
	ErrConfigMissing = errors.New("config missing")
	// ErrConfigInvalid is returned when required fields are missing or malformed.
	ErrConfigInvalid = errors.New("config invalid")
)

// Dir returns the jobstream state directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".jobstream"), nil
}

// Path returns the default config path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads and validates the config.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigMissing
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = DefaultTimeoutMS
	}
	if cfg.IdleTimeoutMS < 0 {
		cfg.IdleTimeoutMS = 0
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = DefaultChatPath
	}
	if cfg.JobStreamPath == "" {
		cfg.JobStreamPath = DefaultJobStreamPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	return &cfg, nil
}

// validate checks required fields.
func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("%w: api_base_url is required", ErrConfigInvalid)
	}
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: api_base_url must be an http(s) URL", ErrConfigInvalid)
	}
	if c.JobStreamPath != "" && !strings.Contains(c.JobStreamPath, "{id}") {
		return fmt.Errorf("%w: job_stream_path must contain {id}", ErrConfigInvalid)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrConfigInvalid, c.LogLevel)
	}
	return nil
}

// JobPath returns the stream path for a job id.
func (c *Config) JobPath(jobID string) string {
	return strings.ReplaceAll(c.JobStreamPath, "{id}", url.PathEscape(jobID))
}

// CheckPermissions reports a config file readable by group or others,
// since it may hold an API key.
func CheckPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigMissing
		}
		return fmt.Errorf("stat config: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("config %s has mode %04o; expected 0600", path, perm)
	}
	return nil
}
