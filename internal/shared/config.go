package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Backend       BackendConfig       `toml:"backend"`
	Auth          AuthConfig          `toml:"auth"`
	Polling       PollingConfig       `toml:"polling"`
	Collect       CollectConfig       `toml:"collect"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Bitable       BitableConfig       `toml:"bitable"`
	Database      DatabaseConfig      `toml:"database"`
	Logging       LoggingConfig       `toml:"logging"`
}

// BackendConfig points at the task backend (collection and transcription jobs).
type BackendConfig struct {
	BaseURL string        `toml:"base_url"`
	Timeout time.Duration `toml:"timeout"`
}

// AuthConfig contains token refresh settings.
//
// Scope names the row in the credential store; separate scopes keep separate token pairs.
type AuthConfig struct {
	Scope         string        `toml:"scope"`
	RefreshPath   string        `toml:"refresh_path"`
	RefreshMargin time.Duration `toml:"refresh_margin"`
}

// PollingConfig contains poll cadence and per-kind deadlines.
type PollingConfig struct {
	Interval          time.Duration `toml:"interval"`
	CollectTimeout    time.Duration `toml:"collect_timeout"`
	TranscribeTimeout time.Duration `toml:"transcribe_timeout"`
	MaxConcurrentJobs int           `toml:"max_concurrent_jobs"`
}

// CollectConfig contains defaults for collection jobs.
type CollectConfig struct {
	MaxVideosPerAuthor int `toml:"max_videos_per_author"`
}

// TranscriptionConfig contains defaults for transcription jobs.
type TranscriptionConfig struct {
	Strategy      string `toml:"strategy"`
	MaxConcurrent int    `toml:"max_concurrent"`
}

// BitableConfig contains the write-back target and pacing.
type BitableConfig struct {
	BaseURL    string        `toml:"base_url"`
	AppToken   string        `toml:"app_token"`
	TableID    string        `toml:"table_id"`
	BatchSize  int           `toml:"batch_size"`
	BatchDelay time.Duration `toml:"batch_delay"`

	// AccessToken authorizes table calls directly. Empty routes them through the backend credentials.
	AccessToken string `toml:"access_token"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoggingConfig contains log level and the file used while the TUI is active.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values from [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports the first missing or non-positive setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Backend.BaseURL) == "":
		return fmt.Errorf("%w: backend.base_url is required", ErrInvalidConfig)
	case c.Polling.Interval <= 0:
		return fmt.Errorf("%w: polling.interval must be positive", ErrInvalidConfig)
	case c.Polling.CollectTimeout <= 0 || c.Polling.TranscribeTimeout <= 0:
		return fmt.Errorf("%w: polling timeouts must be positive", ErrInvalidConfig)
	case c.Bitable.BatchSize <= 0:
		return fmt.Errorf("%w: bitable.batch_size must be positive", ErrInvalidConfig)
	case c.Bitable.BatchDelay < 0:
		return fmt.Errorf("%w: bitable.batch_delay cannot be negative", ErrInvalidConfig)
	case c.Auth.RefreshMargin < 0:
		return fmt.Errorf("%w: auth.refresh_margin cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// HasTable reports whether a write-back target is configured.
func (c *Config) HasTable() bool {
	return c.Bitable.AppToken != "" && c.Bitable.TableID != ""
}
