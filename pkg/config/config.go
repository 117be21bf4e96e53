package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/sdejongh/branchsync/pkg/models"
)

// AppName names the XDG subdirectories used for config and scratch
const AppName = "branchsync"

// Config represents the application configuration
type Config struct {
	Remote      RemoteConfig      `yaml:"remote"`
	Paths       PathsConfig       `yaml:"paths"`
	Sync        SyncConfig        `yaml:"sync"`
	Performance PerformanceConfig `yaml:"performance"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
	Exclude     []string          `yaml:"exclude"`
}

// RemoteConfig identifies the repository branch and how to authenticate against its host
type RemoteConfig struct {
	Owner         string        `yaml:"owner"`
	Repo          string        `yaml:"repo"`
	Branch        string        `yaml:"branch"`
	APIURL        string        `yaml:"api_url"`
	Token         string        `yaml:"token,omitempty"`
	TokenEnv      string        `yaml:"token_env"`
	TokenFile     string        `yaml:"token_file,omitempty"`
	UserAgent     string        `yaml:"user_agent,omitempty"`
	Timeout       time.Duration `yaml:"timeout"`
	CommitMessage string        `yaml:"commit_message"`
}

// PathsConfig holds the project directory and the scratch root
type PathsConfig struct {
	Project string `yaml:"project"`
	Scratch string `yaml:"scratch"`
}

// SyncConfig holds sync-related settings
type SyncConfig struct {
	Direction          models.Direction `yaml:"direction"`
	AnalyzeOnly        bool             `yaml:"analyze_only"`
	ReuseLocalManifest bool             `yaml:"reuse_local_manifest"`
}

// PerformanceConfig holds performance-related settings
type PerformanceConfig struct {
	MaxWorkers     int   `yaml:"max_workers"`
	BufferSize     int   `yaml:"buffer_size"`
	BandwidthLimit int64 `yaml:"bandwidth_limit"`
}

// OutputConfig holds output-related settings
type OutputConfig struct {
	Format   string `yaml:"format"`   // "human" or "json"
	Progress bool   `yaml:"progress"` // Show progress bars
	Quiet    bool   `yaml:"quiet"`    // Suppress non-error output
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "json" or "text"
	Level   string `yaml:"level"`  // "debug", "info", "warn", "error"
	File    string `yaml:"file"`   // Log file path (empty = stderr)
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			Branch:        "main",
			APIURL:        "https://api.github.com",
			TokenEnv:      "GITHUB_TOKEN",
			Timeout:       5 * time.Minute,
			CommitMessage: "Sync from branchsync",
		},
		Paths: PathsConfig{
			Project: ".",
			Scratch: DefaultScratchPath(),
		},
		Sync: SyncConfig{
			Direction: models.DirectionPull,
		},
		Performance: PerformanceConfig{
			MaxWorkers:     4,
			BufferSize:     65536,
			BandwidthLimit: 0,
		},
		Output: OutputConfig{
			Format:   "human",
			Progress: true,
			Quiet:    false,
		},
		Logging: LoggingConfig{
			Enabled: false,
			Format:  "json",
			Level:   "info",
			File:    "",
		},
		Exclude: []string{
			".git/",
			"*.tmp",
		},
	}
}

// DefaultScratchPath returns the scratch root under the XDG cache directory
func DefaultScratchPath() string {
	return filepath.Join(xdg.CacheHome, AppName, "scratch")
}

// Repository returns "owner/repo"
func (c *Config) Repository() string {
	return c.Remote.Owner + "/" + c.Remote.Repo
}

// SetRepository parses an "owner/repo" string into the remote section
func (c *Config) SetRepository(s string) error {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return &models.ValidationError{
			Field:   "remote.repository",
			Message: "must be in the form owner/repo",
		}
	}
	c.Remote.Owner, c.Remote.Repo = owner, repo
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Remote.Timeout <= 0 {
		return &models.ValidationError{
			Field:   "remote.timeout",
			Message: "must be positive",
		}
	}

	if c.Sync.Direction != models.DirectionPull && c.Sync.Direction != models.DirectionPush {
		return &models.ValidationError{
			Field:   "sync.direction",
			Message: "must be 'pull' or 'push'",
		}
	}

	if c.Performance.MaxWorkers < 1 {
		return &models.ValidationError{
			Field:   "performance.max_workers",
			Message: "must be at least 1",
		}
	}

	if c.Performance.BufferSize < 1024 {
		return &models.ValidationError{
			Field:   "performance.buffer_size",
			Message: "must be at least 1024 bytes",
		}
	}

	if c.Performance.BandwidthLimit < 0 {
		return &models.ValidationError{
			Field:   "performance.bandwidth_limit",
			Message: "must not be negative",
		}
	}

	validFormats := map[string]bool{"human": true, "json": true}
	if !validFormats[c.Output.Format] {
		return &models.ValidationError{
			Field:   "output.format",
			Message: "must be 'human' or 'json'",
		}
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return &models.ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'text'",
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return &models.ValidationError{
			Field:   "logging.level",
			Message: "must be 'debug', 'info', 'warn', or 'error'",
		}
	}

	return nil
}

// ValidateTarget checks the settings a cycle needs on top of Validate.
// It is separate because config files may omit the target and rely on flags.
func (c *Config) ValidateTarget() error {
	if c.Remote.Owner == "" || c.Remote.Repo == "" {
		return &models.ValidationError{
			Field:   "remote.repository",
			Message: "owner and repo are required",
		}
	}
	if c.Remote.Branch == "" {
		return &models.ValidationError{
			Field:   "remote.branch",
			Message: "is required",
		}
	}
	if c.Paths.Project == "" {
		return &models.ValidationError{
			Field:   "paths.project",
			Message: "is required",
		}
	}
	if c.Paths.Scratch == "" {
		return &models.ValidationError{
			Field:   "paths.scratch",
			Message: "is required",
		}
	}
	return nil
}
