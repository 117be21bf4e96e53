package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// ErrNoToken is returned when no token source yields a value
var ErrNoToken = errors.New("no API token configured")

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnv expands ${VAR} references in path and identity fields
func (c *Config) expandEnv() {
	c.Remote.Owner = os.ExpandEnv(c.Remote.Owner)
	c.Remote.Repo = os.ExpandEnv(c.Remote.Repo)
	c.Remote.Branch = os.ExpandEnv(c.Remote.Branch)
	c.Remote.APIURL = os.ExpandEnv(c.Remote.APIURL)
	c.Remote.TokenFile = os.ExpandEnv(c.Remote.TokenFile)
	c.Paths.Project = os.ExpandEnv(c.Paths.Project)
	c.Paths.Scratch = os.ExpandEnv(c.Paths.Scratch)
	c.Logging.File = os.ExpandEnv(c.Logging.File)
}

// SaveToFile saves configuration to a YAML file
func SaveToFile(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Tokens stay out of files written by the tool
	out := *cfg
	out.Remote.Token = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// LoadDefault attempts to load configuration from the default location
// If the file doesn't exist, returns the default configuration
func LoadDefault() (*Config, error) {
	path := DefaultConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return LoadFromFile(path)
}

// ResolveToken returns the API token: the inline value first, then the token file,
// then the environment variable named by token_env
func (c *Config) ResolveToken() (string, error) {
	if c.Remote.Token != "" {
		return c.Remote.Token, nil
	}

	if c.Remote.TokenFile != "" {
		data, err := os.ReadFile(c.Remote.TokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("%w: token file %s is empty", ErrNoToken, c.Remote.TokenFile)
		}
		return token, nil
	}

	if c.Remote.TokenEnv != "" {
		if token := strings.TrimSpace(os.Getenv(c.Remote.TokenEnv)); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("%w: set %s, remote.token_file or remote.token", ErrNoToken, c.Remote.TokenEnv)
	}

	return "", ErrNoToken
}
