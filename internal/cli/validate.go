package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sdejongh/branchsync/pkg/config"
	"github.com/sdejongh/branchsync/pkg/github"
	"github.com/sdejongh/branchsync/pkg/logging"
	"github.com/sdejongh/branchsync/pkg/models"
)

// loadConfig loads configuration from file or returns default
func loadConfig() (*config.Config, error) {
	if globalFlags.ConfigFile != "" {
		return config.LoadFromFile(globalFlags.ConfigFile)
	}
	return config.LoadDefault()
}

// applyFlagsToConfig overrides config values with the flags the user actually set
func applyFlagsToConfig(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("repo") {
		if err := cfg.SetRepository(syncFlags.Repository); err != nil {
			return err
		}
	}
	if changed("branch") {
		cfg.Remote.Branch = syncFlags.Branch
	}
	if changed("api-url") {
		cfg.Remote.APIURL = syncFlags.APIURL
	}
	if changed("token-file") {
		cfg.Remote.TokenFile = syncFlags.TokenFile
	}
	if changed("timeout") {
		cfg.Remote.Timeout = syncFlags.Timeout
	}
	if changed("message") {
		cfg.Remote.CommitMessage = syncFlags.Message
	}
	if changed("project") {
		cfg.Paths.Project = syncFlags.Project
	}
	if changed("scratch") {
		cfg.Paths.Scratch = syncFlags.Scratch
	}
	if changed("direction") {
		cfg.Sync.Direction = models.Direction(syncFlags.Direction)
	}
	if changed("analyze-only") {
		cfg.Sync.AnalyzeOnly = syncFlags.AnalyzeOnly
	}
	if changed("reuse-manifest") {
		cfg.Sync.ReuseLocalManifest = syncFlags.ReuseManifest
	}
	if changed("parallel") {
		cfg.Performance.MaxWorkers = syncFlags.Parallel
	}
	if changed("bandwidth") {
		limit, err := parseBandwidth(syncFlags.Bandwidth)
		if err != nil {
			return err
		}
		cfg.Performance.BandwidthLimit = limit
	}
	if changed("exclude") {
		cfg.Exclude = syncFlags.Exclude
	}
	if changed("output") {
		cfg.Output.Format = syncFlags.Output
	}
	if changed("log-file") {
		cfg.Logging.Enabled = true
		cfg.Logging.File = syncFlags.LogFile
	}
	if changed("log-format") {
		cfg.Logging.Format = syncFlags.LogFormat
	}
	if changed("log-level") {
		cfg.Logging.Level = syncFlags.LogLevel
	}

	// Disable progress in quiet mode
	if globalFlags.Quiet {
		cfg.Output.Progress = false
		cfg.Output.Quiet = true
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.ValidateTarget()
}

// validatePaths checks the project directory exists and does not overlap the scratch root
func validatePaths(cfg *config.Config) error {
	info, err := os.Stat(cfg.Paths.Project)
	if os.IsNotExist(err) {
		return fmt.Errorf("project path does not exist: %s", cfg.Paths.Project)
	} else if err != nil {
		return fmt.Errorf("failed to access project path: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("project path is not a directory: %s", cfg.Paths.Project)
	}

	projectAbs, err := filepath.Abs(cfg.Paths.Project)
	if err != nil {
		return fmt.Errorf("failed to resolve project path: %w", err)
	}
	scratchAbs, err := filepath.Abs(cfg.Paths.Scratch)
	if err != nil {
		return fmt.Errorf("failed to resolve scratch path: %w", err)
	}

	if projectAbs == scratchAbs {
		return fmt.Errorf("project and scratch cannot be the same: %s", projectAbs)
	}
	if strings.HasPrefix(scratchAbs, projectAbs+string(filepath.Separator)) {
		return fmt.Errorf("scratch cannot be inside the project directory")
	}
	if strings.HasPrefix(projectAbs, scratchAbs+string(filepath.Separator)) {
		return fmt.Errorf("project cannot be inside the scratch directory")
	}

	cfg.Paths.Project, cfg.Paths.Scratch = projectAbs, scratchAbs
	return nil
}

// createCycleOperation creates a cycle operation from configuration
func createCycleOperation(cfg *config.Config) (*models.CycleOperation, error) {
	operation := &models.CycleOperation{
		ID:                 uuid.New().String(),
		Owner:              cfg.Remote.Owner,
		Repo:               cfg.Remote.Repo,
		Branch:             cfg.Remote.Branch,
		ProjectPath:        cfg.Paths.Project,
		ScratchPath:        cfg.Paths.Scratch,
		Direction:          cfg.Sync.Direction,
		AnalyzeOnly:        cfg.Sync.AnalyzeOnly,
		CommitMessage:      cfg.Remote.CommitMessage,
		ReuseLocalManifest: cfg.Sync.ReuseLocalManifest,
		ExcludePatterns:    cfg.Exclude,
		MaxWorkers:         cfg.Performance.MaxWorkers,
		BandwidthLimit:     cfg.Performance.BandwidthLimit,
		BufferSize:         cfg.Performance.BufferSize,
		CreatedAt:          time.Now(),
	}

	if err := operation.Validate(); err != nil {
		return nil, err
	}

	return operation, nil
}

// newClient builds the API client from the remote section
func newClient(cfg *config.Config, logger logging.Logger) (*github.Client, error) {
	token, err := cfg.ResolveToken()
	if err != nil {
		return nil, err
	}

	userAgent := cfg.Remote.UserAgent
	if userAgent == "" {
		userAgent = "branchsync/" + Version
	}

	return github.New(cfg.Remote.APIURL, token,
		github.WithUserAgent(userAgent),
		github.WithTimeout(cfg.Remote.Timeout),
		github.WithLogger(logger),
	), nil
}

// createLogger returns a file logger when a log file is configured, a stderr logger
// in verbose mode and a null logger otherwise
func createLogger(cfg *config.Config) (logging.Logger, error) {
	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}

	if cfg.Logging.Enabled && cfg.Logging.File != "" {
		return logging.NewFileLogger(logging.FileLoggerConfig{
			Path:       cfg.Logging.File,
			Format:     format,
			Level:      logging.ParseLevel(cfg.Logging.Level),
			MaxSize:    10 * 1024 * 1024, // 10 MB
			MaxBackups: 5,
		})
	}

	if globalFlags.Verbose {
		return logging.NewWriterLogger(os.Stderr, format, logging.DebugLevel), nil
	}
	if cfg.Logging.Enabled {
		return logging.NewWriterLogger(os.Stderr, format, logging.ParseLevel(cfg.Logging.Level)), nil
	}

	return logging.NewNullLogger(), nil
}

// parseBandwidth parses a byte rate such as "512K", "10M" or "1G" (powers of 1024).
// An empty string or "0" means unlimited.
func parseBandwidth(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid bandwidth limit: %q (e.g. \"512K\", \"10M\")", s)
	}
	return n * multiplier, nil
}
