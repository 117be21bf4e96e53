package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdejongh/branchsync/pkg/diff"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/output"
	"github.com/sdejongh/branchsync/pkg/sync"
)

// SyncFlags holds sync command flags
type SyncFlags struct {
	Repository    string
	Branch        string
	Project       string
	Scratch       string
	APIURL        string
	TokenFile     string
	Timeout       time.Duration
	Direction     string
	AnalyzeOnly   bool
	Message       string
	ReuseManifest bool
	Parallel      int
	Bandwidth     string
	Exclude       []string
	Output        string
	DiffReport    string
	DiffFormat    string
	// Logging flags
	LogFile   string
	LogFormat string
	LogLevel  string
}

var syncFlags SyncFlags

// ExitError carries the process exit code for a cycle that did not succeed.
// The report has already been printed when it is returned.
type ExitError struct {
	Status models.CycleStatus
	Err    error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cycle %s: %v", e.Status, e.Err)
	}
	return "cycle " + string(e.Status)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Code returns the process exit code
func (e *ExitError) Code() int {
	return e.Status.ExitCode()
}

// NewSyncCommand creates the sync command
func NewSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the project directory with a branch",
		Long: `Download the branch archive, compare it with the project directory and
reconcile them. Pull makes the project match the branch; push publishes the
project as one new commit on the branch.`,
		RunE: runSync,
	}

	addTargetFlags(cmd)
	cmd.Flags().StringVar(&syncFlags.Direction, "direction", "pull", "which side wins: pull (branch to project) or push (project to branch)")
	cmd.Flags().BoolVar(&syncFlags.AnalyzeOnly, "analyze-only", false, "stop after computing the differences")
	cmd.Flags().StringVarP(&syncFlags.Message, "message", "m", "", "commit message for push")
	cmd.Flags().BoolVar(&syncFlags.ReuseManifest, "reuse-manifest", false, "reuse the persisted local manifest instead of rescanning the project")
	cmd.Flags().IntVarP(&syncFlags.Parallel, "parallel", "p", 0, "number of parallel workers (default: 4)")
	cmd.Flags().StringVar(&syncFlags.Bandwidth, "bandwidth", "", "bandwidth limit (e.g., \"10M\", \"1G\")")
	cmd.Flags().StringSliceVar(&syncFlags.Exclude, "exclude", []string{}, "glob patterns to exclude")
	addReportFlags(cmd)

	return cmd
}

// addTargetFlags registers the flags that select the repository, the project and the API
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&syncFlags.Repository, "repo", "r", "", "repository as owner/repo")
	cmd.Flags().StringVarP(&syncFlags.Branch, "branch", "b", "", "branch name (default: main)")
	cmd.Flags().StringVarP(&syncFlags.Project, "project", "d", "", "project directory (default: current directory)")
	cmd.Flags().StringVar(&syncFlags.Scratch, "scratch", "", "scratch directory (default: $XDG_CACHE_HOME/branchsync/scratch)")
	cmd.Flags().StringVar(&syncFlags.APIURL, "api-url", "", "API base URL (default: https://api.github.com)")
	cmd.Flags().StringVar(&syncFlags.TokenFile, "token-file", "", "read the API token from this file")
	cmd.Flags().DurationVar(&syncFlags.Timeout, "timeout", 0, "timeout for each API call (default: 5m)")

	// Logging flags
	cmd.Flags().StringVar(&syncFlags.LogFile, "log-file", "", "write logs to file (enables logging)")
	cmd.Flags().StringVar(&syncFlags.LogFormat, "log-format", "text", "log format: text, json")
	cmd.Flags().StringVar(&syncFlags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&syncFlags.Output, "output", "o", "human", "output format: human, json")
	cmd.Flags().StringVar(&syncFlags.DiffReport, "diff-report", "", "write the change report to file")
	cmd.Flags().StringVar(&syncFlags.DiffFormat, "diff-format", "human", "change report format: human, json")
}

func runSync(cmd *cobra.Command, args []string) error {
	return runCycle(cmd, false)
}

// runCycle loads the configuration, runs one engine cycle and prints its report
func runCycle(cmd *cobra.Command, analyzeOnly bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyFlagsToConfig(cmd, cfg); err != nil {
		return err
	}
	if analyzeOnly {
		cfg.Sync.AnalyzeOnly = true
	}
	if err := validatePaths(cfg); err != nil {
		return err
	}

	operation, err := createCycleOperation(cfg)
	if err != nil {
		return fmt.Errorf("failed to create cycle operation: %w", err)
	}

	logger, err := createLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Output.Quiet && cfg.Output.Format != "json" {
		out = io.Discard
	}
	formatter := output.New(cfg.Output.Format, cfg.Output.Progress, out)
	if err := formatter.Start(out, operation); err != nil {
		return err
	}

	engine := sync.NewEngine(client, formatter, logger, operation)
	report, runErr := engine.Run(ctx)

	if err := formatter.Complete(report); err != nil {
		return err
	}

	if syncFlags.DiffReport != "" || cmd.Flags().Changed("diff-format") {
		if err := writeDiffReport(cmd, operation, report); err != nil {
			return fmt.Errorf("failed to write change report: %w", err)
		}
	}

	if report.Status != models.StatusSuccess {
		return &ExitError{Status: report.Status, Err: runErr}
	}
	return nil
}

// writeDiffReport writes the cycle's change list to --diff-report, or stdout when unset
func writeDiffReport(cmd *cobra.Command, op *models.CycleOperation, report *models.CycleReport) error {
	header := output.ChangesHeader{
		Current:  "branch " + report.Repository + "@" + report.Branch,
		Desired:  op.ProjectPath,
		Priority: op.Direction.Priority(),
		Analyzed: report.StartTime,
	}
	if op.Direction == models.DirectionPull {
		header.Current, header.Desired = header.Desired, header.Current
	}

	if syncFlags.DiffReport == "" {
		return output.WriteChangesReport(cmd.OutOrStdout(), header, report.Changes, syncFlags.DiffFormat)
	}

	f, err := os.Create(syncFlags.DiffReport)
	if err != nil {
		return err
	}
	if err := output.WriteChangesReport(f, header, report.Changes, syncFlags.DiffFormat); err != nil {
		f.Close()
		return err
	}
	s := diff.Summarize(report.Changes)
	fmt.Fprintf(cmd.ErrOrStderr(), "Change report written to %s (%d changes)\n", syncFlags.DiffReport, s.Total())
	return f.Close()
}
