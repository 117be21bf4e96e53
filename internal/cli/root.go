// Package cli implements the branchsync command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand assembles the command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "branchsync",
		Short: "Reconcile a local directory with a GitHub branch",
		Long: `branchsync keeps a project directory and a GitHub branch in step.
It snapshots both sides as content-addressed manifests, computes the
differences and either applies the branch to the directory (pull) or
publishes the directory as a single commit on the branch (push).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	AddGlobalFlags(rootCmd)

	rootCmd.AddCommand(NewSyncCommand())
	rootCmd.AddCommand(NewAnalyzeCommand())
	rootCmd.AddCommand(NewManifestCommand())
	rootCmd.AddCommand(NewApplyCommand())
	rootCmd.AddCommand(NewProbeCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code()
	}
	return 2
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
