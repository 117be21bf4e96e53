package cli

import (
	"github.com/spf13/cobra"
)

// NewAnalyzeCommand creates the analyze command
func NewAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute differences without changing anything",
		Long: `Download the branch, build both manifests and write the change list to the
scratch directory without touching the project or the branch.
This is equivalent to sync --analyze-only.`,
		RunE: runAnalyze,
	}

	addTargetFlags(cmd)
	cmd.Flags().StringVar(&syncFlags.Direction, "direction", "pull", "direction the changes would flow: pull or push")
	cmd.Flags().StringSliceVar(&syncFlags.Exclude, "exclude", []string{}, "glob patterns to exclude")
	cmd.Flags().IntVarP(&syncFlags.Parallel, "parallel", "p", 0, "number of parallel workers (default: 4)")
	addReportFlags(cmd)

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	return runCycle(cmd, true)
}
