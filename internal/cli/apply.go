package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdejongh/branchsync/pkg/apply"
	"github.com/sdejongh/branchsync/pkg/diff"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/ratelimit"
	"github.com/sdejongh/branchsync/pkg/storage"
)

// ApplyFlags holds apply command flags
type ApplyFlags struct {
	Source    string
	Dest      string
	DryRun    bool
	Parallel  int
	Bandwidth string
}

var applyFlags ApplyFlags

// NewApplyCommand creates the apply command
func NewApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <changes.json>",
		Short: "Apply a saved change list",
		Long: `Apply a change list produced by analyze or manifest diff: ADD and UPDATE
records copy files from the source directory, REMOVE records delete them from
the destination. Failed records are reported and do not stop the others.`,
		Args: cobra.ExactArgs(1),
		RunE: runApply,
	}

	cmd.Flags().StringVarP(&applyFlags.Source, "source", "s", "", "directory holding the desired content (required)")
	cmd.Flags().StringVarP(&applyFlags.Dest, "dest", "d", "", "directory to change (required)")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("dest")
	cmd.Flags().BoolVar(&applyFlags.DryRun, "dry-run", false, "report what would change without touching files")
	cmd.Flags().IntVarP(&applyFlags.Parallel, "parallel", "p", 0, "number of parallel workers (default: 4)")
	cmd.Flags().StringVar(&applyFlags.Bandwidth, "bandwidth", "", "bandwidth limit (e.g., \"10M\", \"1G\")")

	return cmd
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if applyFlags.Parallel > 0 {
		cfg.Performance.MaxWorkers = applyFlags.Parallel
	}
	if cmd.Flags().Changed("bandwidth") {
		if cfg.Performance.BandwidthLimit, err = parseBandwidth(applyFlags.Bandwidth); err != nil {
			return err
		}
	}

	cl, err := diff.LoadChangeList(args[0])
	if err != nil {
		return err
	}

	source, err := storage.NewLocal(applyFlags.Source)
	if err != nil {
		return fmt.Errorf("failed to open source directory: %w", err)
	}
	defer source.Close()

	dest, err := storage.NewLocal(applyFlags.Dest)
	if err != nil {
		return fmt.Errorf("failed to open destination directory: %w", err)
	}
	defer dest.Close()

	logger, err := createLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	applier := apply.New(
		apply.WithWorkers(cfg.Performance.MaxWorkers),
		apply.WithLimiter(ratelimit.NewLimiter(cfg.Performance.BandwidthLimit)),
		apply.WithDryRun(applyFlags.DryRun),
		apply.WithLogger(logger),
	)
	result, err := applier.Apply(ctx, cl.Differences, source, dest)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !globalFlags.Quiet {
		verb := "Applied"
		if applyFlags.DryRun {
			verb = "Would apply"
		}
		fmt.Fprintf(out, "%s %d of %d changes\n", verb, result.Applied, len(cl.Differences))
	}
	for _, fe := range result.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "  ✗ %s\n", fe.Error())
	}

	if result.Failed > 0 {
		return &ExitError{
			Status: models.StatusPartial,
			Err:    fmt.Errorf("%d of %d changes failed", result.Failed, len(cl.Differences)),
		}
	}
	return nil
}
