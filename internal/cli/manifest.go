package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdejongh/branchsync/pkg/diff"
	"github.com/sdejongh/branchsync/pkg/digest"
	"github.com/sdejongh/branchsync/pkg/manifest"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/output"
	"github.com/sdejongh/branchsync/pkg/storage"
)

// NewManifestCommand creates the manifest command
func NewManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build and compare manifests",
		Long:  `Build a manifest for a directory, or diff two saved manifests into a change list.`,
	}

	cmd.AddCommand(newManifestBuildCommand())
	cmd.AddCommand(newManifestDiffCommand())

	return cmd
}

func newManifestBuildCommand() *cobra.Command {
	var (
		outPath string
		kind    string
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Build a manifest for a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != string(manifest.KindLocal) && kind != string(manifest.KindRemote) {
				return fmt.Errorf("invalid manifest type: %s (valid: local, remote)", kind)
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("exclude") {
				cfg.Exclude = exclude
			}

			root, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve directory: %w", err)
			}
			backend, err := storage.NewLocal(root)
			if err != nil {
				return fmt.Errorf("failed to open directory: %w", err)
			}
			defer backend.Close()

			logger, err := createLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Close()

			builder := manifest.NewBuilder(
				digest.NewHasher(cfg.Performance.BufferSize),
				manifest.WithExclude(cfg.Exclude),
				manifest.WithWorkers(cfg.Performance.MaxWorkers),
				manifest.WithLogger(logger),
			)
			m, stats, err := builder.Build(cmd.Context(), backend, manifest.Kind(kind), root)
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = "LocalManifest.json"
				if kind == string(manifest.KindRemote) {
					outPath = "RemoteManifest.json"
				}
			}
			if err := manifest.Save(outPath, m); err != nil {
				return err
			}

			if !globalFlags.Quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Manifest written to %s (%d files in %d directories)\n",
					outPath, stats.Files, stats.Directories)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: LocalManifest.json or RemoteManifest.json)")
	cmd.Flags().StringVar(&kind, "type", "local", "manifest type: local, remote")
	cmd.Flags().StringSliceVar(&exclude, "exclude", []string{}, "glob patterns to exclude")

	return cmd
}

func newManifestDiffCommand() *cobra.Command {
	var (
		outPath  string
		priority string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "diff <current.json> <desired.json>",
		Short: "Diff two manifests into a change list",
		Long: `Compute the changes that turn the tree described by the current manifest into
the tree described by the desired one, and save them as a change list.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := models.Priority(priority)
			if p != models.PriorityRemote && p != models.PriorityLocal {
				return fmt.Errorf("invalid priority: %s (valid: REMOTE, LOCAL)", priority)
			}

			current, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			desired, err := manifest.Load(args[1])
			if err != nil {
				return err
			}

			now := time.Now()
			changes := diff.Diff(current, desired, p)
			if err := diff.SaveChangeList(outPath, diff.NewChangeList(changes, now)); err != nil {
				return err
			}

			if globalFlags.Quiet {
				return nil
			}
			header := output.ChangesHeader{Current: args[0], Desired: args[1], Priority: p, Analyzed: now}
			return output.WriteChangesReport(cmd.OutOrStdout(), header, changes, format)
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "Differences.json", "change list output file")
	cmd.Flags().StringVar(&priority, "priority", string(models.PriorityRemote), "priority recorded on each change: REMOTE, LOCAL")
	cmd.Flags().StringVar(&format, "format", "human", "report format printed to stdout: human, json")

	return cmd
}
