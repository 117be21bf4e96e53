package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewProbeCommand creates the probe command
func NewProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the token can push to the repository",
		Long: `Fetch the repository with the configured token and report its permissions
and the API rate limit. Exits non-zero when the token cannot push.`,
		RunE: runProbe,
	}

	addTargetFlags(cmd)

	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
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

	logger, err := createLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	repo, probeErr := client.Probe(ctx, cfg.Remote.Owner, cfg.Remote.Repo)
	out := cmd.OutOrStdout()
	if repo != nil && !globalFlags.Quiet {
		fmt.Fprintf(out, "Repository:     %s\n", repo.FullName)
		fmt.Fprintf(out, "Default branch: %s\n", repo.DefaultBranch)
		fmt.Fprintf(out, "Private:        %t\n", repo.Private)
		fmt.Fprintf(out, "Permissions:    pull=%t push=%t admin=%t\n",
			repo.Permissions.Pull, repo.Permissions.Push, repo.Permissions.Admin)
	}
	if rl := client.RateLimit(); rl.Known && !globalFlags.Quiet {
		fmt.Fprintf(out, "Rate limit:     %d/%d remaining, resets %s\n",
			rl.Remaining, rl.Limit, rl.Reset.Local().Format(time.RFC3339))
	}

	if probeErr != nil {
		return fmt.Errorf("probe failed: %w", probeErr)
	}
	return nil
}
